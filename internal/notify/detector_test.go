package notify

import (
	"testing"

	"github.com/quietline/presencewatch/internal/model"
)

func testKey() model.SessionKey {
	return model.SessionKey{UserID: 1, ContactID: 1, Platform: model.PlatformMock}
}

func TestObserve_FirstObservationNeverFires(t *testing.T) {
	d := New()
	if d.Observe(testKey(), model.PrimaryDevice, model.StateOffline, true) {
		t.Fatalf("first observation must never fire (no prior state known)")
	}
}

func TestObserve_FiresOnOfflineToOnline(t *testing.T) {
	d := New()
	k := testKey()
	d.Observe(k, model.PrimaryDevice, model.StateOffline, true)
	if !d.Observe(k, model.PrimaryDevice, model.StateOnline, true) {
		t.Fatalf("want fire on OFFLINE -> ONLINE")
	}
}

func TestObserve_FiresOnOfflineToStandby(t *testing.T) {
	d := New()
	k := testKey()
	d.Observe(k, model.PrimaryDevice, model.StateOffline, true)
	if !d.Observe(k, model.PrimaryDevice, model.StateStandby, true) {
		t.Fatalf("want fire on OFFLINE -> STANDBY")
	}
}

func TestObserve_SilentWhenDisabled(t *testing.T) {
	d := New()
	k := testKey()
	d.Observe(k, model.PrimaryDevice, model.StateOffline, true)
	if d.Observe(k, model.PrimaryDevice, model.StateOnline, false) {
		t.Fatalf("must not fire when notifications disabled")
	}
}

func TestObserve_SilentOnNonOfflinePrior(t *testing.T) {
	d := New()
	k := testKey()
	d.Observe(k, model.PrimaryDevice, model.StateCalibrating, true)
	if d.Observe(k, model.PrimaryDevice, model.StateOnline, true) {
		t.Fatalf("must not fire when prior state was not OFFLINE")
	}
}

func TestObserve_AtMostOncePerEdge(t *testing.T) {
	d := New()
	k := testKey()
	d.Observe(k, model.PrimaryDevice, model.StateOffline, true)
	first := d.Observe(k, model.PrimaryDevice, model.StateOnline, true)
	second := d.Observe(k, model.PrimaryDevice, model.StateOnline, true)
	if !first {
		t.Fatalf("want first transition to fire")
	}
	if second {
		t.Fatalf("want repeated ONLINE observation not to re-fire")
	}
}

func TestObserve_UnconditionalMemoryUpdate(t *testing.T) {
	d := New()
	k := testKey()
	d.Observe(k, model.PrimaryDevice, model.StateOffline, true)
	// Disabled: must not fire, but memory still advances to ONLINE.
	d.Observe(k, model.PrimaryDevice, model.StateOnline, false)
	// A later OFFLINE->ONLINE edge requires passing through OFFLINE again.
	d.Observe(k, model.PrimaryDevice, model.StateOffline, true)
	if !d.Observe(k, model.PrimaryDevice, model.StateOnline, true) {
		t.Fatalf("want fire on the fresh OFFLINE -> ONLINE edge")
	}
}

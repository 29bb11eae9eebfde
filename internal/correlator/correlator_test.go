package correlator

import (
	"testing"
	"time"

	"github.com/quietline/presencewatch/internal/model"
)

func testConfig() Config {
	return Config{
		RecentLimit:      3,
		HistoryLimit:     2000,
		MinHistory:       10,
		ThresholdFactor:  1.25,
		ThresholdFloorMS: 80,
		LateWindow:       120 * time.Second,
	}
}

func key() model.SessionKey {
	return model.SessionKey{UserID: 1, ContactID: 2, Platform: model.PlatformMock}
}

// Scenario 1: cold start calibration.
func TestScenario_ColdStartCalibration(t *testing.T) {
	c := New(testConfig())
	k := key()

	for i, probeID := range []string{"p1", "p2", "p3"} {
		sent := int64(i * 1000)
		c.MarkProbeSent(k, probeID, sent)
		upd, ok := c.ApplyReceipt(k, probeID, model.PrimaryDevice, sent+50)
		if !ok {
			t.Fatalf("probe %s: expected resolution", probeID)
		}
		if upd.State != model.StateCalibrating {
			t.Fatalf("probe %s: want CALIBRATING, got %s", probeID, upd.State)
		}
		if upd.MedianMS != 0 || upd.ThresholdMS != 0 {
			t.Fatalf("probe %s: want zero median/threshold, got %d/%d", probeID, upd.MedianMS, upd.ThresholdMS)
		}
		if upd.RTTMS != 50 {
			t.Fatalf("probe %s: want rtt=50, got %d", probeID, upd.RTTMS)
		}
	}
}

// Scenario 2: steady state classification.
func TestScenario_SteadyStateClassification(t *testing.T) {
	c := New(testConfig())
	k := key()

	for i := 0; i < 10; i++ {
		probeID := "seed"
		sent := int64(i * 1000)
		c.MarkProbeSent(k, probeID, sent)
		if _, ok := c.ApplyReceipt(k, probeID, model.PrimaryDevice, sent+100); !ok {
			t.Fatalf("seed probe %d not resolved", i)
		}
	}

	c.MarkProbeSent(k, "online-probe", 20000)
	upd, _ := c.ApplyReceipt(k, "online-probe", model.PrimaryDevice, 20090)
	if upd.State != model.StateOnline {
		t.Fatalf("want ONLINE, got %s (avg=%d threshold=%d)", upd.State, upd.AvgMS, upd.ThresholdMS)
	}

	c.MarkProbeSent(k, "p-300", 21000)
	c.ApplyReceipt(k, "p-300", model.PrimaryDevice, 21300)
	c.MarkProbeSent(k, "p-400", 22000)
	upd2, _ := c.ApplyReceipt(k, "p-400", model.PrimaryDevice, 22400)
	if upd2.State != model.StateStandby {
		t.Fatalf("want STANDBY after two slow receipts, got %s (avg=%d)", upd2.State, upd2.AvgMS)
	}
}

// Scenario 3: single timeout.
func TestScenario_SingleTimeout(t *testing.T) {
	c := New(testConfig())
	k := key()

	c.MarkProbeSent(k, "t1", 0)
	upd := c.MarkTimeout(k, "t1", model.PrimaryDevice, 10000, 10000)
	if upd.State != model.StateTimeout {
		t.Fatalf("want TIMEOUT, got %s", upd.State)
	}
	if upd.RTTMS != 10000 {
		t.Fatalf("want rtt=10000, got %d", upd.RTTMS)
	}
	if upd.TimeoutStreak != 1 {
		t.Fatalf("want streak=1, got %d", upd.TimeoutStreak)
	}
}

// Scenario 4: escalation to OFFLINE.
func TestScenario_EscalationToOffline(t *testing.T) {
	c := New(testConfig())
	k := key()

	c.MarkProbeSent(k, "t1", 0)
	c.MarkTimeout(k, "t1", model.PrimaryDevice, 10000, 10000)

	c.MarkProbeSent(k, "t2", 13000)
	upd := c.MarkTimeout(k, "t2", model.PrimaryDevice, 10000, 23000)
	if upd.State != model.StateOffline {
		t.Fatalf("want OFFLINE, got %s", upd.State)
	}
	if upd.TimeoutStreak != 2 {
		t.Fatalf("want streak=2, got %d", upd.TimeoutStreak)
	}
}

// Scenario 5: recovery after offline resets streak and clears offline.
func TestScenario_Recovery(t *testing.T) {
	c := New(testConfig())
	k := key()

	for i := 0; i < 10; i++ {
		probeID := "seed"
		sent := int64(i * 1000)
		c.MarkProbeSent(k, probeID, sent)
		c.ApplyReceipt(k, probeID, model.PrimaryDevice, sent+100)
	}

	c.MarkProbeSent(k, "t1", 10000)
	c.MarkTimeout(k, "t1", model.PrimaryDevice, 10000, 20000)
	c.MarkProbeSent(k, "t2", 23000)
	upd := c.MarkTimeout(k, "t2", model.PrimaryDevice, 10000, 33000)
	if upd.State != model.StateOffline {
		t.Fatalf("setup: want OFFLINE before recovery, got %s", upd.State)
	}

	c.MarkProbeSent(k, "recover", 24000)
	rec, ok := c.ApplyReceipt(k, "recover", model.PrimaryDevice, 24050)
	if !ok {
		t.Fatalf("recovery receipt should resolve")
	}
	if rec.TimeoutStreak != 0 {
		t.Fatalf("want streak reset to 0, got %d", rec.TimeoutStreak)
	}
	if rec.State != model.StateOnline && rec.State != model.StateStandby {
		t.Fatalf("want ONLINE or STANDBY after recovery, got %s", rec.State)
	}
}

// Scenario 6: late receipt within the late window still resolves and
// resets the streak; outside the window (or unknown probe) it is
// dropped.
func TestScenario_LateReceiptWithinWindow(t *testing.T) {
	cfg := testConfig()
	cfg.LateWindow = 120 * time.Second
	c := New(cfg)
	k := key()

	c.MarkProbeSent(k, "p", 0)
	c.MarkTimeout(k, "p", model.PrimaryDevice, 10000, 10000)

	upd, ok := c.ApplyReceipt(k, "p", model.PrimaryDevice, 15000)
	if !ok {
		t.Fatalf("late receipt within window should resolve")
	}
	if upd.RTTMS != 15000 {
		t.Fatalf("want rtt=15000, got %d", upd.RTTMS)
	}
	if upd.TimeoutStreak != 0 {
		t.Fatalf("want streak reset, got %d", upd.TimeoutStreak)
	}

	_, ok = c.ApplyReceipt(k, "unknown-probe", model.PrimaryDevice, 150000)
	if ok {
		t.Fatalf("unknown probe id should not resolve")
	}
}

// A receipt arriving after the 120s late window has elapsed is dropped.
func TestScenario_LateReceiptOutsideWindow_Dropped(t *testing.T) {
	cfg := testConfig()
	cfg.LateWindow = 120 * time.Second
	c := New(cfg)
	k := key()

	c.MarkProbeSent(k, "p", 0)
	c.MarkTimeout(k, "p", model.PrimaryDevice, 10000, 10000)

	_, ok := c.ApplyReceipt(k, "p", model.PrimaryDevice, 10000+120001)
	if ok {
		t.Fatalf("receipt past the late window should be dropped")
	}
}

// Duplicate receipts for the same probe_id must not double-count.
func TestDuplicateReceipt_DroppedSilently(t *testing.T) {
	c := New(testConfig())
	k := key()

	c.MarkProbeSent(k, "p", 0)
	_, ok := c.ApplyReceipt(k, "p", model.PrimaryDevice, 50)
	if !ok {
		t.Fatalf("first receipt should resolve")
	}
	_, ok = c.ApplyReceipt(k, "p", model.PrimaryDevice, 9999)
	if ok {
		t.Fatalf("duplicate receipt should be dropped")
	}
}

// A receipt that claims to arrive before its send is implausible.
func TestReceiptBeforeSend_Dropped(t *testing.T) {
	c := New(testConfig())
	k := key()

	c.MarkProbeSent(k, "p", 1000)
	_, ok := c.ApplyReceipt(k, "p", model.PrimaryDevice, 500)
	if ok {
		t.Fatalf("receipt before send should be dropped")
	}
}

func TestHistoryAndRecentAreBounded(t *testing.T) {
	cfg := testConfig()
	cfg.RecentLimit = 3
	cfg.HistoryLimit = 5
	c := New(cfg)
	k := key()

	for i := 0; i < 8; i++ {
		probeID := string(rune('a' + i))
		sent := int64(i * 1000)
		c.MarkProbeSent(k, probeID, sent)
		c.ApplyReceipt(k, probeID, model.PrimaryDevice, sent+int64(i))
	}

	views := c.SnapshotDevices(k)
	if len(views) != 1 {
		t.Fatalf("want 1 device, got %d", len(views))
	}
	s := c.session(k)
	if got := len(s.metrics.GlobalHistory); got != 5 {
		t.Fatalf("want global history bounded to 5, got %d", got)
	}
	if got := len(s.metrics.Devices[model.PrimaryDevice].Recent); got != 3 {
		t.Fatalf("want recent bounded to 3, got %d", got)
	}
}

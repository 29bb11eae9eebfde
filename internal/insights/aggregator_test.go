package insights

import (
	"testing"

	"github.com/quietline/presencewatch/internal/model"
)

func testKey() model.SessionKey {
	return model.SessionKey{UserID: 1, ContactID: 1, Platform: model.PlatformMock}
}

func TestObserve_RateLimited(t *testing.T) {
	a := New(Config{WindowSize: 600, BroadcastIntervalMS: 2000})
	k := testKey()

	_, ok := a.Observe(k, model.StateOnline, 50, 1000)
	if !ok {
		t.Fatalf("first observation should emit immediately")
	}
	_, ok = a.Observe(k, model.StateOnline, 60, 1500)
	if ok {
		t.Fatalf("second observation within 2s should be suppressed")
	}
	_, ok = a.Observe(k, model.StateOnline, 70, 3200)
	if !ok {
		t.Fatalf("third observation past 2s should emit")
	}
}

func TestObserve_Summary(t *testing.T) {
	a := New(Config{WindowSize: 600, BroadcastIntervalMS: 0})
	k := testKey()

	states := []model.DeviceState{
		model.StateOnline, model.StateOnline, model.StateTimeout,
		model.StateOffline, model.StateOnline,
	}
	var last model.Insights
	for i, s := range states {
		ins, ok := a.Observe(k, s, int64(50+i), int64(i*1000))
		if !ok {
			t.Fatalf("observation %d should emit (no rate limit configured)", i)
		}
		last = ins
	}
	if last.Total != len(states) {
		t.Fatalf("want total=%d, got %d", len(states), last.Total)
	}
	if last.OnlineRatio != 3.0/5.0 {
		t.Fatalf("want online_ratio=0.6, got %v", last.OnlineRatio)
	}
	if last.TimeoutRate != 2.0/5.0 {
		t.Fatalf("want timeout_rate=0.4, got %v", last.TimeoutRate)
	}
	if last.StreakMax != 2 {
		t.Fatalf("want streak_max=2 (TIMEOUT,OFFLINE consecutive), got %d", last.StreakMax)
	}
}

func TestObserve_WindowBounded(t *testing.T) {
	a := New(Config{WindowSize: 5, BroadcastIntervalMS: 0})
	k := testKey()

	var last model.Insights
	for i := 0; i < 20; i++ {
		ins, _ := a.Observe(k, model.StateOnline, int64(i), int64(i*1000))
		last = ins
	}
	if last.Total != 5 {
		t.Fatalf("want bounded total=5, got %d", last.Total)
	}
}

func TestDestroy_ClearsWindow(t *testing.T) {
	a := New(Config{WindowSize: 10, BroadcastIntervalMS: 0})
	k := testKey()
	a.Observe(k, model.StateOnline, 10, 0)
	a.Destroy(k)
	ins, ok := a.Observe(k, model.StateOnline, 10, 0)
	if !ok || ins.Total != 1 {
		t.Fatalf("want fresh window after destroy, got total=%d ok=%v", ins.Total, ok)
	}
}

// Package insights implements the per-session rolling-window summary
// (online ratio, timeout rate, p50/p95 RTT, jitter, worst streak),
// rate-limited per spec.md §4.8. No direct teacher ancestor — the
// teacher tracked raw metrics only for display — so this is grounded on
// the classifier's percentile helper and the bounded-history trimming
// idiom shared across the correlator and the teacher's own
// RTTHistory/RecentRTTs trimming.
package insights

import (
	"sync"

	"github.com/quietline/presencewatch/internal/classifier"
	"github.com/quietline/presencewatch/internal/model"
)

// Config carries WINDOW_SIZE and BROADCAST_INTERVAL_MS.
type Config struct {
	WindowSize          int
	BroadcastIntervalMS int64
}

type window struct {
	mu              sync.Mutex
	points          []model.WindowSample
	lastBroadcastMS int64
}

// Aggregator owns one rolling window per session_key. The top-level
// mutex only guards the session map itself; each window's own mutex
// serializes the owning SessionRunner's concurrent send/receipt/timeout
// callers, same discipline as Correlator.
type Aggregator struct {
	cfg Config

	mu      sync.Mutex
	windows map[model.SessionKey]*window
}

// New builds an Aggregator for the given tunables.
func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg, windows: make(map[model.SessionKey]*window)}
}

func (a *Aggregator) windowFor(key model.SessionKey) *window {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.windows[key]
	if !ok {
		w = &window{points: make([]model.WindowSample, 0, a.cfg.WindowSize)}
		a.windows[key] = w
	}
	return w
}

// Destroy drops a session's window (called on session stop).
func (a *Aggregator) Destroy(key model.SessionKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.windows, key)
}

// Observe appends a point to the session's window and, if at least
// BROADCAST_INTERVAL_MS has passed since the last emission, returns a
// recomputed summary. Returns ok=false when the rate limit suppresses
// emission this time.
//
// Safe for concurrent use: calls for the same session_key are
// serialized by that session's window mutex, like the correlator.
func (a *Aggregator) Observe(key model.SessionKey, state model.DeviceState, rttMS int64, nowMS int64) (model.Insights, bool) {
	w := a.windowFor(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.points = append(w.points, model.WindowSample{State: state, RTTMS: rttMS})
	if len(w.points) > a.cfg.WindowSize {
		w.points = w.points[len(w.points)-a.cfg.WindowSize:]
	}

	if w.lastBroadcastMS != 0 && nowMS-w.lastBroadcastMS < a.cfg.BroadcastIntervalMS {
		return model.Insights{}, false
	}
	w.lastBroadcastMS = nowMS

	return summarize(w.points, nowMS), true
}

func summarize(points []model.WindowSample, nowMS int64) model.Insights {
	total := len(points)
	if total == 0 {
		return model.Insights{Total: 0, ComputedAtMS: nowMS}
	}

	var online, timeoutLike int
	rtts := make([]int64, 0, total)
	for _, p := range points {
		switch p.State {
		case model.StateOnline:
			online++
		case model.StateTimeout, model.StateOffline:
			timeoutLike++
		}
		if p.RTTMS > 0 {
			rtts = append(rtts, p.RTTMS)
		}
	}

	var medianRTT, jitter int64
	if len(rtts) > 0 {
		p50 := classifier.Percentile(rtts, 50)
		p95 := classifier.Percentile(rtts, 95)
		medianRTT = p50
		jitter = p95 - p50
		if jitter < 0 {
			jitter = 0
		}
	}

	return model.Insights{
		Total:        total,
		OnlineRatio:  float64(online) / float64(total),
		TimeoutRate:  float64(timeoutLike) / float64(total),
		MedianRTTMS:  medianRTT,
		JitterMS:     jitter,
		StreakMax:    worstStreak(points),
		ComputedAtMS: nowMS,
	}
}

// worstStreak finds the longest run of consecutive TIMEOUT/OFFLINE
// points in the window.
func worstStreak(points []model.WindowSample) int {
	best, cur := 0, 0
	for _, p := range points {
		if p.State == model.StateTimeout || p.State == model.StateOffline {
			cur++
			if cur > best {
				best = cur
			}
		} else {
			cur = 0
		}
	}
	return best
}

// Package correlator turns (probe_sent, receipt) pairs into RTT samples
// and classified device states, per session_key. Grounded on the
// teacher's WhatsAppTracker (deviceMetrics, globalRTTHistory,
// probeStartTimes, addMeasurement/markDeviceOffline), generalized from a
// single global tracker to many concurrently-owned sessions as spec.md
// §4.2 requires, and extended with the late-bucket and timeout-streak
// escalation the teacher never implemented.
package correlator

import (
	"sync"
	"time"

	"github.com/quietline/presencewatch/internal/classifier"
	"github.com/quietline/presencewatch/internal/model"
)

// Config is the subset of the core's tunables the correlator needs.
type Config struct {
	RecentLimit      int
	HistoryLimit     int
	MinHistory       int
	ThresholdFactor  float64
	ThresholdFloorMS int64
	LateWindow       time.Duration
}

func (c Config) classifierParams() classifier.Params {
	return classifier.Params{
		MinHistory:       c.MinHistory,
		ThresholdFactor:  c.ThresholdFactor,
		ThresholdFloorMS: c.ThresholdFloorMS,
	}
}

// Update is what ApplyReceipt/MarkTimeout return: enough to build a
// TrackerPoint.
type Update struct {
	DeviceID      string
	RTTMS         int64
	AvgMS         int64
	State         model.DeviceState
	MedianMS      int64
	ThresholdMS   int64
	TimeoutStreak int
	UpdatedAtMS   int64
}

type lateEntry struct {
	sentAtMS   int64
	removedAtMS int64
}

type sessionState struct {
	mu      sync.Mutex
	metrics *model.SessionMetrics
	pending map[string]*model.PendingProbe
	late    map[string]lateEntry
}

// Correlator owns per-session_key state for every active session in the
// process. The top-level mutex only guards the session map itself
// (creation/deletion); each session's own reads/writes are serialized by
// that session's own mutex, since a session's send-loop, receipt-loop,
// and timeout tasks run concurrently with each other.
type Correlator struct {
	cfg Config

	mu       sync.Mutex
	sessions map[model.SessionKey]*sessionState
}

// New builds a Correlator for the given tunables.
func New(cfg Config) *Correlator {
	return &Correlator{cfg: cfg, sessions: make(map[model.SessionKey]*sessionState)}
}

func (c *Correlator) session(key model.SessionKey) *sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[key]
	if !ok {
		s = &sessionState{
			metrics: model.NewSessionMetrics(),
			pending: make(map[string]*model.PendingProbe),
			late:    make(map[string]lateEntry),
		}
		c.sessions[key] = s
	}
	return s
}

// Destroy drops all in-memory state for a session_key, matching
// SessionMetrics' lifecycle: "destroyed when the session is stopped."
func (c *Correlator) Destroy(key model.SessionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, key)
}

// MarkProbeSent records a PendingProbe for later resolution.
func (c *Correlator) MarkProbeSent(key model.SessionKey, probeID string, sentAtMS int64) {
	s := c.session(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[probeID] = &model.PendingProbe{SessionKey: key, ProbeID: probeID, SentAtMS: sentAtMS}
}

// IsProbePending reports whether probeID is still awaiting resolution.
func (c *Correlator) IsProbePending(key model.SessionKey, probeID string) bool {
	s := c.session(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[probeID]
	return ok
}

// ApplyReceipt resolves a receipt against a pending (or recently timed
// out) probe. Returns ok=false when the probe is unknown (already
// resolved, or outside the late window) — spec.md's "silent dedup".
func (c *Correlator) ApplyReceipt(key model.SessionKey, probeID, deviceID string, receivedAtMS int64) (Update, bool) {
	s := c.session(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	sentAtMS, ok := c.resolveSentTime(s, probeID, receivedAtMS)
	if !ok {
		return Update{}, false
	}
	if receivedAtMS < sentAtMS {
		// A receipt before its own send record is implausible; drop it.
		return Update{}, false
	}

	rtt := receivedAtMS - sentAtMS
	if rtt < 0 {
		rtt = 0
	}

	device := s.deviceFor(deviceID)
	device.Recent = appendBounded(device.Recent, rtt, c.cfg.RecentLimit)
	s.metrics.GlobalHistory = appendBounded(s.metrics.GlobalHistory, rtt, c.cfg.HistoryLimit)
	device.LastRTT = rtt
	device.UpdatedAtMS = receivedAtMS
	device.TimeoutStreak = 0
	device.Offline = false

	result := classifier.Classify(s.metrics.GlobalHistory, device.Recent, false, c.cfg.classifierParams())
	return Update{
		DeviceID:      deviceID,
		RTTMS:         rtt,
		AvgMS:         result.AvgMS,
		State:         model.DeviceState(result.State),
		MedianMS:      result.BaselineMS,
		ThresholdMS:   result.ThresholdMS,
		TimeoutStreak: 0,
		UpdatedAtMS:   receivedAtMS,
	}, true
}

// resolveSentTime looks the probe up in the pending map first, then the
// late bucket (pruning stale late entries as it goes), matching
// spec.md's "look up PendingProbe; if absent, try a late bucket" order.
func (c *Correlator) resolveSentTime(s *sessionState, probeID string, now int64) (int64, bool) {
	if p, ok := s.pending[probeID]; ok {
		delete(s.pending, probeID)
		return p.SentAtMS, true
	}
	c.pruneLate(s, now)
	if entry, ok := s.late[probeID]; ok {
		delete(s.late, probeID)
		return entry.sentAtMS, true
	}
	return 0, false
}

func (c *Correlator) pruneLate(s *sessionState, nowMS int64) {
	cutoff := nowMS - c.cfg.LateWindow.Milliseconds()
	for id, entry := range s.late {
		if entry.removedAtMS < cutoff {
			delete(s.late, id)
		}
	}
}

// MarkTimeout removes a probe from pending, stashes it in the late
// bucket for LATE_WINDOW_MS, and escalates the device's timeout streak.
func (c *Correlator) MarkTimeout(key model.SessionKey, probeID, deviceID string, timeoutMS, nowMS int64) Update {
	s := c.session(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	sentAtMS := nowMS - timeoutMS
	if p, ok := s.pending[probeID]; ok {
		sentAtMS = p.SentAtMS
		delete(s.pending, probeID)
	}
	s.late[probeID] = lateEntry{sentAtMS: sentAtMS, removedAtMS: nowMS}

	device := s.deviceFor(deviceID)
	device.LastRTT = timeoutMS
	device.TimeoutStreak++
	device.Offline = device.TimeoutStreak >= 2
	device.UpdatedAtMS = nowMS

	state := model.StateTimeout
	if device.Offline {
		state = model.StateOffline
	}

	result := classifier.Classify(s.metrics.GlobalHistory, device.Recent, device.Offline, c.cfg.classifierParams())
	return Update{
		DeviceID:      deviceID,
		RTTMS:         timeoutMS,
		AvgMS:         result.AvgMS,
		State:         state,
		MedianMS:      result.BaselineMS,
		ThresholdMS:   result.ThresholdMS,
		TimeoutStreak: device.TimeoutStreak,
		UpdatedAtMS:   nowMS,
	}
}

// SnapshotDevices reports every known device's classified state,
// patched to TIMEOUT/OFFLINE when applicable, per spec.md §4.2.
func (c *Correlator) SnapshotDevices(key model.SessionKey) []model.DeviceView {
	s := c.session(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]model.DeviceView, 0, len(s.metrics.Devices))
	for id, device := range s.metrics.Devices {
		result := classifier.Classify(s.metrics.GlobalHistory, device.Recent, device.Offline, c.cfg.classifierParams())
		state := model.DeviceState(result.State)
		if device.TimeoutStreak > 0 {
			if device.Offline {
				state = model.StateOffline
			} else {
				state = model.StateTimeout
			}
		}
		views = append(views, model.DeviceView{
			DeviceID:      id,
			State:         state,
			LastRTT:       device.LastRTT,
			AvgMS:         result.AvgMS,
			MedianMS:      result.BaselineMS,
			ThresholdMS:   result.ThresholdMS,
			TimeoutStreak: device.TimeoutStreak,
			Offline:       device.Offline,
			UpdatedAtMS:   device.UpdatedAtMS,
		})
	}
	return views
}

// GlobalStats reports the session's current baseline/threshold pair.
func (c *Correlator) GlobalStats(key model.SessionKey) (baseline, threshold int64) {
	s := c.session(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return baselineAndThreshold(s.metrics.GlobalHistory, c.cfg)
}

func baselineAndThreshold(history []int64, cfg Config) (int64, int64) {
	r := classifier.Classify(history, nil, false, cfg.classifierParams())
	return r.BaselineMS, r.ThresholdMS
}

func (s *sessionState) deviceFor(deviceID string) *model.DeviceMetrics {
	d, ok := s.metrics.Devices[deviceID]
	if !ok {
		d = &model.DeviceMetrics{DeviceID: deviceID, Recent: make([]int64, 0)}
		s.metrics.Devices[deviceID] = d
	}
	return d
}

func appendBounded(xs []int64, x int64, limit int) []int64 {
	xs = append(xs, x)
	if len(xs) > limit {
		xs = xs[len(xs)-limit:]
	}
	return xs
}

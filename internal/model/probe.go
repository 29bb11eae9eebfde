package model

// PendingProbe records one outstanding probe awaiting a receipt or a
// timeout. Removed by whichever of apply_receipt / mark_timeout reaches
// it first.
type PendingProbe struct {
	SessionKey        SessionKey
	ProbeID           string
	SentAtMS          int64
	PlatformMessageID *string
	PlatformMessageTS *int64
}

// Probe is the durable row persisted by ProbeStore: everything needed to
// resolve a platform receipt back to a session, plus the set-once
// delivered/read timestamps ReceiptService fills in as they arrive.
//
// Fields beyond spec.md's bare PendingProbe are carried over from the
// alembic migration history in original_source/ (platform_message_id,
// probe_id on tracker_points, send_response) — supplemental detail the
// distilled spec omits but the original system persists.
type Probe struct {
	UserID            int64
	ContactID         int64
	Platform          Platform
	ProbeID           string
	SentAtMS          int64
	PlatformMessageID *string
	PlatformMessageTS *int64
	SendResponse      *string
	DeliveredAtMS     *int64
	ReadAtMS          *int64
}

// DeviceMetrics is the per-device rolling state inside a SessionMetrics.
type DeviceMetrics struct {
	DeviceID      string
	LastRTT       int64
	Recent        []int64 // bounded to RECENT_LIMIT
	UpdatedAtMS   int64
	TimeoutStreak int
	Offline       bool
}

// SessionMetrics is the full per-session_key correlator state.
type SessionMetrics struct {
	GlobalHistory []int64 // bounded to HISTORY_LIMIT
	Devices       map[string]*DeviceMetrics
}

// NewSessionMetrics returns an empty, ready-to-use SessionMetrics.
func NewSessionMetrics() *SessionMetrics {
	return &SessionMetrics{
		GlobalHistory: make([]int64, 0),
		Devices:       make(map[string]*DeviceMetrics),
	}
}

// DeviceView is a read-only snapshot of one device's classified state,
// returned by Correlator.SnapshotDevices.
type DeviceView struct {
	DeviceID      string
	State         DeviceState
	LastRTT       int64
	AvgMS         int64
	MedianMS      int64
	ThresholdMS   int64
	TimeoutStreak int
	Offline       bool
	UpdatedAtMS   int64
}

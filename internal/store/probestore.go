// Package store defines the ProbeStore contract (spec.md §6, the
// durable probe index external collaborator) and a sqlite3-backed
// implementation. Grounded on the teacher's own sqlite-backed whatsmeow
// session store (mattn/go-sqlite3) applied to a new schema: probes and
// their resolved tracker points instead of signal-protocol state.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by the Find* lookups when no matching probe
// exists.
var ErrNotFound = errors.New("store: probe not found")

// ProbeStore is the durable probe index external collaborator. All
// writes must be idempotent on (platform, probe_id) and monotone
// (set-once) on delivered_at_ms / read_at_ms, per spec.md §6.
type ProbeStore interface {
	InsertProbe(ctx context.Context, p InsertProbeParams) error
	FindByPlatformTS(ctx context.Context, platform string, ts int64) (*ProbeRow, error)
	FindByPlatformMessageID(ctx context.Context, platform, id string) (*ProbeRow, error)
	MarkDelivered(ctx context.Context, probeID string, deliveredAtMS int64) error
	MarkRead(ctx context.Context, probeID string, readAtMS int64) error
	AddPoint(ctx context.Context, p AddPointParams) error
}

// InsertProbeParams is the full row ProbeStore persists on send.
type InsertProbeParams struct {
	UserID            int64
	ContactID         int64
	Platform          string
	ProbeID           string
	SentAtMS          int64
	PlatformMessageID *string
	PlatformMessageTS *int64
	SendResponse      *string
}

// ProbeRow is what a Find* lookup returns: enough to route a resolved
// receipt back to its owning session.
type ProbeRow struct {
	UserID            int64
	ContactID         int64
	Platform          string
	ProbeID           string
	SentAtMS          int64
	PlatformMessageID *string
	PlatformMessageTS *int64
	DeliveredAtMS     *int64
	ReadAtMS          *int64
}

// AddPointParams persists one TrackerPoint, mirroring spec.md §6's
// add_point contract.
type AddPointParams struct {
	UserID        int64
	ContactID     int64
	Platform      string
	TimestampMS   int64
	DeviceID      string
	State         string
	RTTMS         int64
	AvgMS         int64
	MedianMS      int64
	ThresholdMS   int64
	TimeoutStreak *int
	ProbeID       *string
}

// Package mock implements an in-process Adapter with no external
// dependencies, for local development and tests. Grounded on the
// teacher's own sendDeleteProbe/handleReceipt pair, but looped back
// in-process instead of round-tripping through a real platform.
package mock

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quietline/presencewatch/internal/adapter"
)

// Behavior controls how the mock responds to each probe, letting tests
// drive specific scenarios deterministically.
type Behavior int

const (
	// BehaviorEcho immediately replies "delivered" with a small random
	// jitter, simulating a consistently-online contact.
	BehaviorEcho Behavior = iota
	// BehaviorSilent never replies, simulating an offline contact (the
	// caller's own timeout task is what resolves these probes).
	BehaviorSilent
)

// Adapter is the mock platform's Adapter implementation.
type Adapter struct {
	behavior Behavior
	jitterMS int64

	mu       sync.Mutex
	receipts chan adapter.Receipt
	closed   bool
}

// New builds a mock Adapter. jitterMS bounds the random delay added
// before an echoed receipt, simulating real network variance.
func New(behavior Behavior, jitterMS int64) *Adapter {
	return &Adapter{
		behavior: behavior,
		jitterMS: jitterMS,
		receipts: make(chan adapter.Receipt, 64),
	}
}

// SendProbe synthesizes a probe send and, for BehaviorEcho, schedules a
// delivered receipt after a small jittered delay.
func (a *Adapter) SendProbe(ctx context.Context) (adapter.SendResult, error) {
	probeID := uuid.NewString()
	sentAt := time.Now().UnixMilli()

	if a.behavior == BehaviorEcho {
		delay := time.Duration(0)
		if a.jitterMS > 0 {
			delay = time.Duration(rand.Int63n(a.jitterMS)) * time.Millisecond
		}
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			a.mu.Lock()
			defer a.mu.Unlock()
			if a.closed {
				return
			}
			select {
			case a.receipts <- adapter.Receipt{
				ProbeID:      probeID,
				DeviceID:     "primary",
				ReceivedAtMS: time.Now().UnixMilli(),
				Status:       adapter.StatusDelivered,
			}:
			default:
			}
		}()
	}

	return adapter.SendResult{ProbeID: probeID, SentAtMS: sentAt}, nil
}

// Receipts returns the channel of synthesized receipts.
func (a *Adapter) Receipts() <-chan adapter.Receipt { return a.receipts }

// GetProfile is unsupported by the mock.
func (a *Adapter) GetProfile(ctx context.Context) (*adapter.Profile, error) { return nil, nil }

// GetPresence is unsupported by the mock.
func (a *Adapter) GetPresence(ctx context.Context) (*adapter.Presence, error) { return nil, nil }

// Close is idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.receipts)
	return nil
}

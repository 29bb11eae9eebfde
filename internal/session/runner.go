// Package session implements SessionRunner and SessionSupervisor
// (spec.md §4.3/§4.4): the per-(user,contact,platform) send/receipt/
// timeout task tree, and the map that starts, replaces, and stops them.
// No single teacher ancestor drives this exact shape — the teacher ran
// one hard-coded probe loop for its whole process — but the goroutine
// lifecycle discipline (context cancellation cascading through a
// WaitGroup-tracked task tree, logged-not-rethrown crashes) follows the
// pack's own worker/supervisor idioms, generalized to the many
// concurrent per-session task trees spec.md §5 describes.
package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quietline/presencewatch/internal/adapter"
	"github.com/quietline/presencewatch/internal/config"
	"github.com/quietline/presencewatch/internal/correlator"
	"github.com/quietline/presencewatch/internal/insights"
	"github.com/quietline/presencewatch/internal/model"
	"github.com/quietline/presencewatch/internal/notify"
	"github.com/quietline/presencewatch/internal/realtime"
	"github.com/quietline/presencewatch/internal/store"
)

// Runner drives one session_key's send loop, receipt loop, and the
// per-probe timeout tasks they spawn.
type Runner struct {
	key     model.SessionKey
	adapter adapter.Adapter
	cfg     *config.Config
	log     zerolog.Logger

	correlator *correlator.Correlator
	aggregator *insights.Aggregator
	detector   *notify.Detector
	mailer     *notify.Mailer
	probes     store.ProbeStore
	fanout     *realtime.Fanout
	contacts   model.ContactDirectory

	wg sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]chan struct{}
	streak  int
}

// Deps bundles the shared collaborators every Runner needs; constructed
// once per process and reused across sessions.
type Deps struct {
	Correlator *correlator.Correlator
	Aggregator *insights.Aggregator
	Detector   *notify.Detector
	Mailer     *notify.Mailer
	Probes     store.ProbeStore
	Fanout     *realtime.Fanout
	Contacts   model.ContactDirectory
}

// NewRunner builds a Runner for one session_key. The adapter must
// already be live (created via the platform's Factory) and is closed by
// the Runner when it stops.
func NewRunner(key model.SessionKey, ad adapter.Adapter, cfg *config.Config, deps Deps, log zerolog.Logger) *Runner {
	return &Runner{
		key:        key,
		adapter:    ad,
		cfg:        cfg,
		log:        log.With().Str("session", key.String()).Logger(),
		correlator: deps.Correlator,
		aggregator: deps.Aggregator,
		detector:   deps.Detector,
		mailer:     deps.Mailer,
		probes:     deps.Probes,
		fanout:     deps.Fanout,
		contacts:   deps.Contacts,
		cancels:    make(map[string]chan struct{}),
	}
}

// Run drives the session until ctx is cancelled, then tears it down:
// the send loop exits, the receipt loop returns, every outstanding
// timeout task is cancelled and awaited, and per-session state in the
// shared collaborators is destroyed. Safe to run in its own goroutine;
// returns only once fully stopped.
func (r *Runner) Run(ctx context.Context) {
	r.wg.Add(1)
	go r.receiptLoop(ctx)

	r.sendLoop(ctx)
	r.wg.Wait()

	r.correlator.Destroy(r.key)
	r.aggregator.Destroy(r.key)
	// detector state (NotifyLastState) is deliberately NOT destroyed here:
	// it persists for the process lifetime, not the session's, so a
	// restarted session still recognizes an OFFLINE->ONLINE/STANDBY edge
	// instead of rediscovering the device as new every time Supervisor
	// replaces a runner.
	if err := r.adapter.Close(); err != nil {
		r.log.Warn().Err(err).Msg("adapter close failed")
	}
}

func (r *Runner) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := r.adapter.SendProbe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn().Err(err).Msg("send probe failed, retrying after normal interval")
			if !r.sleep(ctx, r.cfg.StreakBackoff(0)) {
				return
			}
			continue
		}

		r.correlator.MarkProbeSent(r.key, result.ProbeID, result.SentAtMS)
		platformTS := result.SentAtMS
		if err := r.probes.InsertProbe(ctx, store.InsertProbeParams{
			UserID: r.key.UserID, ContactID: r.key.ContactID, Platform: string(r.key.Platform),
			ProbeID: result.ProbeID, SentAtMS: result.SentAtMS,
			PlatformMessageID: result.PlatformMessageID, PlatformMessageTS: &platformTS,
		}); err != nil {
			r.log.Warn().Err(err).Str("probe_id", result.ProbeID).Msg("persist probe failed")
		}

		cancelCh := make(chan struct{})
		r.mu.Lock()
		r.cancels[result.ProbeID] = cancelCh
		r.mu.Unlock()

		r.wg.Add(1)
		go r.timeoutTask(ctx, result.ProbeID, cancelCh)

		streak := r.currentStreak()
		interval := r.cfg.StreakBackoff(streak)
		if streak == 0 {
			interval += r.jitter()
		}
		if !r.sleep(ctx, interval) {
			return
		}
	}
}

func (r *Runner) jitter() time.Duration {
	upper := r.cfg.Jitter()
	if upper <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(upper)))
}

func (r *Runner) currentStreak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streak
}

// sleep waits d or returns false if ctx is cancelled first.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (r *Runner) receiptLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case receipt, ok := <-r.adapter.Receipts():
			if !ok {
				return
			}
			r.handleReceipt(ctx, receipt)
		}
	}
}

func (r *Runner) handleReceipt(ctx context.Context, receipt adapter.Receipt) {
	r.mu.Lock()
	if cancelCh, ok := r.cancels[receipt.ProbeID]; ok {
		close(cancelCh)
		delete(r.cancels, receipt.ProbeID)
	}
	r.mu.Unlock()

	update, ok := r.correlator.ApplyReceipt(r.key, receipt.ProbeID, receipt.DeviceID, receipt.ReceivedAtMS)
	if !ok {
		return
	}

	switch receipt.Status {
	case adapter.StatusDelivered:
		if err := r.probes.MarkDelivered(ctx, receipt.ProbeID, receipt.ReceivedAtMS); err != nil {
			r.log.Warn().Err(err).Str("probe_id", receipt.ProbeID).Msg("mark delivered failed")
		}
	case adapter.StatusRead:
		if err := r.probes.MarkRead(ctx, receipt.ProbeID, receipt.ReceivedAtMS); err != nil {
			r.log.Warn().Err(err).Str("probe_id", receipt.ProbeID).Msg("mark read failed")
		}
	}

	probeID := receipt.ProbeID
	r.emit(ctx, update, &probeID)
}

func (r *Runner) timeoutTask(ctx context.Context, probeID string, cancelCh chan struct{}) {
	defer r.wg.Done()
	select {
	case <-ctx.Done():
		return
	case <-cancelCh:
		return
	case <-time.After(r.cfg.Timeout()):
	}

	r.mu.Lock()
	delete(r.cancels, probeID)
	r.mu.Unlock()

	update := r.correlator.MarkTimeout(r.key, probeID, model.PrimaryDevice, r.cfg.TimeoutMS, time.Now().UnixMilli())
	r.emit(ctx, update, &probeID)
}

// emit runs the four-step sequence spec.md §4.3 describes: persist,
// fan out the point, feed InsightsAggregator, and — for the primary
// device only — feed NotifyEdgeDetector.
func (r *Runner) emit(ctx context.Context, update correlator.Update, probeID *string) {
	streak := update.TimeoutStreak
	point := model.TrackerPoint{
		TimestampMS: update.UpdatedAtMS, DeviceID: update.DeviceID, State: update.State,
		RTTMS: update.RTTMS, AvgMS: update.AvgMS, MedianMS: update.MedianMS, ThresholdMS: update.ThresholdMS,
		TimeoutStreak: &streak, ProbeID: probeID,
	}

	if err := r.probes.AddPoint(ctx, store.AddPointParams{
		UserID: r.key.UserID, ContactID: r.key.ContactID, Platform: string(r.key.Platform),
		TimestampMS: point.TimestampMS, DeviceID: point.DeviceID, State: string(point.State),
		RTTMS: point.RTTMS, AvgMS: point.AvgMS, MedianMS: point.MedianMS, ThresholdMS: point.ThresholdMS,
		TimeoutStreak: &streak, ProbeID: probeID,
	}); err != nil {
		r.log.Warn().Err(err).Msg("persist tracker point failed")
	}

	r.fanout.BroadcastToUser(r.key.UserID, realtime.Envelope{
		Type: realtime.EventTrackerPoint, ContactID: r.key.ContactID, Platform: string(r.key.Platform), Point: point,
	})

	if summary, ok := r.aggregator.Observe(r.key, update.State, update.RTTMS, update.UpdatedAtMS); ok {
		r.fanout.BroadcastToUser(r.key.UserID, realtime.Envelope{
			Type: realtime.EventInsightsUpdate, ContactID: r.key.ContactID, Platform: string(r.key.Platform), Insights: summary,
		})
	}

	if update.DeviceID != model.PrimaryDevice {
		return
	}

	r.mu.Lock()
	r.streak = update.TimeoutStreak
	r.mu.Unlock()

	r.notifyIfEdge(ctx, update)
}

func (r *Runner) notifyIfEdge(ctx context.Context, update correlator.Update) {
	email, enabled, label, err := r.contacts.NotifyTarget(ctx, r.key.UserID, r.key.ContactID)
	if err != nil {
		r.log.Warn().Err(err).Msg("resolve notify target failed")
		enabled = false
	}

	fired := r.detector.Observe(r.key, update.DeviceID, update.State, enabled)
	if !fired {
		return
	}

	r.mailer.SendAsync(ctx, model.Notification{
		SessionKey: r.key, DeviceID: update.DeviceID, ContactLabel: label, ContactTarget: email,
		FromState: model.StateOffline, ToState: update.State,
		RTTMS: update.RTTMS, AvgMS: update.AvgMS, MedianMS: update.MedianMS, ThresholdMS: update.ThresholdMS,
		TimeoutStreak: update.TimeoutStreak, TimestampMS: update.UpdatedAtMS,
	})
}

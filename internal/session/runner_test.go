package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/quietline/presencewatch/internal/adapter/mock"
	"github.com/quietline/presencewatch/internal/config"
	"github.com/quietline/presencewatch/internal/correlator"
	"github.com/quietline/presencewatch/internal/insights"
	"github.com/quietline/presencewatch/internal/model"
	"github.com/quietline/presencewatch/internal/notify"
	"github.com/quietline/presencewatch/internal/realtime"
	"github.com/quietline/presencewatch/internal/store"
)

type stubContacts struct{}

func (stubContacts) NotifyTarget(ctx context.Context, userID, contactID int64) (string, bool, string, error) {
	return "alice@example.com", true, "Alice", nil
}

func (stubContacts) PlatformTarget(ctx context.Context, userID, contactID int64, platform model.Platform) (string, error) {
	return "+15555550100", nil
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return Deps{
		Correlator: correlator.New(correlator.Config{RecentLimit: 3, HistoryLimit: 2000, MinHistory: 10, ThresholdFactor: 1.25, ThresholdFloorMS: 80, LateWindow: 120 * time.Second}),
		Aggregator: insights.New(insights.Config{WindowSize: 600, BroadcastIntervalMS: 2000}),
		Detector:   notify.New(),
		Mailer:     notify.NewMailer("", 0, "presencewatch@localhost", zerolog.Nop()),
		Probes:     s,
		Fanout:     realtime.New(),
		Contacts:   stubContacts{},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		TimeoutMS: 50, BaseIntervalS: 0.05, JitterS: 0, StreakBackoff1S: 0.05, StreakBackoff2S: 0.05,
		HistoryLimit: 2000, RecentLimit: 3, MinHistory: 10, ThresholdFactor: 1.25, ThresholdFloorMS: 80,
		WindowSize: 600, BroadcastIntervalMS: 2000, LateWindowMS: 120000, QueueCap: 10000, BackoffMaxS: 1,
	}
}

func TestRunner_EchoAdapterProducesPoints(t *testing.T) {
	deps := testDeps(t)
	cfg := testConfig()
	key := model.SessionKey{UserID: 1, ContactID: 2, Platform: model.PlatformMock}

	sub := realtime.NewSubscriber(1, 16)
	deps.Fanout.Subscribe(sub)

	ad := mock.New(mock.BehaviorEcho, 5)
	runner := NewRunner(key, ad, cfg, deps, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	runner.Run(ctx)

	require.NotEmpty(t, sub.Send)
}

func TestRunner_SilentAdapterEscalatesToOffline(t *testing.T) {
	deps := testDeps(t)
	cfg := testConfig()
	key := model.SessionKey{UserID: 1, ContactID: 3, Platform: model.PlatformMock}

	sub := realtime.NewSubscriber(1, 64)
	deps.Fanout.Subscribe(sub)

	ad := mock.New(mock.BehaviorSilent, 0)
	runner := NewRunner(key, ad, cfg, deps, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()
	runner.Run(ctx)

	sawOffline := false
	close(sub.Send)
	for env := range sub.Send {
		if point, ok := env.Point.(model.TrackerPoint); ok && point.State == model.StateOffline {
			sawOffline = true
		}
	}
	require.True(t, sawOffline, "expected at least one OFFLINE tracker point after repeated timeouts")
}

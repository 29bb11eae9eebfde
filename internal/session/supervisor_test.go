package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/quietline/presencewatch/internal/adapter/mock"
	"github.com/quietline/presencewatch/internal/model"
)

func TestSupervisor_StartThenIsRunning(t *testing.T) {
	deps := testDeps(t)
	cfg := testConfig()
	key := model.SessionKey{UserID: 1, ContactID: 1, Platform: model.PlatformMock}

	sup := NewSupervisor(zerolog.Nop())
	sup.Start(context.Background(), key, func(ctx context.Context) *Runner {
		return NewRunner(key, mock.New(mock.BehaviorSilent, 0), cfg, deps, zerolog.Nop())
	})

	require.True(t, sup.IsRunning(key))
	sup.Stop(key)
	require.False(t, sup.IsRunning(key))
}

func TestSupervisor_StartReplacesExisting(t *testing.T) {
	deps := testDeps(t)
	cfg := testConfig()
	key := model.SessionKey{UserID: 1, ContactID: 1, Platform: model.PlatformMock}

	sup := NewSupervisor(zerolog.Nop())
	sup.Start(context.Background(), key, func(ctx context.Context) *Runner {
		return NewRunner(key, mock.New(mock.BehaviorSilent, 0), cfg, deps, zerolog.Nop())
	})
	require.True(t, sup.IsRunning(key))

	sup.Start(context.Background(), key, func(ctx context.Context) *Runner {
		return NewRunner(key, mock.New(mock.BehaviorSilent, 0), cfg, deps, zerolog.Nop())
	})
	require.True(t, sup.IsRunning(key))

	sup.Stop(key)
}

func TestSupervisor_ListRunning(t *testing.T) {
	deps := testDeps(t)
	cfg := testConfig()
	keyA := model.SessionKey{UserID: 5, ContactID: 1, Platform: model.PlatformMock}
	keyB := model.SessionKey{UserID: 5, ContactID: 2, Platform: model.PlatformMock}

	sup := NewSupervisor(zerolog.Nop())
	sup.Start(context.Background(), keyA, func(ctx context.Context) *Runner {
		return NewRunner(keyA, mock.New(mock.BehaviorSilent, 0), cfg, deps, zerolog.Nop())
	})
	sup.Start(context.Background(), keyB, func(ctx context.Context) *Runner {
		return NewRunner(keyB, mock.New(mock.BehaviorSilent, 0), cfg, deps, zerolog.Nop())
	})

	running := sup.ListRunning(5)
	require.Len(t, running, 2)

	sup.StopAllForContact(5, 1)
	sup.StopAllForContact(5, 2)
}

func TestSupervisor_StopWaitsForCleanup(t *testing.T) {
	deps := testDeps(t)
	cfg := testConfig()
	key := model.SessionKey{UserID: 9, ContactID: 9, Platform: model.PlatformMock}

	sup := NewSupervisor(zerolog.Nop())
	sup.Start(context.Background(), key, func(ctx context.Context) *Runner {
		return NewRunner(key, mock.New(mock.BehaviorEcho, 5), cfg, deps, zerolog.Nop())
	})

	time.Sleep(20 * time.Millisecond)
	sup.Stop(key)
	require.False(t, sup.IsRunning(key))
}

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quietline/presencewatch/internal/model"
)

func TestContactStore_NotifyTarget_Unknown(t *testing.T) {
	cs, err := NewContactStore(":memory:")
	require.NoError(t, err)
	defer cs.Close()

	email, enabled, label, err := cs.NotifyTarget(context.Background(), 1, 2)
	require.NoError(t, err)
	require.False(t, enabled)
	require.Empty(t, email)
	require.Empty(t, label)
}

func TestContactStore_UpsertAndLookup(t *testing.T) {
	cs, err := NewContactStore(":memory:")
	require.NoError(t, err)
	defer cs.Close()

	ctx := context.Background()
	require.NoError(t, cs.Upsert(ctx, 1, 2, "Alice", "alice@example.com", true, "+15550001111", "+15550002222"))

	email, enabled, label, err := cs.NotifyTarget(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, enabled)
	require.Equal(t, "alice@example.com", email)
	require.Equal(t, "Alice", label)

	target, err := cs.PlatformTarget(ctx, 1, 2, model.PlatformSignal)
	require.NoError(t, err)
	require.Equal(t, "+15550001111", target)

	target, err = cs.PlatformTarget(ctx, 1, 2, model.PlatformWhatsApp)
	require.NoError(t, err)
	require.Equal(t, "+15550002222", target)
}

func TestContactStore_PlatformTarget_MissingNumber(t *testing.T) {
	cs, err := NewContactStore(":memory:")
	require.NoError(t, err)
	defer cs.Close()

	ctx := context.Background()
	require.NoError(t, cs.Upsert(ctx, 1, 2, "Alice", "alice@example.com", true, "", ""))

	_, err = cs.PlatformTarget(ctx, 1, 2, model.PlatformSignal)
	require.Error(t, err)
}

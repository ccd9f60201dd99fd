package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"xtbridge/internal/bar"
	"xtbridge/internal/busclient"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return New(busclient.FromClient(cli), "xtbridge:registry")
}

func TestNewSubID_Format(t *testing.T) {
	now := time.Date(2025, 9, 17, 9, 31, 0, 0, bar.CNLocation)
	id, err := NewSubID(now)
	require.NoError(t, err)
	require.Regexp(t, `^sub-20250917-093100-[0-9a-f]{8}$`, id)
}

func TestRegistry_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	spec := Spec{
		SubID:       "sub-20250917-093100-deadbeef",
		StrategyID:  "demo",
		Codes:       []string{"518880.SH"},
		Periods:     []bar.Period{bar.Period1Min},
		Mode:        bar.ModeCloseOnly,
		PreloadDays: 0,
		Topic:       "bars",
		CreatedAt:   1726542660,
	}
	require.NoError(t, r.Save(ctx, spec))

	got, ok, err := r.Load(ctx, spec.SubID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, spec, got)

	all, err := r.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, spec.SubID, all[0].SubID)

	byStrategy, err := r.ListByStrategy(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, []string{spec.SubID}, byStrategy)

	require.NoError(t, r.Delete(ctx, spec.SubID, spec.StrategyID))

	_, ok, err = r.Load(ctx, spec.SubID)
	require.NoError(t, err)
	require.False(t, ok)

	all, err = r.ListAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	byStrategy, err = r.ListByStrategy(ctx, "demo")
	require.NoError(t, err)
	require.Empty(t, byStrategy)
}

func TestRegistry_LoadMissingReturnsFalse(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	_, ok, err := r.Load(ctx, "sub-does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}

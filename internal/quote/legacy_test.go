package quote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtbridge/internal/bar"
)

func TestNewLegacySource_RequiresToken(t *testing.T) {
	_, err := NewLegacySource("")
	assert.ErrorContains(t, err, "token")
}

func TestLegacySource_PreloadSkipsZeroDays(t *testing.T) {
	src, err := NewLegacySource("tok")
	require.NoError(t, err)
	assert.NoError(t, src.Preload(context.Background(), []string{"A"}, []bar.Period{bar.Period1Min}, 0))
}

func TestLegacySource_PreloadNonZeroDaysErrors(t *testing.T) {
	src, err := NewLegacySource("tok")
	require.NoError(t, err)
	assert.Error(t, src.Preload(context.Background(), []string{"A"}, []bar.Period{bar.Period1Min}, 5))
}

func TestLegacySource_SubscribeIsIdempotent(t *testing.T) {
	src, err := NewLegacySource("tok")
	require.NoError(t, err)

	require.NoError(t, src.Subscribe("A", bar.Period1Min, func(string, bar.Period, []RawRow) {}))
	require.NoError(t, src.Subscribe("A", bar.Period1Min, func(string, bar.Period, []RawRow) {}))
	assert.Len(t, src.callbacks, 1)
}

package quote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtbridge/internal/bar"
)

func TestMockSource_SubscribeDeliversRows(t *testing.T) {
	src := NewMockSource(5)
	defer src.Close()

	received := make(chan RawRow, 4)
	err := src.Subscribe("518880.SH", bar.Period1Min, func(code string, period bar.Period, rows []RawRow) {
		for _, r := range rows {
			received <- r
		}
	})
	require.NoError(t, err)

	select {
	case row := <-received:
		_, ok := row.Field("time")
		assert.True(t, ok)
		closeVal, ok := row.Field("close")
		assert.True(t, ok)
		assert.IsType(t, float64(0), closeVal)
	case <-time.After(time.Second):
		t.Fatal("no row delivered")
	}
}

func TestMockSource_SubscribeIsIdempotent(t *testing.T) {
	src := NewMockSource(1000)
	defer src.Close()

	err := src.Subscribe("A", bar.Period1Min, func(string, bar.Period, []RawRow) {})
	require.NoError(t, err)
	err = src.Subscribe("A", bar.Period1Min, func(string, bar.Period, []RawRow) {})
	require.NoError(t, err)

	assert.Len(t, src.running, 1)
}

func TestMockSource_UnsubscribeStopsDelivery(t *testing.T) {
	src := NewMockSource(5)
	defer src.Close()

	err := src.Subscribe("A", bar.Period1Min, func(string, bar.Period, []RawRow) {})
	require.NoError(t, err)
	require.NoError(t, src.Unsubscribe("A", bar.Period1Min))
	assert.Len(t, src.running, 0)

	require.NoError(t, src.Unsubscribe("A", bar.Period1Min))
}

func TestMockSource_PreloadIsNoop(t *testing.T) {
	src := NewMockSource(1000)
	defer src.Close()
	assert.NoError(t, src.Preload(context.Background(), []string{"A"}, []bar.Period{bar.Period1Min}, 5))
}

func TestRawRow_FieldResolvesAliases(t *testing.T) {
	row := RawRow{"isClosed": true}
	v, ok := row.Field("isClose", "isClosed", "closed")
	assert.True(t, ok)
	assert.Equal(t, true, v)

	_, ok = row.Field("missing")
	assert.False(t, ok)
}

package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtbridge/internal/bar"
	"xtbridge/internal/busclient"
	"xtbridge/internal/metrics"
)

func dec(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func validBar() bar.Bar {
	return bar.Bar{
		Code: "510050.SH", Period: bar.Period1Min,
		BarOpenTS: "2025-09-17T09:30:00+08:00", BarEndTS: "2025-09-17T09:31:00+08:00",
		IsClosed: true,
		Open:     dec(2.51), High: dec(2.52), Low: dec(2.50), Close: dec(2.515),
	}
}

func newTestBus(t *testing.T) *busclient.Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return busclient.FromClient(cli)
}

func TestGuard_RejectsMissingClose(t *testing.T) {
	g := NewGuard(bar.ModeFormingAndClose)
	b := validBar()
	b.Close = nil
	ok, reason := g.Check(b)
	assert.False(t, ok)
	assert.Contains(t, reason, "OHLC")
}

func TestGuard_CloseOnlyRejectsFormingBar(t *testing.T) {
	g := NewGuard(bar.ModeCloseOnly)
	b := validBar()
	b.IsClosed = false
	ok, _ := g.Check(b)
	assert.False(t, ok)
}

func TestGuard_RejectsMissingOffset(t *testing.T) {
	g := NewGuard(bar.ModeFormingAndClose)
	b := validBar()
	b.BarEndTS = "2025-09-17T09:31:00Z"
	ok, _ := g.Check(b)
	assert.False(t, ok)
}

func TestPublisher_PublishesValidBar(t *testing.T) {
	bus := newTestBus(t)
	m := metrics.New()
	metrics.ResetGlobal()
	p := New(bus, "bars", NewGuard(bar.ModeFormingAndClose), m, zerolog.Nop())

	ctx := context.Background()
	sub := bus.Subscribe(ctx, "bars")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, validBar()))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, "510050.SH")

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap["published"])
	assert.Equal(t, int64(0), snap["publish_fail"])
}

func TestPublisher_SchemaDropDoesNotError(t *testing.T) {
	bus := newTestBus(t)
	m := metrics.New()
	metrics.ResetGlobal()
	p := New(bus, "bars", NewGuard(bar.ModeCloseOnly), m, zerolog.Nop())

	b := validBar()
	b.Close = nil

	require.NoError(t, p.Publish(context.Background(), b))

	global := metrics.SnapshotGlobal()
	assert.Equal(t, int64(1), global["schema_drop_total"])
}

type alwaysFailBus struct {
	calls int
}

func (f *alwaysFailBus) Publish(ctx context.Context, channel, payload string) error {
	f.calls++
	return errors.New("bus unreachable")
}

func TestPublisher_RetriesExactlyMaxRetriesTimes(t *testing.T) {
	fb := &alwaysFailBus{}
	m := metrics.New()
	p := New(fb, "bars", NewGuard(bar.ModeFormingAndClose), m, zerolog.Nop(), WithRetryBackoff(time.Millisecond))

	err := p.Publish(context.Background(), validBar())
	require.Error(t, err)
	assert.Equal(t, defaultMaxRetries, fb.calls)

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap["publish_fail"])
}

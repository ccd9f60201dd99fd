package opsdash

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtbridge/internal/bar"
	"xtbridge/internal/busclient"
	"xtbridge/internal/engine"
	"xtbridge/internal/health"
	"xtbridge/internal/quote"
)

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, b bar.Bar) error { return nil }

func TestServer_HealthzRespondsOK(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()
	defer hub.Stop()

	addr := "127.0.0.1:18099"
	srv := NewServer(addr, hub, zerolog.Nop())
	go func() { _ = srv.ListenAndServe() }()
	time.Sleep(50 * time.Millisecond)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestBroadcaster_TickWithoutClientsOrReporterOmitsHealth(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()
	defer hub.Stop()

	eng := engine.New(quote.NewMockSource(1000), noopPublisher{}, nil, zerolog.Nop(), bar.ModeCloseOnly)
	b := NewBroadcaster(hub, eng, nil)
	b.tick() // should not panic with zero connected clients

	snap := b.snapshot()
	assert.Nil(t, snap.Health)
}

func TestBroadcaster_SnapshotIncludesHealthRecordOnceReporterHasTicked(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()
	defer hub.Stop()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cli.Close()
	bus := busclient.FromClient(cli)

	reporter := health.New(bus, "health", "host:1", 20*time.Millisecond, 0, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reporter.Run(ctx)
		close(done)
	}()
	time.Sleep(40 * time.Millisecond)
	cancel()
	<-done

	eng := engine.New(quote.NewMockSource(1000), noopPublisher{}, nil, zerolog.Nop(), bar.ModeCloseOnly)
	b := NewBroadcaster(hub, eng, reporter)

	snap := b.snapshot()
	require.NotNil(t, snap.Health)
	assert.Equal(t, "host:1", snap.Health.InstanceID)
}

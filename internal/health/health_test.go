package health

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtbridge/internal/busclient"
)

func TestInstanceID_IncludesTag(t *testing.T) {
	id := InstanceID("demo")
	assert.Contains(t, id, ":demo")
}

func TestNew_EnforcesMinimumTTL(t *testing.T) {
	r := New(nil, "health", "host:1", time.Second, 500*time.Millisecond, nil, zerolog.Nop())
	assert.GreaterOrEqual(t, r.ttl, 2*r.interval)
}

func TestReporter_WritesHealthRecordWithTTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cli.Close()
	bus := busclient.FromClient(cli)

	r := New(bus, "health", "host:1", 20*time.Millisecond, 0, map[string]any{"mode": "close_only"}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()
	<-done

	val, err := mr.Get("health:host:1")
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(val), &rec))
	assert.Equal(t, "host:1", rec.InstanceID)
	assert.Equal(t, "close_only", rec.Extra["mode"])

	ttl := mr.TTL("health:host:1")
	assert.Greater(t, ttl, time.Duration(0))

	last, ok := r.LastRecord()
	assert.True(t, ok)
	assert.Equal(t, "host:1", last.InstanceID)
}

func TestReporter_LastRecordBeforeFirstTick(t *testing.T) {
	r := New(nil, "health", "host:1", time.Second, 0, nil, zerolog.Nop())
	_, ok := r.LastRecord()
	assert.False(t, ok)
}

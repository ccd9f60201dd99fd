package busclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtbridge/internal/config"
)

func newTestBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return FromClient(cli), mr
}

func TestBus_PingAndPublish(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, bus.Ping(ctx))

	sub := bus.Subscribe(ctx, "topic")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "topic", "hello"))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "hello", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestBus_HashAndSetOps(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}))
	fields, err := bus.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, fields)

	require.NoError(t, bus.SAdd(ctx, "s", "x", "y"))
	members, err := bus.SMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "y"}, members)

	require.NoError(t, bus.SRem(ctx, "s", "x"))
	members, err = bus.SMembers(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, members)

	require.NoError(t, bus.Del(ctx, "h", "s"))
	fields, err = bus.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestBus_SetWithTTL(t *testing.T) {
	bus, mr := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, bus.SetWithTTL(ctx, "k", "v", 5*time.Second))
	val, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
	assert.Greater(t, mr.TTL("k"), time.Duration(0))
}

func TestNew_BuildsFromURL(t *testing.T) {
	bus, err := New(config.RedisConfig{URL: "redis://127.0.0.1:1/0"})
	require.NoError(t, err)
	defer bus.Close()
	assert.NotNil(t, bus)
}

func TestNew_BuildsFromDiscreteFields(t *testing.T) {
	bus, err := New(config.RedisConfig{Host: "127.0.0.1", Port: 1})
	require.NoError(t, err)
	defer bus.Close()
	assert.NotNil(t, bus)
}

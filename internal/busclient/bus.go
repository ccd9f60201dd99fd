// Package busclient wraps the Redis client that backs the bridge's single
// `Bus` capability: pub/sub for the fanout topic, control channel, and ACK
// channel; string/hash/set operations with TTL for the Registry and health
// KV. Keeping every Redis call behind this package means the rest of the
// bridge never imports go-redis directly.
package busclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"xtbridge/internal/config"
	"xtbridge/internal/xerr"
)

// Bus is a thin, testable wrapper around a redis.Client.
type Bus struct {
	cli *redis.Client
}

// New builds a Bus from the "redis" config section, accepting either a full
// URL or discrete host/port/password/db fields.
func New(cfg config.RedisConfig) (*Bus, error) {
	addr, password, db, useURL, url := cfg.Addr()
	var opts *redis.Options
	if useURL {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, xerr.Config(fmt.Sprintf("parsing redis.url %q", url), err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr, Password: password, DB: db}
	}
	return &Bus{cli: redis.NewClient(opts)}, nil
}

// FromClient wraps an existing redis.Client, used by tests against miniredis.
func FromClient(cli *redis.Client) *Bus { return &Bus{cli: cli} }

// Ping verifies connectivity, used by the ops-check CLI one-shot.
func (b *Bus) Ping(ctx context.Context) error {
	if err := b.cli.Ping(ctx).Err(); err != nil {
		return xerr.Bus("ping", err)
	}
	return nil
}

// Close releases the underlying connection.
func (b *Bus) Close() error { return b.cli.Close() }

// Publish publishes payload on channel (the fanout topic, a command
// channel, or an ACK channel — callers decide which).
func (b *Bus) Publish(ctx context.Context, channel, payload string) error {
	if err := b.cli.Publish(ctx, channel, payload).Err(); err != nil {
		return xerr.Bus(fmt.Sprintf("publish to %s", channel), err)
	}
	return nil
}

// Subscribe returns a live PubSub subscription to channel. Callers own its
// lifecycle (Close when reconnecting or shutting down).
func (b *Bus) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return b.cli.Subscribe(ctx, channel)
}

// SetWithTTL stores value at key with the given expiry, used by the health
// reporter. Registry does not use it: its entries carry no TTL and persist
// until explicitly removed.
func (b *Bus) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.cli.Set(ctx, key, value, ttl).Err(); err != nil {
		return xerr.Bus(fmt.Sprintf("set %s", key), err)
	}
	return nil
}

// HSet writes a hash of string fields at key.
func (b *Bus) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if err := b.cli.HSet(ctx, key, args...).Err(); err != nil {
		return xerr.Bus(fmt.Sprintf("hset %s", key), err)
	}
	return nil
}

// HGetAll reads back a hash written by HSet. A missing key yields an empty,
// non-nil map (mirrors redis-py's {} on miss).
func (b *Bus) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := b.cli.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, xerr.Bus(fmt.Sprintf("hgetall %s", key), err)
	}
	return m, nil
}

// SAdd adds members to the set at key.
func (b *Bus) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := b.cli.SAdd(ctx, key, args...).Err(); err != nil {
		return xerr.Bus(fmt.Sprintf("sadd %s", key), err)
	}
	return nil
}

// SRem removes members from the set at key.
func (b *Bus) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := b.cli.SRem(ctx, key, args...).Err(); err != nil {
		return xerr.Bus(fmt.Sprintf("srem %s", key), err)
	}
	return nil
}

// SMembers returns the members of the set at key.
func (b *Bus) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := b.cli.SMembers(ctx, key).Result()
	if err != nil {
		return nil, xerr.Bus(fmt.Sprintf("smembers %s", key), err)
	}
	return members, nil
}

// Del removes one or more keys.
func (b *Bus) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := b.cli.Del(ctx, keys...).Err(); err != nil {
		return xerr.Bus(fmt.Sprintf("del %v", keys), err)
	}
	return nil
}

// Package health implements the HealthReporter background loop: a periodic
// heartbeat with TTL written to the bus KV so external observers can detect
// liveness.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"xtbridge/internal/busclient"
	"xtbridge/internal/metrics"
)

// Record is the HealthRecord persisted at each tick.
type Record struct {
	TS         string           `json:"ts"`
	InstanceID string           `json:"instance_id"`
	Metrics    map[string]int64 `json:"metrics"`
	Extra      map[string]any   `json:"extra,omitempty"`
}

// Reporter runs the background heartbeat loop.
type Reporter struct {
	bus        *busclient.Bus
	keyPrefix  string
	instanceID string
	interval   time.Duration
	ttl        time.Duration
	extra      map[string]any
	log        zerolog.Logger

	mu      sync.Mutex
	last    Record
	hasLast bool

	stop chan struct{}
	done chan struct{}
}

// InstanceID builds "<host>:<pid>[:<tag>]".
func InstanceID(tag string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	id := fmt.Sprintf("%s:%d", host, os.Getpid())
	if tag != "" {
		id += ":" + tag
	}
	return id
}

// New builds a Reporter. ttl is enforced to be at least 2x interval, so a
// single missed tick never flaps the key to expired.
func New(bus *busclient.Bus, keyPrefix, instanceID string, interval, ttl time.Duration, extra map[string]any, log zerolog.Logger) *Reporter {
	if ttl < 2*interval {
		ttl = 2 * interval
	}
	return &Reporter{
		bus:        bus,
		keyPrefix:  keyPrefix,
		instanceID: instanceID,
		interval:   interval,
		ttl:        ttl,
		extra:      extra,
		log:        log,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run blocks, ticking every interval until Stop is called. Write failures
// are swallowed — health reporting must never interfere with the data path.
func (r *Reporter) Run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reporter) tick(ctx context.Context) {
	rec := Record{
		TS:         time.Now().Format(time.RFC3339),
		InstanceID: r.instanceID,
		Metrics:    metrics.SnapshotGlobal(),
		Extra:      r.extra,
	}
	r.mu.Lock()
	r.last = rec
	r.hasLast = true
	r.mu.Unlock()

	payload, err := json.Marshal(rec)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to encode health record")
		return
	}
	key := r.keyPrefix + ":" + r.instanceID
	if err := r.bus.SetWithTTL(ctx, key, string(payload), r.ttl); err != nil {
		r.log.Warn().Err(err).Msg("failed to write health record")
	}
}

// LastRecord returns the most recent heartbeat this Reporter built, and
// whether one has been built yet (false before the first tick).
func (r *Reporter) LastRecord() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.hasLast
}

// Stop signals the loop to exit and waits for it to finish.
func (r *Reporter) Stop() {
	close(r.stop)
	<-r.done
}

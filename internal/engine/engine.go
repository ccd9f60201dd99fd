// Package engine implements the SubscriptionEngine: the component that owns
// the active (code,period) key set, the per-key BarStateMachines, and the
// dedup LRU, and that orchestrates preload + vendor registration on
// subscribe.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"xtbridge/internal/bar"
	"xtbridge/internal/barstate"
	"xtbridge/internal/metrics"
	"xtbridge/internal/quote"
)

// Publisher is the downstream sink for emitted CanonicalBars. publish.Publisher
// satisfies this; kept as a narrow interface here so engine never imports the
// publish package's SchemaGuard/retry internals.
type Publisher interface {
	Publish(ctx context.Context, b bar.Bar) error
}

// KeyStatus is one row of Engine.Status().
type KeyStatus struct {
	Key           bar.Key
	Mode          bar.Mode
	LastPublished time.Time
	HasPublished  bool
}

// Engine is the SubscriptionEngine. All exported methods are safe for
// concurrent use; mutations of activeKeys/machines/dedup/lastPub are
// serialized under mu, emission to Publisher happens outside it.
type Engine struct {
	source    quote.Source
	publisher Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger

	defaultMode bar.Mode

	mu        sync.Mutex
	activeMode map[bar.Key]bar.Mode
	machines   map[bar.Key]*barstate.Machine
	dedup      *barstate.Dedup
	lastPub    map[bar.Key]time.Time
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithDedupCapacity overrides the dedup LRU size (0 keeps the package default).
func WithDedupCapacity(capacity int) Option {
	return func(e *Engine) { e.dedup = barstate.NewDedup(capacity) }
}

// New builds an Engine. defaultMode is used for subscriptions that don't
// override mode.
func New(source quote.Source, publisher Publisher, m *metrics.Metrics, log zerolog.Logger, defaultMode bar.Mode, opts ...Option) *Engine {
	e := &Engine{
		source:      source,
		publisher:   publisher,
		metrics:     m,
		log:         log,
		defaultMode: defaultMode,
		activeMode:  make(map[bar.Key]bar.Mode),
		machines:    make(map[bar.Key]*barstate.Machine),
		dedup:       barstate.NewDedup(0),
		lastPub:     make(map[bar.Key]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddSubscription activates every (code,period) pair not already active:
// preload (once, for the whole new set), then per-key vendor Subscribe, then
// add to the active set. Idempotent: already-active keys are skipped. On
// preload failure no key from this call is added; on a vendor Subscribe
// failure the failing key and the keys after it are not added, while keys
// subscribed earlier in the same call stay active.
func (e *Engine) AddSubscription(ctx context.Context, codes []string, periods []bar.Period, mode bar.Mode, preloadDays int) error {
	if mode == "" {
		mode = e.defaultMode
	}

	e.mu.Lock()
	var newKeys []bar.Key
	newCodeSet := map[string]struct{}{}
	newPeriodSet := map[bar.Period]struct{}{}
	for _, code := range codes {
		for _, period := range periods {
			key := bar.Key{Code: code, Period: period}
			if _, ok := e.activeMode[key]; ok {
				continue
			}
			newKeys = append(newKeys, key)
			newCodeSet[code] = struct{}{}
			newPeriodSet[period] = struct{}{}
		}
	}
	e.mu.Unlock()

	if len(newKeys) == 0 {
		return nil
	}

	newCodes := make([]string, 0, len(newCodeSet))
	for c := range newCodeSet {
		newCodes = append(newCodes, c)
	}
	newPeriods := make([]bar.Period, 0, len(newPeriodSet))
	for p := range newPeriodSet {
		newPeriods = append(newPeriods, p)
	}

	if err := e.source.Preload(ctx, newCodes, newPeriods, preloadDays); err != nil {
		return err
	}

	for _, key := range newKeys {
		if err := e.source.Subscribe(key.Code, key.Period, e.handleRaw); err != nil {
			return err
		}
		e.mu.Lock()
		e.activeMode[key] = mode
		e.machines[key] = barstate.NewMachine(key, "qmt")
		e.mu.Unlock()
	}
	return nil
}

// RemoveSubscription deactivates every (code,period) pair that is currently
// active; unknown keys are silently ignored.
func (e *Engine) RemoveSubscription(codes []string, periods []bar.Period) error {
	for _, code := range codes {
		for _, period := range periods {
			key := bar.Key{Code: code, Period: period}
			e.mu.Lock()
			_, active := e.activeMode[key]
			if active {
				delete(e.activeMode, key)
				delete(e.machines, key)
				delete(e.lastPub, key)
			}
			e.mu.Unlock()
			if !active {
				continue
			}
			if err := e.source.Unsubscribe(code, period); err != nil {
				return err
			}
		}
	}
	return nil
}

// Status returns a deterministic snapshot of active keys and their
// last-published timestamps.
func (e *Engine) Status() []KeyStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]KeyStatus, 0, len(e.activeMode))
	for key, mode := range e.activeMode {
		ts, ok := e.lastPub[key]
		out = append(out, KeyStatus{Key: key, Mode: mode, LastPublished: ts, HasPublished: ok})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// Stop unsubscribes every active key from the vendor source.
func (e *Engine) Stop() {
	e.mu.Lock()
	keys := make([]bar.Key, 0, len(e.activeMode))
	for key := range e.activeMode {
		keys = append(keys, key)
	}
	e.mu.Unlock()
	for _, key := range keys {
		_ = e.source.Unsubscribe(key.Code, key.Period)
	}
}

// handleRaw is the vendor callback. It is bound once per key in
// AddSubscription and must tolerate concurrent invocation from the vendor's
// own dispatch threads.
func (e *Engine) handleRaw(code string, period bar.Period, rows []quote.RawRow) {
	key := bar.Key{Code: code, Period: period}

	updates := make([]barstate.Update, 0, len(rows))
	for _, row := range rows {
		u, err := normalize(row)
		if err != nil {
			e.log.Debug().Err(err).Str("code", code).Str("period", string(period)).Msg("dropping unparseable raw row")
			continue
		}
		updates = append(updates, u)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].EndTS.Before(updates[j].EndTS) })

	type toSend struct {
		b bar.Bar
	}
	var sends []toSend

	e.mu.Lock()
	mode, active := e.activeMode[key]
	machine := e.machines[key]
	if active && machine != nil {
		for _, u := range updates {
			emitted := machine.Feed(u)
			for _, b := range emitted {
				if mode == bar.ModeCloseOnly && !b.IsClosed {
					continue
				}
				if b.IsClosed && e.dedup.SeenOrMark(barstate.Fingerprint(b, mode)) {
					e.metrics.IncDedupHit()
					continue
				}
				e.lastPub[key] = time.Now().In(bar.CNLocation)
				sends = append(sends, toSend{b: b})
			}
		}
	}
	e.mu.Unlock()

	if !active {
		return
	}

	ctx := context.Background()
	for _, s := range sends {
		if err := e.publisher.Publish(ctx, s.b); err != nil {
			e.log.Warn().Err(err).Str("code", code).Str("period", string(period)).Msg("publish failed")
		}
	}
}

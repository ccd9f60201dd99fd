// Package metrics provides the bridge's counters: a per-Publisher instance
// set (published/publish_fail/dedup_hit) plus a process-wide global set
// (bars_published_total/schema_drop_total/late_bars_total) that the health
// reporter and ops dashboard read from. Instance counters live on an
// injected *Metrics handle so tests can build a fresh one. The global set is
// package-level state serialized under its own mutex, reached through
// package functions (IncGlobal, MarkSchemaDrop, MaybeMarkLate,
// SnapshotGlobal); tests isolate it with ResetGlobal.
package metrics

import (
	"sync"
	"time"

	"xtbridge/internal/bar"
)

var (
	globalMu       sync.Mutex
	globalCounters = map[string]int64{
		"bars_published_total": 0,
		"schema_drop_total":    0,
		"late_bars_total":      0,
	}
)

// Metrics is a thread-safe set of per-instance counters bound to a single
// Publisher (or other component) plus access to the process-wide globals.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]int64
}

// New returns a fresh Metrics handle with zeroed instance counters.
func New() *Metrics {
	return &Metrics{counters: map[string]int64{
		"published":     0,
		"publish_fail":  0,
		"dedup_hit":     0,
	}}
}

func (m *Metrics) incInstance(key string, step int64) {
	m.mu.Lock()
	m.counters[key] += step
	m.mu.Unlock()
}

// IncPublished records a successful publish on this instance and on the
// global bars_published_total counter.
func (m *Metrics) IncPublished() {
	m.incInstance("published", 1)
	IncGlobal("bars_published_total", 1)
}

// IncPublishFail records an exhausted-retry publish failure on this instance.
func (m *Metrics) IncPublishFail() {
	m.incInstance("publish_fail", 1)
}

// IncDedupHit records a dedup-LRU hit (a suppressed duplicate emission).
func (m *Metrics) IncDedupHit() {
	m.incInstance("dedup_hit", 1)
}

// Snapshot returns a copy of this instance's counters.
func (m *Metrics) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// IncGlobal bumps a process-wide counter by step.
func IncGlobal(key string, step int64) {
	globalMu.Lock()
	globalCounters[key] += step
	globalMu.Unlock()
}

// SnapshotGlobal returns a copy of the process-wide counters.
func SnapshotGlobal() map[string]int64 {
	globalMu.Lock()
	defer globalMu.Unlock()
	out := make(map[string]int64, len(globalCounters))
	for k, v := range globalCounters {
		out[k] = v
	}
	return out
}

// ResetGlobal zeroes the process-wide counters. Tests use this for isolation
// between cases that would otherwise share package-level state.
func ResetGlobal() {
	globalMu.Lock()
	for k := range globalCounters {
		globalCounters[k] = 0
	}
	globalMu.Unlock()
}

// MarkSchemaDrop increments the global schema_drop_total counter.
func MarkSchemaDrop() {
	IncGlobal("schema_drop_total", 1)
}

// MaybeMarkLate compares now (Asia/Shanghai) against the bar's end timestamp
// and, if the delta exceeds threshold, increments late_bars_total. A
// malformed bar_end_ts is ignored rather than treated as late.
func MaybeMarkLate(barEndTS string, threshold time.Duration) {
	if barEndTS == "" {
		return
	}
	t, err := time.Parse("2006-01-02T15:04:05-07:00", barEndTS)
	if err != nil {
		t, err = time.Parse("2006-01-02 15:04:05-07:00", barEndTS)
		if err != nil {
			return
		}
	}
	now := time.Now().In(bar.CNLocation)
	if now.Sub(t.In(bar.CNLocation)) > threshold {
		IncGlobal("late_bars_total", 1)
	}
}

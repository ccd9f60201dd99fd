package barstate

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"xtbridge/internal/bar"
)

// defaultDedupCapacity is the default LRU size.
const defaultDedupCapacity = 50000

// Dedup is the bounded fingerprint cache the engine consults before
// forwarding an emitted closed bar to the Publisher. Contains/Add are O(1).
// SeenOrMark checks with Contains, which does not refresh recency, and only
// adds new fingerprints, so eviction is oldest-inserted first (FIFO).
type Dedup struct {
	cache *lru.Cache[string, struct{}]
}

// NewDedup builds a Dedup with the given capacity (0 uses the default).
func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = defaultDedupCapacity
	}
	c, _ := lru.New[string, struct{}](capacity)
	return &Dedup{cache: c}
}

// Fingerprint computes the dedup key for b under mode: (code, period,
// bar_end_ts) in close_only, or additionally keyed by is_closed in
// forming_and_close.
func Fingerprint(b bar.Bar, mode bar.Mode) string {
	if mode == bar.ModeFormingAndClose {
		if b.IsClosed {
			return b.Code + "|" + string(b.Period) + "|" + b.BarEndTS + "|1"
		}
		return b.Code + "|" + string(b.Period) + "|" + b.BarEndTS + "|0"
	}
	return b.Code + "|" + string(b.Period) + "|" + b.BarEndTS
}

// SeenOrMark reports whether fingerprint was already present, marking it
// present as a side effect either way — the single call the engine needs
// around each emission (see/mark is atomic from the caller's perspective
// since the engine already serializes under its own mutex).
func (d *Dedup) SeenOrMark(fingerprint string) bool {
	if d.cache.Contains(fingerprint) {
		return true
	}
	d.cache.Add(fingerprint, struct{}{})
	return false
}

// Len reports the current number of tracked fingerprints (test helper).
func (d *Dedup) Len() int { return d.cache.Len() }

// Package quote defines the QuoteSource adapter boundary: preload history,
// subscribe/unsubscribe a (code, period), and deliver raw vendor rows through
// a callback. Two implementations are provided: Mock (a synthetic generator
// for demos and tests) and Legacy (the real vendor boundary, guarding import
// of the xtquant client library the way optional native dependencies
// typically are).
package quote

import (
	"context"

	"xtbridge/internal/bar"
)

// RawRow is a vendor bar row represented as a flexible key-value map. The
// vendor is known to use inconsistent field names across sites/products
// (isClose/isClosed/closed, time/Time/datetime/bar_time,
// settelementPrice/settlementPrice). Those aliases are resolved once, at
// ingress, rather than threading alias-checks through the rest of the
// system. Field below is that single place.
type RawRow map[string]any

// Field returns the first present value among names, resolving the vendor's
// alias drift for a single logical field.
func (r RawRow) Field(names ...string) (any, bool) {
	for _, n := range names {
		if v, ok := r[n]; ok {
			return v, true
		}
	}
	return nil, false
}

// Callback is invoked once per raw batch for a single (code, period); the
// vendor may bundle multiple symbols into one invocation, but Source
// implementations are responsible for fanning that out to one call per code
// before it ever reaches the engine.
type Callback func(code string, period bar.Period, rows []RawRow)

// Source abstracts the vendor quote library.
type Source interface {
	// Preload downloads/ensures local history exists for codes×periods
	// going back `days` days. Must be idempotent and safe to call again for
	// an already-preloaded range.
	Preload(ctx context.Context, codes []string, periods []bar.Period, days int) error

	// Subscribe registers cb to receive raw rows for (code, period). Safe to
	// call once per key; a second call for the same key is a no-op.
	Subscribe(code string, period bar.Period, cb Callback) error

	// Unsubscribe stops delivery for (code, period). Unknown keys are a no-op.
	Unsubscribe(code string, period bar.Period) error

	// Close releases any vendor-side resources.
	Close() error
}

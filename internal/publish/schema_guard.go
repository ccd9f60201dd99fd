// Package publish implements SchemaGuard and Publisher: the last line of
// defense before a CanonicalBar reaches the fanout bus, and the
// JSON-serialize-and-publish-with-retry step itself.
package publish

import (
	"strings"

	"xtbridge/internal/bar"
)

// Guard validates outbound CanonicalBars against the wire contract before
// they reach the Publisher.
type Guard struct {
	mode bar.Mode
}

// NewGuard builds a Guard for the subscription mode the stream is running
// under (close_only additionally requires is_closed==true).
func NewGuard(mode bar.Mode) *Guard {
	return &Guard{mode: mode}
}

// Check validates b against the wire contract: required fields present;
// close_only implies is_closed; bar_end_ts carries a literal +08:00 offset
// and looks like a timestamp. It returns a human-readable reason on failure
// so callers can log it at debug.
func (g *Guard) Check(b bar.Bar) (ok bool, reason string) {
	if b.Code == "" {
		return false, "missing code"
	}
	if !b.Period.Valid() {
		return false, "missing or invalid period"
	}
	if b.BarEndTS == "" {
		return false, "missing bar_end_ts"
	}
	if b.Open == nil || b.High == nil || b.Low == nil || b.Close == nil {
		return false, "missing OHLC field"
	}
	if g.mode == bar.ModeCloseOnly && !b.IsClosed {
		return false, "close_only mode requires is_closed=true"
	}
	if !strings.HasSuffix(b.BarEndTS, "+08:00") {
		return false, "bar_end_ts missing +08:00 offset"
	}
	if !strings.Contains(b.BarEndTS, "T") && !strings.Contains(b.BarEndTS, " ") {
		return false, "bar_end_ts does not look like a timestamp"
	}
	return true, ""
}

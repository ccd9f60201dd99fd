// Package bar holds the wire-level data model shared across the bridge:
// the canonical OHLCV record, the subscription key it is addressed by, and
// the small set of period constants the rest of the system switches on.
package bar

import (
	"time"

	"github.com/shopspring/decimal"
)

// Period is one of the three bar periods the bridge understands.
type Period string

const (
	Period1Min  Period = "1m"
	Period1Hour Period = "1h"
	Period1Day  Period = "1d"
)

// Length returns the fixed duration of one bar of this period. Daily bars use
// midnight-aligned arithmetic; the bridge does not attempt exchange-session
// alignment.
func (p Period) Length() (time.Duration, bool) {
	switch p {
	case Period1Min:
		return time.Minute, true
	case Period1Hour:
		return time.Hour, true
	case Period1Day:
		return 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Valid reports whether p is one of the three recognized periods.
func (p Period) Valid() bool {
	_, ok := p.Length()
	return ok
}

// Mode is the dispatch mode a subscription was created with.
type Mode string

const (
	ModeCloseOnly       Mode = "close_only"
	ModeFormingAndClose Mode = "forming_and_close"
)

// Valid reports whether m is one of the two recognized modes.
func (m Mode) Valid() bool {
	return m == ModeCloseOnly || m == ModeFormingAndClose
}

// DividendType mirrors the vendor's dividend adjustment tag.
type DividendType string

const (
	DividendNone  DividendType = "none"
	DividendFront DividendType = "front"
	DividendBack  DividendType = "back"
	DividendRatio DividendType = "ratio"
)

// Key identifies a single (code, period) stream of bars. It is the unit the
// SubscriptionEngine tracks and the BarStateMachine is keyed by.
type Key struct {
	Code   string
	Period Period
}

func (k Key) String() string {
	return k.Code + "@" + string(k.Period)
}

// Less provides a total order over keys so engine.Status() can return a
// deterministic, sorted snapshot.
func (k Key) Less(o Key) bool {
	if k.Code != o.Code {
		return k.Code < o.Code
	}
	return k.Period < o.Period
}

// Bar is the canonical wide-record bar published on the fanout bus. Optional
// numeric fields are pointers so a missing value is never written as zero:
// a missing OHLC value serializes as JSON null, and the other optional
// fields are omitted.
type Bar struct {
	Code      string  `json:"code"`
	Period    Period  `json:"period"`
	BarOpenTS string  `json:"bar_open_ts"`
	BarEndTS  string  `json:"bar_end_ts"`
	IsClosed  bool    `json:"is_closed"`

	Open  *decimal.Decimal `json:"open"`
	High  *decimal.Decimal `json:"high"`
	Low   *decimal.Decimal `json:"low"`
	Close *decimal.Decimal `json:"close"`

	Volume *decimal.Decimal `json:"volume,omitempty"`
	Amount *decimal.Decimal `json:"amount,omitempty"`

	PreClose        *decimal.Decimal `json:"pre_close,omitempty"`
	SuspendFlag     *bool            `json:"suspend_flag,omitempty"`
	OpenInterest    *decimal.Decimal `json:"open_interest,omitempty"`
	SettlementPrice *decimal.Decimal `json:"settlement_price,omitempty"`
	DividendType    DividendType     `json:"dividend_type,omitempty"`

	Source string `json:"source"`
	RecvTS string `json:"recv_ts"`
}

// Key returns the SubscriptionKey this bar belongs to.
func (b Bar) Key() Key { return Key{Code: b.Code, Period: b.Period} }

// CNLocation is Asia/Shanghai, UTC+08:00, fixed (the vendor never observes
// DST), used for every timestamp the bridge emits or compares against.
var CNLocation = time.FixedZone("Asia/Shanghai", 8*60*60)

// FormatCN renders t in Asia/Shanghai as ISO-8601 with an explicit +08:00
// offset, matching the wire contract every published bar uses.
func FormatCN(t time.Time) string {
	return t.In(CNLocation).Format("2006-01-02T15:04:05+08:00")
}

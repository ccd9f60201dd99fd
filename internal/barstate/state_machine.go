// Package barstate implements the per-(symbol,period) bar state machine: the
// hardest part of the bridge. It turns an unbounded, possibly out-of-order,
// possibly duplicated stream of raw vendor updates into a totally-ordered
// sequence of forming/closed CanonicalBars.
package barstate

import (
	"time"

	"xtbridge/internal/bar"
)

// Update is one normalized vendor bar ready to feed into a Machine: OHLC and
// the other wide-table fields, plus the already-parsed end timestamp used
// for ordering decisions. Code/Period/IsClosed/BarEndTS/BarOpenTS/RecvTS on
// Payload are overwritten by the machine on emission — the machine never
// trusts them from the raw row. Source is kept when set and filled with the
// machine's default only when empty.
type Update struct {
	EndTS   time.Time
	Payload bar.Bar
}

// Machine is the per-SubscriptionKey state machine. Closure is derived by
// timestamp advancement, never by trusting the vendor's is_closed flag — the
// vendor flag is simply never read here, so there's nothing to get wrong.
//
// Machine is not safe for concurrent use from multiple goroutines on the
// same key; the SubscriptionEngine serializes all Feed calls for a key under
// its own mutex, which keeps Machine itself simple and independently
// unit-testable.
type Machine struct {
	Key    bar.Key
	Source string
	Clock  func() time.Time

	hasCurrent    bool
	current       bar.Bar
	currentEnd    time.Time
	hasLastPublished bool
	lastPublished time.Time
}

// NewMachine builds a Machine for key. source defaults to "qmt" when empty,
// matching the emission contract's default provenance tag.
func NewMachine(key bar.Key, source string) *Machine {
	if source == "" {
		source = "qmt"
	}
	return &Machine{Key: key, Source: source, Clock: time.Now}
}

// LastPublished returns the monotonic high-water mark of emitted closed
// bars, and whether one has been emitted yet.
func (m *Machine) LastPublished() (time.Time, bool) {
	return m.lastPublished, m.hasLastPublished
}

// Feed applies one incoming update and returns, in emission order, the
// CanonicalBars it produces. Mode gating (close_only dropping is_closed=false
// emissions) is the caller's job — Feed always returns every transition a
// forming_and_close consumer would want, and the dispatcher downstream
// decides what close_only drops.
func (m *Machine) Feed(u Update) []bar.Bar {
	if !m.hasCurrent {
		m.setCurrent(u)
		return []bar.Bar{m.forming()}
	}

	switch {
	case u.EndTS.Before(m.currentEnd):
		// Out-of-order or stale-duplicate: dropped either way. Whether this
		// is a re-delivery of an already-published bar or a genuinely
		// out-of-order update only changes the log message, not the effect —
		// both leave state unchanged and emit nothing.
		return nil

	case u.EndTS.Equal(m.currentEnd):
		// Later update for the still-forming bar wins.
		m.current = m.annotate(u.Payload, m.currentEnd, false)
		return []bar.Bar{m.current}

	default: // u.EndTS.After(m.currentEnd)
		closed := m.annotate(m.current, m.currentEnd, true)
		m.lastPublished = m.currentEnd
		m.hasLastPublished = true
		m.setCurrent(u)
		return []bar.Bar{closed, m.forming()}
	}
}

func (m *Machine) setCurrent(u Update) {
	m.current = m.annotate(u.Payload, u.EndTS, false)
	m.currentEnd = u.EndTS
	m.hasCurrent = true
}

func (m *Machine) forming() bar.Bar {
	return m.current
}

// annotate stamps code/period/timestamps/source/recv_ts onto payload,
// producing the CanonicalBar the machine actually emits.
func (m *Machine) annotate(payload bar.Bar, end time.Time, closed bool) bar.Bar {
	out := payload
	out.Code = m.Key.Code
	out.Period = m.Key.Period
	out.IsClosed = closed
	out.BarEndTS = bar.FormatCN(end)
	if openTS, err := OpenTS(end, m.Key.Period); err == nil {
		out.BarOpenTS = bar.FormatCN(openTS)
	}
	if out.Source == "" {
		out.Source = m.Source
	}
	out.RecvTS = bar.FormatCN(m.Clock())
	return out
}

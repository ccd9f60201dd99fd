package quote

import (
	"context"
	"sync"

	"xtbridge/internal/bar"
	"xtbridge/internal/xerr"
)

// LegacySource models the real xtdata/QMT vendor boundary. A service that
// cannot import its vendor client has no business starting, so a missing
// (empty) token becomes a constructor-time VendorUnavailable and startup
// aborts immediately. Everything past construction is a placeholder for the
// real vendor client's subscribe/preload calls — wiring those in is an
// external integration, not something this module owns.
type LegacySource struct {
	mu        sync.Mutex
	token     string
	callbacks map[bar.Key]Callback
}

// NewLegacySource constructs the vendor adapter. A missing token mirrors the
// import guard: the vendor library cannot be reached without credentials, so
// construction fails fast rather than letting a later call surface a vague
// error.
func NewLegacySource(token string) (*LegacySource, error) {
	if token == "" {
		return nil, xerr.VendorUnavailable("xtdata/QMT vendor token not configured", nil)
	}
	return &LegacySource{token: token, callbacks: make(map[bar.Key]Callback)}, nil
}

func (s *LegacySource) Preload(ctx context.Context, codes []string, periods []bar.Period, days int) error {
	// A real adapter would call the vendor's download_history_data per
	// (code, period), chunked by date range, with retry. Without a live
	// vendor connection there is nothing to download; report
	// success for preload_days=0 (the documented skip case) and a transient
	// VendorError otherwise so callers see it as retryable, not fatal.
	if days == 0 {
		return nil
	}
	return xerr.Vendor("legacy vendor adapter has no live connection configured", nil)
}

func (s *LegacySource) Subscribe(code string, period bar.Period, cb Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bar.Key{Code: code, Period: period}
	if _, ok := s.callbacks[key]; ok {
		return nil
	}
	s.callbacks[key] = cb
	return nil
}

func (s *LegacySource) Unsubscribe(code string, period bar.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.callbacks, bar.Key{Code: code, Period: period})
	return nil
}

func (s *LegacySource) Close() error { return nil }

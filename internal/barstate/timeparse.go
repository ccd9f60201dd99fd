package barstate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"

	"xtbridge/internal/bar"
	"xtbridge/internal/xerr"
)

// NormalizeEndTS converts a vendor bar_end_ts value of unknown shape into an
// Asia/Shanghai time.Time. Six shapes are accepted: epoch seconds, epoch
// milliseconds (magnitude >= 1e12), 14-digit
// YYYYMMDDhhmmss, 8-digit YYYYMMDD (daily, midnight-aligned), space-separated
// "YYYY-MM-DD HH:MM:SS" assumed +08:00, and a full ISO-8601 string with Z or
// an explicit offset. Unparseable input returns xerr.ErrParse so the caller
// drops the row without mutating state.
func NormalizeEndTS(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case int64:
		return fromEpoch(v)
	case int:
		return fromEpoch(int64(v))
	case float64:
		return fromEpoch(int64(v))
	case string:
		return fromString(strings.TrimSpace(v))
	default:
		return time.Time{}, xerr.Parse(fmt.Sprintf("unsupported bar_end_ts type %T", raw), nil)
	}
}

func fromEpoch(v int64) (time.Time, error) {
	if v >= 1_000_000_000_000 {
		return time.UnixMilli(v).In(bar.CNLocation), nil
	}
	return time.Unix(v, 0).In(bar.CNLocation), nil
}

func fromString(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, xerr.Parse("empty bar_end_ts", nil)
	}

	// All-digit forms: 14-digit YYYYMMDDhhmmss, 8-digit YYYYMMDD, or a
	// numeric epoch carried as a string.
	if isAllDigits(s) {
		switch len(s) {
		case 14:
			t, err := time.ParseInLocation("20060102150405", s, bar.CNLocation)
			if err != nil {
				return time.Time{}, xerr.Parse("parsing 14-digit bar_end_ts", err)
			}
			return t, nil
		case 8:
			t, err := time.ParseInLocation("20060102", s, bar.CNLocation)
			if err != nil {
				return time.Time{}, xerr.Parse("parsing 8-digit bar_end_ts", err)
			}
			return t, nil
		default:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return time.Time{}, xerr.Parse("parsing numeric bar_end_ts", err)
			}
			return fromEpoch(n)
		}
	}

	// Space-separated "YYYY-MM-DD HH:MM:SS", assumed +08:00.
	if strings.Contains(s, " ") && !strings.Contains(s, "T") {
		t, err := time.ParseInLocation("2006-01-02 15:04:05", s, bar.CNLocation)
		if err == nil {
			return t, nil
		}
	}

	// Full ISO-8601, with or without an explicit offset; relvacode/iso8601
	// accepts the bare "2006-01-02T15:04:05" form too, so this also covers
	// timestamps that already look ISO-ish but lack a 'Z'/offset.
	t, err := iso8601.ParseString(s)
	if err != nil {
		return time.Time{}, xerr.Parse(fmt.Sprintf("parsing bar_end_ts %q", s), err)
	}
	return t.In(bar.CNLocation), nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// OpenTS derives bar_open_ts = bar_end_ts - period_length.
func OpenTS(end time.Time, period bar.Period) (time.Time, error) {
	length, ok := period.Length()
	if !ok {
		return time.Time{}, xerr.Parse(fmt.Sprintf("unsupported period %q", period), nil)
	}
	return end.Add(-length), nil
}

package engine

import (
	"github.com/shopspring/decimal"

	"xtbridge/internal/bar"
	"xtbridge/internal/barstate"
	"xtbridge/internal/quote"
	"xtbridge/internal/xerr"
)

// normalize turns one vendor RawRow into a barstate.Update, resolving the
// field-name aliasing the vendor is known to drift across in this single
// place. Unparseable rows return an error; the caller drops them without
// mutating any state.
func normalize(row quote.RawRow) (barstate.Update, error) {
	rawTS, ok := row.Field("time", "Time", "datetime", "bar_time")
	if !ok {
		return barstate.Update{}, xerr.Parse("raw row missing a time field", nil)
	}
	end, err := barstate.NormalizeEndTS(rawTS)
	if err != nil {
		return barstate.Update{}, err
	}

	payload := bar.Bar{}
	var missing []string

	if v, ok := toDecimal(row, "open"); ok {
		payload.Open = v
	} else {
		missing = append(missing, "open")
	}
	if v, ok := toDecimal(row, "high"); ok {
		payload.High = v
	} else {
		missing = append(missing, "high")
	}
	if v, ok := toDecimal(row, "low"); ok {
		payload.Low = v
	} else {
		missing = append(missing, "low")
	}
	if v, ok := toDecimal(row, "close"); ok {
		payload.Close = v
	} else {
		missing = append(missing, "close")
	}
	if len(missing) > 0 {
		return barstate.Update{}, xerr.Parse("raw row missing OHLC field(s): "+joinStrings(missing), nil)
	}

	payload.Volume, _ = toDecimal(row, "volume")
	payload.Amount, _ = toDecimal(row, "amount")
	payload.PreClose, _ = toDecimal(row, "preClose", "pre_close")
	payload.OpenInterest, _ = toDecimal(row, "openInterest", "open_interest")
	payload.SettlementPrice, _ = toDecimal(row, "settelementPrice", "settlementPrice", "settlement_price")

	if v, ok := row.Field("suspendFlag", "suspend_flag"); ok {
		if b, ok := toBool(v); ok {
			payload.SuspendFlag = &b
		}
	}
	if v, ok := row.Field("dividendType", "dividend_type"); ok {
		if s, ok := v.(string); ok && s != "" {
			payload.DividendType = bar.DividendType(s)
		}
	}
	if v, ok := row.Field("source"); ok {
		if s, ok := v.(string); ok {
			payload.Source = s
		}
	}

	return barstate.Update{EndTS: end, Payload: payload}, nil
}

func toDecimal(row quote.RawRow, names ...string) (*decimal.Decimal, bool) {
	v, ok := row.Field(names...)
	if !ok {
		return nil, false
	}
	switch n := v.(type) {
	case float64:
		d := decimal.NewFromFloat(n)
		return &d, true
	case int:
		d := decimal.NewFromInt(int64(n))
		return &d, true
	case int64:
		d := decimal.NewFromInt(n)
		return &d, true
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return nil, false
		}
		return &d, true
	case decimal.Decimal:
		return &n, true
	default:
		return nil, false
	}
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case int:
		return b != 0, true
	case float64:
		return b != 0, true
	default:
		return false, false
	}
}

func joinStrings(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

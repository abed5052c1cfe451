package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceType selects which dimension of a bar becomes the point price.
type PriceType string

const (
	PriceTypeOpen    PriceType = "open"
	PriceTypeHigh    PriceType = "high"
	PriceTypeLow     PriceType = "low"
	PriceTypeClose   PriceType = "close"
	PriceTypeNearest PriceType = "nearest"
)

// ErrUnknownPriceType is returned by DerivePrice for an unrecognized
// price type.
var ErrUnknownPriceType = errors.New("unknown historical price type")

// ValidPriceType reports whether p is one of the supported price types.
func ValidPriceType(p PriceType) bool {
	switch p {
	case PriceTypeOpen, PriceTypeHigh, PriceTypeLow, PriceTypeClose, PriceTypeNearest:
		return true
	}
	return false
}

// HistoricalBar is a single OHLCV observation covering
// [Timestamp, Timestamp+Duration). Bars are value types and are never
// mutated after creation.
type HistoricalBar struct {
	Duration  time.Duration
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// DerivePrice produces a point price for a transaction at ts.
// For PriceTypeNearest the bar edge closer to ts wins: open when
// |ts-start| < |ts-end|, close otherwise (equal distances resolve to
// close).
func (b HistoricalBar) DerivePrice(ts time.Time, priceType PriceType) (decimal.Decimal, error) {
	switch priceType {
	case PriceTypeOpen:
		return b.Open, nil
	case PriceTypeHigh:
		return b.High, nil
	case PriceTypeLow:
		return b.Low, nil
	case PriceTypeClose:
		return b.Close, nil
	case PriceTypeNearest:
		startDistance := absDuration(ts.Sub(b.Timestamp))
		endDistance := absDuration(ts.Sub(b.Timestamp.Add(b.Duration)))
		if startDistance < endDistance {
			return b.Open, nil
		}
		return b.Close, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrUnknownPriceType, priceType)
	}
}

// Invert returns the bar for the reciprocal pair: each price becomes
// its multiplicative inverse, with high/low and open/close swapping
// roles. Volume is zeroed because it is denominated in the original
// base asset. Bars containing a zero price cannot be inverted.
func (b HistoricalBar) Invert() (HistoricalBar, bool) {
	if b.Open.IsZero() || b.High.IsZero() || b.Low.IsZero() || b.Close.IsZero() {
		return HistoricalBar{}, false
	}
	one := decimal.NewFromInt(1)
	return HistoricalBar{
		Duration:  b.Duration,
		Timestamp: b.Timestamp,
		Open:      one.Div(b.Close),
		High:      one.Div(b.Low),
		Low:       one.Div(b.High),
		Close:     one.Div(b.Open),
		Volume:    decimal.Zero,
	}, true
}

// Mul combines two hop bars along a conversion path: prices multiply,
// the wider duration wins, volumes accumulate.
func (b HistoricalBar) Mul(other HistoricalBar) HistoricalBar {
	duration := b.Duration
	if other.Duration > duration {
		duration = other.Duration
	}
	return HistoricalBar{
		Duration:  duration,
		Timestamp: b.Timestamp,
		Open:      b.Open.Mul(other.Open),
		High:      b.High.Mul(other.High),
		Low:       b.Low.Mul(other.Low),
		Close:     b.Close.Mul(other.Close),
		Volume:    b.Volume.Add(other.Volume),
	}
}

// UnitBar is the identity conversion: every price dimension is 1.
// Used for same-asset requests and alias hops with factor 1.
func UnitBar(ts time.Time) HistoricalBar {
	return ConstantBar(ts, decimal.NewFromInt(1))
}

// ConstantBar builds a bar whose every price dimension equals value.
func ConstantBar(ts time.Time, value decimal.Decimal) HistoricalBar {
	return HistoricalBar{
		Duration:  7 * 24 * time.Hour,
		Timestamp: ts,
		Open:      value,
		High:      value,
		Low:       value,
		Close:     value,
		Volume:    decimal.Zero,
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

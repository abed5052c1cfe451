package domain

import (
	"fmt"
	"time"
)

// PairKey identifies one resolved price: a direction-sensitive asset
// pair on an exchange at a point in time. Two keys are equal iff all
// four fields match exactly; the timestamp carries full millisecond
// precision.
type PairKey struct {
	TimestampMs int64
	FromAsset   string
	ToAsset     string
	Exchange    string
}

// NewPairKey builds a cache key from a transaction timestamp.
func NewPairKey(ts time.Time, fromAsset, toAsset, exchange string) PairKey {
	return PairKey{
		TimestampMs: ts.UnixMilli(),
		FromAsset:   fromAsset,
		ToAsset:     toAsset,
		Exchange:    exchange,
	}
}

// Reciprocal returns the key for the reverse-direction lookup.
func (k PairKey) Reciprocal() PairKey {
	return PairKey{
		TimestampMs: k.TimestampMs,
		FromAsset:   k.ToAsset,
		ToAsset:     k.FromAsset,
		Exchange:    k.Exchange,
	}
}

// Time returns the key timestamp in UTC.
func (k PairKey) Time() time.Time {
	return time.UnixMilli(k.TimestampMs).UTC()
}

func (k PairKey) String() string {
	return fmt.Sprintf("%s/%s@%s(%d)", k.FromAsset, k.ToAsset, k.Exchange, k.TimestampMs)
}

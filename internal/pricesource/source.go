// Package pricesource provides the raw OHLCV providers the conversion
// layer falls back to on cache misses: a REST candle client and a bulk
// CSV archive reader. Providers know nothing about graphs or caching.
package pricesource

import (
	"context"
	"time"

	"crypto-price-lab/internal/domain"
)

// Granularity ladder, in escalation order. A lookup that finds no bar
// at one granularity retries at the next coarser one.
var Granularities = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	6 * time.Hour,
	24 * time.Hour,
	7 * 24 * time.Hour,
}

// Market is one tradeable pair on an exchange.
type Market struct {
	Base  string
	Quote string
}

// BarSource is the provider contract. FetchOHLCV returns bars starting
// at or after start; a nil slice with nil error means the provider has
// no data for that window, which is a normal outcome rather than an
// error.
type BarSource interface {
	Name() string
	FetchOHLCV(ctx context.Context, base, quote string, start time.Time, granularity time.Duration, limit int) ([]domain.HistoricalBar, error)
	Markets(ctx context.Context) ([]Market, error)
}

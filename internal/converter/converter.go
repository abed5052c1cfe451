// Package converter resolves conversion rates between assets at a point
// in time. The concrete Exchange converter builds per-exchange market
// graphs bounded by the transaction manifest, keeps them in a time
// index, and fills bars from price providers through an in-memory
// cache with durable persistence.
package converter

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"crypto-price-lab/internal/domain"
	"crypto-price-lab/internal/manifest"
)

// PairConverter is the plugin contract the transaction resolver works
// against. Implementations are selected at configuration time.
//
// GetHistoricBarFromNativeSource queries the provider directly, with
// no caching and no graph logic; GetConversionRate is the full path
// with cache, graph routing and provider fallback. Both report no
// data as a nil result, never as an error.
type PairConverter interface {
	Name() string
	CacheKey() string
	Optimize(m *manifest.Manifest)
	GetHistoricBarFromNativeSource(ctx context.Context, ts time.Time, fromAsset, toAsset, exchange string) (*domain.HistoricalBar, error)
	GetConversionRate(ctx context.Context, ts time.Time, fromAsset, toAsset, exchange string) (*decimal.Decimal, error)
	SaveHistoricalPriceCache(ctx context.Context) error
}

// quotePriority ranks quote currencies when seeding graph edges from
// exchange markets. Only pairs quoted in one of these assets become
// default edges; higher values are preferred during path tie-breaks
// until weekly volume data replaces them.
var quotePriority = map[string]float64{
	"USD":  8,
	"USDT": 7,
	"USDC": 6,
	"BTC":  5,
	"ETH":  4,
	"EUR":  3,
	"BUSD": 2,
	"BNB":  1,
}

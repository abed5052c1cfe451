// Package storage defines persistence contracts for resolved price
// data. Each pair converter owns one cache partition, named by its
// cache key, and loads/saves it whole.
package storage

import (
	"context"

	"crypto-price-lab/internal/domain"
)

// PriceStore persists one price-cache partition per converter.
type PriceStore interface {
	// Load reads a whole partition. Returns ErrNotFound if the
	// partition has never been saved and ErrCacheFormat if it exists
	// but cannot be decoded.
	Load(ctx context.Context, partition string) (map[domain.PairKey]domain.HistoricalBar, error)

	// Save writes a whole partition, replacing any previous contents.
	Save(ctx context.Context, partition string, bars map[domain.PairKey]domain.HistoricalBar) error
}

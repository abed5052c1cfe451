// Package manifest pre-scans the full transaction set so pair
// converter plugins know up front which assets and exchanges need
// pricing and how far back history must reach.
package manifest

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"crypto-price-lab/internal/domain"
)

// Manifest is the read-only summary of one run's transactions.
type Manifest struct {
	assets    map[string]struct{}
	exchanges map[string]struct{}
	firstTime time.Time
}

type chunkResult struct {
	firstTime time.Time
	assets    map[string]struct{}
	exchanges map[string]struct{}
}

// Build scans transactions with the given number of workers. Each
// worker summarizes one contiguous chunk; merging is a set union plus a
// min-reduction, so worker completion order cannot affect the result.
// The native fiat is always part of the asset set.
func Build(ctx context.Context, transactions []domain.Transaction, workers int, nativeFiat string) (*Manifest, error) {
	if workers < 1 {
		workers = 1
	}
	if workers > len(transactions) && len(transactions) > 0 {
		workers = len(transactions)
	}

	results := make([]chunkResult, workers)
	group, ctx := errgroup.WithContext(ctx)

	chunkSize := 0
	if len(transactions) > 0 {
		chunkSize = (len(transactions) + workers - 1) / workers
	}
	for i := 0; i < workers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(transactions) {
			end = len(transactions)
		}
		chunk := transactions[start:end]
		i := i
		group.Go(func() error {
			result, err := scanChunk(ctx, chunk)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	merged := &Manifest{
		assets:    map[string]struct{}{nativeFiat: {}},
		exchanges: make(map[string]struct{}),
		firstTime: time.Now().UTC(),
	}
	for _, result := range results {
		for asset := range result.assets {
			merged.assets[asset] = struct{}{}
		}
		for exchange := range result.exchanges {
			merged.exchanges[exchange] = struct{}{}
		}
		if !result.firstTime.IsZero() && result.firstTime.Before(merged.firstTime) {
			merged.firstTime = result.firstTime
		}
	}
	return merged, nil
}

func scanChunk(ctx context.Context, transactions []domain.Transaction) (chunkResult, error) {
	result := chunkResult{
		assets:    make(map[string]struct{}),
		exchanges: make(map[string]struct{}),
	}
	for i := range transactions {
		if err := ctx.Err(); err != nil {
			return chunkResult{}, err
		}
		tx := &transactions[i]
		result.assets[tx.Asset] = struct{}{}
		if result.firstTime.IsZero() || tx.Timestamp.Before(result.firstTime) {
			result.firstTime = tx.Timestamp
		}
		exchange, err := tx.PricingExchange()
		if err != nil {
			return chunkResult{}, err
		}
		result.exchanges[exchange] = struct{}{}
	}
	return result, nil
}

// Assets returns the referenced assets in sorted order.
func (m *Manifest) Assets() []string {
	return sortedKeys(m.assets)
}

// HasAsset reports whether asset appears in the run.
func (m *Manifest) HasAsset(asset string) bool {
	_, ok := m.assets[asset]
	return ok
}

// Exchanges returns the referenced exchanges in sorted order.
func (m *Manifest) Exchanges() []string {
	return sortedKeys(m.exchanges)
}

// HasExchange reports whether exchange appears in the run.
func (m *Manifest) HasExchange(exchange string) bool {
	_, ok := m.exchanges[exchange]
	return ok
}

// FirstTransactionTime returns the earliest transaction timestamp.
func (m *Manifest) FirstTransactionTime() time.Time {
	return m.firstTime
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

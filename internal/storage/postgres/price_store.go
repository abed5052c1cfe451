package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"crypto-price-lab/internal/domain"
	"crypto-price-lab/internal/storage"
)

// PriceStore is a Postgres-backed implementation of storage.PriceStore.
type PriceStore struct {
	pool *Pool
}

// NewPriceStore creates a price store on an existing pool.
func NewPriceStore(pool *Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

// Load reads a whole partition. A partition with no rows has never
// been saved and reports storage.ErrNotFound.
func (s *PriceStore) Load(ctx context.Context, partition string) (map[domain.PairKey]domain.HistoricalBar, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT timestamp_ms, from_asset, to_asset, exchange,
		       duration_ms, bar_timestamp_ms,
		       open::text, high::text, low::text, close::text, volume::text
		FROM historical_price_cache
		WHERE partition = $1`, partition)
	if err != nil {
		return nil, fmt.Errorf("query partition %q: %w", partition, err)
	}
	defer rows.Close()

	bars := make(map[domain.PairKey]domain.HistoricalBar)
	for rows.Next() {
		var (
			key                        domain.PairKey
			durationMs, barTimestampMs int64
			open, high, low, close_, volume string
		)
		if err := rows.Scan(
			&key.TimestampMs, &key.FromAsset, &key.ToAsset, &key.Exchange,
			&durationMs, &barTimestampMs,
			&open, &high, &low, &close_, &volume,
		); err != nil {
			return nil, fmt.Errorf("scan partition %q: %w", partition, err)
		}

		bar, err := decodeBar(durationMs, barTimestampMs, open, high, low, close_, volume)
		if err != nil {
			return nil, fmt.Errorf("partition %q key %s: %w", partition, key, storage.ErrCacheFormat)
		}
		bars[key] = bar
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partition %q: %w", partition, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("partition %q: %w", partition, storage.ErrNotFound)
	}
	return bars, nil
}

// Save replaces a whole partition in one transaction.
func (s *PriceStore) Save(ctx context.Context, partition string, bars map[domain.PairKey]domain.HistoricalBar) error {
	if partition == "" {
		return fmt.Errorf("%w: empty partition name", storage.ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save of partition %q: %w", partition, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM historical_price_cache WHERE partition = $1`, partition); err != nil {
		return fmt.Errorf("clear partition %q: %w", partition, err)
	}

	batch := &pgx.Batch{}
	for key, bar := range bars {
		batch.Queue(`
			INSERT INTO historical_price_cache
			    (partition, timestamp_ms, from_asset, to_asset, exchange,
			     duration_ms, bar_timestamp_ms, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			partition, key.TimestampMs, key.FromAsset, key.ToAsset, key.Exchange,
			bar.Duration.Milliseconds(), bar.Timestamp.UnixMilli(),
			bar.Open.String(), bar.High.String(), bar.Low.String(),
			bar.Close.String(), bar.Volume.String(),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write partition %q: %w", partition, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit partition %q: %w", partition, err)
	}
	return nil
}

func decodeBar(durationMs, barTimestampMs int64, open, high, low, close_, volume string) (domain.HistoricalBar, error) {
	bar := domain.HistoricalBar{
		Duration:  time.Duration(durationMs) * time.Millisecond,
		Timestamp: time.UnixMilli(barTimestampMs).UTC(),
	}
	var err error
	if bar.Open, err = decimal.NewFromString(open); err != nil {
		return domain.HistoricalBar{}, err
	}
	if bar.High, err = decimal.NewFromString(high); err != nil {
		return domain.HistoricalBar{}, err
	}
	if bar.Low, err = decimal.NewFromString(low); err != nil {
		return domain.HistoricalBar{}, err
	}
	if bar.Close, err = decimal.NewFromString(close_); err != nil {
		return domain.HistoricalBar{}, err
	}
	if bar.Volume, err = decimal.NewFromString(volume); err != nil {
		return domain.HistoricalBar{}, err
	}
	return bar, nil
}

package postgres

import (
	"context"
	"fmt"
)

// Schema for the historical price cache. One row per cached bar; the
// primary key mirrors the PairKey plus the owning partition.
const schema = `
CREATE TABLE IF NOT EXISTS historical_price_cache (
    partition     TEXT    NOT NULL,
    timestamp_ms  BIGINT  NOT NULL,
    from_asset    TEXT    NOT NULL,
    to_asset      TEXT    NOT NULL,
    exchange      TEXT    NOT NULL,
    duration_ms   BIGINT  NOT NULL,
    bar_timestamp_ms BIGINT NOT NULL,
    open          NUMERIC NOT NULL,
    high          NUMERIC NOT NULL,
    low           NUMERIC NOT NULL,
    close         NUMERIC NOT NULL,
    volume        NUMERIC NOT NULL,
    PRIMARY KEY (partition, timestamp_ms, from_asset, to_asset, exchange)
);

CREATE INDEX IF NOT EXISTS idx_price_cache_partition
    ON historical_price_cache (partition);
`

// EnsureSchema creates the cache table if it does not exist.
func EnsureSchema(ctx context.Context, pool *Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure price cache schema: %w", err)
	}
	return nil
}

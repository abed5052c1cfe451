// Package disk implements the default price-cache store: a directory
// where each partition is one file holding an opaque gob blob. This
// layout is the contract external tooling may rely on when inspecting
// or pruning the cache directory.
package disk

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"crypto-price-lab/internal/domain"
	"crypto-price-lab/internal/storage"
)

// DefaultDir is the cache directory used when none is configured.
const DefaultDir = ".price_cache"

// Store is a file-per-partition blob store rooted at a directory.
type Store struct {
	dir string
}

// New creates a store rooted at dir. The directory is created lazily
// on first save.
func New(dir string) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{dir: dir}
}

// Load reads and decodes one partition file.
func (s *Store) Load(_ context.Context, partition string) (map[domain.PairKey]domain.HistoricalBar, error) {
	path := filepath.Join(s.dir, partition)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("partition %q: %w", partition, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read cache partition %q: %w", partition, err)
	}

	var bars map[domain.PairKey]domain.HistoricalBar
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&bars); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, storage.ErrCacheFormat)
	}
	return bars, nil
}

// Save encodes and writes one partition file. The write goes through a
// temp file and rename so a crash never leaves a truncated partition.
func (s *Store) Save(_ context.Context, partition string, bars map[domain.PairKey]domain.HistoricalBar) error {
	if partition == "" {
		return fmt.Errorf("%w: empty partition name", storage.ErrInvalidInput)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %q: %w", s.dir, err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(bars); err != nil {
		return fmt.Errorf("encode cache partition %q: %w", partition, err)
	}

	tmp, err := os.CreateTemp(s.dir, partition+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache partition %q: %w", partition, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, partition)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish cache partition %q: %w", partition, err)
	}
	return nil
}

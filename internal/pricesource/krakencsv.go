package pricesource

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"crypto-price-lab/internal/domain"
)

// Kraken publishes bulk OHLCVT history as zip archives of per-pair CSV
// files named like XBTUSD_1.csv, where the suffix is the bar length in
// minutes. The files are far too large to scan per lookup, so Sync
// splits them into fixed time windows on disk and FetchOHLCV reads
// only the window covering the requested start time.

// DefaultChunkWindow is the time span of one on-disk chunk file.
const DefaultChunkWindow = 30 * 24 * time.Hour

const manifestFile = "manifest.json"

// CSVArchiveSource implements BarSource over locally chunked bulk
// archives.
type CSVArchiveSource struct {
	name        string
	dataDir     string
	archiveURL  string // template with one %s for the concatenated pair
	client      *http.Client
	window      time.Duration
	decodeLimit int
}

// ArchiveOption configures CSVArchiveSource.
type ArchiveOption func(*CSVArchiveSource)

// WithChunkWindow sets the time span of each chunk file.
func WithChunkWindow(d time.Duration) ArchiveOption {
	return func(s *CSVArchiveSource) {
		s.window = d
	}
}

// WithArchiveHTTPClient sets a custom http.Client for downloads.
func WithArchiveHTTPClient(client *http.Client) ArchiveOption {
	return func(s *CSVArchiveSource) {
		s.client = client
	}
}

// WithDecodeWorkers caps how many archive entries are decoded in
// parallel during Sync.
func WithDecodeWorkers(n int) ArchiveOption {
	return func(s *CSVArchiveSource) {
		s.decodeLimit = n
	}
}

// NewCSVArchiveSource creates an archive source rooted at dataDir.
// archiveURL must contain one %s placeholder for the pair, e.g.
// "https://example.com/ohlcvt/%s.zip".
func NewCSVArchiveSource(name, dataDir, archiveURL string, opts ...ArchiveOption) *CSVArchiveSource {
	s := &CSVArchiveSource{
		name:        name,
		dataDir:     dataDir,
		archiveURL:  archiveURL,
		client:      &http.Client{Timeout: 5 * time.Minute},
		window:      DefaultChunkWindow,
		decodeLimit: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name reports the exchange this archive covers.
func (s *CSVArchiveSource) Name() string {
	return s.name
}

// archiveManifest records which pairs have been chunked locally.
type archiveManifest struct {
	Window time.Duration `json:"window_ns"`
	Pairs  []Market      `json:"pairs"`
}

// Sync downloads and chunks the archives for the given pairs. Pairs
// already present in the local manifest are skipped, so repeated runs
// only fetch what is missing.
func (s *CSVArchiveSource) Sync(ctx context.Context, pairs []Market) error {
	manifest, err := s.loadManifest()
	if err != nil {
		return err
	}

	have := make(map[Market]bool, len(manifest.Pairs))
	for _, p := range manifest.Pairs {
		have[p] = true
	}

	for _, pair := range pairs {
		if have[pair] {
			continue
		}
		if err := s.syncPair(ctx, pair); err != nil {
			return fmt.Errorf("sync %s%s archive: %w", pair.Base, pair.Quote, err)
		}
		manifest.Pairs = append(manifest.Pairs, pair)
	}

	manifest.Window = s.window
	return s.saveManifest(manifest)
}

func (s *CSVArchiveSource) syncPair(ctx context.Context, pair Market) error {
	url := fmt.Sprintf(s.archiveURL, pair.Base+pair.Quote)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("download archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download archive: unexpected status %d", resp.StatusCode)
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read archive body: %w", err)
	}
	reader, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.decodeLimit)
	for _, entry := range reader.File {
		minutes, ok := entryGranularity(entry.Name, pair)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return s.chunkEntry(entry, pair, minutes)
		})
	}
	return g.Wait()
}

// entryGranularity parses "<BASE><QUOTE>_<minutes>.csv" names, ignoring
// entries for other pairs.
func entryGranularity(name string, pair Market) (int, bool) {
	base := strings.TrimSuffix(filepath.Base(name), ".csv")
	prefix := pair.Base + pair.Quote + "_"
	if !strings.HasPrefix(base, prefix) {
		return 0, false
	}
	minutes, err := strconv.Atoi(strings.TrimPrefix(base, prefix))
	if err != nil || minutes <= 0 {
		return 0, false
	}
	return minutes, true
}

// chunkEntry streams one CSV entry into window files. Rows within a
// window stay in their original order; the source files are already
// time sorted.
func (s *CSVArchiveSource) chunkEntry(entry *zip.File, pair Market, minutes int) error {
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", entry.Name, err)
	}
	defer rc.Close()

	dir := s.chunkDir(pair, minutes)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create chunk dir %q: %w", dir, err)
	}

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1

	var (
		out         *os.File
		writer      *csv.Writer
		windowStart int64 = -1
	)
	closeChunk := func() error {
		if out == nil {
			return nil
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			closeChunk()
			return fmt.Errorf("read entry %s: %w", entry.Name, err)
		}
		if len(row) < 6 {
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			closeChunk()
			return fmt.Errorf("entry %s: bad timestamp %q: %w", entry.Name, row[0], err)
		}

		start := s.windowStart(time.Unix(ts, 0))
		if start != windowStart {
			if err := closeChunk(); err != nil {
				return fmt.Errorf("flush chunk: %w", err)
			}
			out, err = os.Create(filepath.Join(dir, strconv.FormatInt(start, 10)+".csv"))
			if err != nil {
				return fmt.Errorf("create chunk file: %w", err)
			}
			writer = csv.NewWriter(out)
			windowStart = start
		}
		if err := writer.Write(row); err != nil {
			closeChunk()
			return fmt.Errorf("write chunk row: %w", err)
		}
	}
	return closeChunk()
}

// FetchOHLCV reads bars from the chunk covering start. A pair or
// granularity never synced, or a window with no chunk file, is a
// normal no-data outcome.
func (s *CSVArchiveSource) FetchOHLCV(ctx context.Context, base, quote string, start time.Time, granularity time.Duration, limit int) ([]domain.HistoricalBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	minutes := int(granularity / time.Minute)
	if minutes <= 0 {
		return nil, nil
	}
	dir := s.chunkDir(Market{Base: base, Quote: quote}, minutes)
	path := filepath.Join(dir, strconv.FormatInt(s.windowStart(start), 10)+".csv")

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open chunk %q: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var bars []domain.HistoricalBar
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read chunk %q: %w", path, err)
		}
		bar, err := decodeOHLCVTRow(row, granularity)
		if err != nil {
			return nil, fmt.Errorf("chunk %q: %w", path, err)
		}
		if bar.Timestamp.Before(start) {
			continue
		}
		bars = append(bars, bar)
		if limit > 0 && len(bars) >= limit {
			break
		}
	}
	return bars, nil
}

// Markets lists the pairs present in the local manifest, sorted for
// deterministic iteration.
func (s *CSVArchiveSource) Markets(_ context.Context) ([]Market, error) {
	manifest, err := s.loadManifest()
	if err != nil {
		return nil, err
	}
	pairs := append([]Market(nil), manifest.Pairs...)
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Base != pairs[j].Base {
			return pairs[i].Base < pairs[j].Base
		}
		return pairs[i].Quote < pairs[j].Quote
	})
	return pairs, nil
}

func (s *CSVArchiveSource) chunkDir(pair Market, minutes int) string {
	return filepath.Join(s.dataDir, pair.Base+pair.Quote, strconv.Itoa(minutes))
}

func (s *CSVArchiveSource) windowStart(ts time.Time) int64 {
	w := int64(s.window / time.Second)
	return ts.Unix() / w * w
}

func (s *CSVArchiveSource) loadManifest() (*archiveManifest, error) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, manifestFile))
	if os.IsNotExist(err) {
		return &archiveManifest{Window: s.window}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read archive manifest: %w", err)
	}
	var m archiveManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode archive manifest: %w", err)
	}
	return &m, nil
}

func (s *CSVArchiveSource) saveManifest(m *archiveManifest) error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %q: %w", s.dataDir, err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode archive manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dataDir, manifestFile), data, 0o644); err != nil {
		return fmt.Errorf("write archive manifest: %w", err)
	}
	return nil
}

// decodeOHLCVTRow parses one "ts,open,high,low,close,volume[,trades]"
// row. Timestamps are unix seconds.
func decodeOHLCVTRow(row []string, granularity time.Duration) (domain.HistoricalBar, error) {
	if len(row) < 6 {
		return domain.HistoricalBar{}, fmt.Errorf("row has %d fields, want at least 6", len(row))
	}
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return domain.HistoricalBar{}, fmt.Errorf("bad timestamp %q: %w", row[0], err)
	}

	bar := domain.HistoricalBar{
		Duration:  granularity,
		Timestamp: time.Unix(ts, 0).UTC(),
	}
	fields := []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
	for i, dst := range fields {
		d, err := decimal.NewFromString(row[i+1])
		if err != nil {
			return domain.HistoricalBar{}, fmt.Errorf("bad field %q: %w", row[i+1], err)
		}
		*dst = d
	}
	return bar, nil
}

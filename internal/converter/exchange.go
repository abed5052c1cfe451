package converter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crypto-price-lab/internal/domain"
	"crypto-price-lab/internal/graph"
	"crypto-price-lab/internal/manifest"
	"crypto-price-lab/internal/observability"
	"crypto-price-lab/internal/pricesource"
	"crypto-price-lab/internal/storage"
)

// Errors reported by the exchange converter.
var (
	// ErrNotOptimized is returned when a rate is requested before the
	// manifest has been handed to the converter.
	ErrNotOptimized = errors.New("converter used before Optimize")

	// ErrSnapshotsBuilt is returned when graph snapshots for an
	// exchange are built a second time on the same converter.
	ErrSnapshotsBuilt = errors.New("graph snapshots already built for exchange")
)

// DefaultFlushEvery is how many resolved bars accumulate between
// automatic cache flushes.
const DefaultFlushEvery = 200

const week = 7 * 24 * time.Hour

// Options configures an Exchange converter.
type Options struct {
	// Name identifies the plugin and prefixes its cache partition.
	Name string

	// NativeFiat is the run's target fiat currency.
	NativeFiat string

	// PriceType selects the bar dimension used for conversion rates.
	// Defaults to nearest.
	PriceType domain.PriceType

	// Sources maps exchange names to their OHLCV providers.
	Sources map[string]pricesource.BarSource

	// Fiat routes fiat-to-fiat hops. Optional; without it fiat pairs
	// are unresolvable.
	Fiat *FiatRateSource

	// Store persists the price cache between runs.
	Store storage.PriceStore

	// Logger defaults to log.Default().
	Logger *log.Logger

	// FlushEvery is the number of resolved bars between automatic
	// cache flushes. Zero means DefaultFlushEvery; negative disables
	// periodic flushing.
	FlushEvery int

	// Now is overridable for tests. Defaults to time.Now.
	Now func() time.Time
}

// Exchange resolves conversion rates through per-exchange market
// graphs. One instance owns its cache partition; callers must not
// share an instance across goroutines.
type Exchange struct {
	name       string
	nativeFiat string
	priceType  domain.PriceType
	sources    map[string]pricesource.BarSource
	fiat       *FiatRateSource
	store      storage.PriceStore
	logger     *log.Logger
	flushEvery int
	now        func() time.Time

	manifest *manifest.Manifest
	cache    map[domain.PairKey]domain.HistoricalBar
	indexes  map[string]*graph.TimeIndex
	lookups  int
}

var _ PairConverter = (*Exchange)(nil)

// NewExchange validates options and creates a converter.
func NewExchange(opts Options) (*Exchange, error) {
	if opts.Name == "" {
		return nil, errors.New("converter name is required")
	}
	if opts.NativeFiat == "" {
		return nil, errors.New("native fiat is required")
	}
	if opts.Store == nil {
		return nil, errors.New("price store is required")
	}
	if opts.PriceType == "" {
		opts.PriceType = domain.PriceTypeNearest
	}
	if !domain.ValidPriceType(opts.PriceType) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPriceType, opts.PriceType)
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.FlushEvery == 0 {
		opts.FlushEvery = DefaultFlushEvery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Exchange{
		name:       opts.Name,
		nativeFiat: opts.NativeFiat,
		priceType:  opts.PriceType,
		sources:    opts.Sources,
		fiat:       opts.Fiat,
		store:      opts.Store,
		logger:     opts.Logger,
		flushEvery: opts.FlushEvery,
		now:        opts.Now,
		cache:      make(map[domain.PairKey]domain.HistoricalBar),
		indexes:    make(map[string]*graph.TimeIndex),
	}, nil
}

// Name identifies this plugin.
func (e *Exchange) Name() string {
	return e.name
}

// CacheKey names this plugin's cache partition: the plugin name plus
// configuration modifiers, so differently configured runs never share
// cached prices.
func (e *Exchange) CacheKey() string {
	key := strings.ToLower(e.name)
	if e.fiat != nil {
		if modifier := e.fiat.CacheKeyModifier(); modifier != "" {
			key += "_" + modifier
		}
	}
	return key
}

// Optimize hands the manifest to the converter. Must be called before
// the first rate request; graph construction is bounded by the
// manifest's asset and exchange sets.
func (e *Exchange) Optimize(m *manifest.Manifest) {
	e.manifest = m
}

// LoadHistoricalPriceCache warms the in-memory cache from storage. A
// partition that has never been saved is a clean start, not an error.
func (e *Exchange) LoadHistoricalPriceCache(ctx context.Context) error {
	bars, err := e.store.Load(ctx, e.CacheKey())
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	e.cache = bars
	e.logger.Printf("loaded %d cached prices for %s", len(bars), e.CacheKey())
	return nil
}

// SaveHistoricalPriceCache persists the in-memory cache.
func (e *Exchange) SaveHistoricalPriceCache(ctx context.Context) error {
	if len(e.cache) == 0 {
		return nil
	}
	if err := e.store.Save(ctx, e.CacheKey(), e.cache); err != nil {
		return fmt.Errorf("save price cache %s: %w", e.CacheKey(), err)
	}
	observability.RecordCacheFlush(len(e.cache))
	return nil
}

// GetConversionRate resolves the fromAsset -> toAsset rate at ts on
// exchange. A nil rate means no price data or no path, which the
// caller treats as an expected outcome.
func (e *Exchange) GetConversionRate(ctx context.Context, ts time.Time, fromAsset, toAsset, exchange string) (*decimal.Decimal, error) {
	started := e.now()
	observability.RecordLookup(exchange)

	bar, err := e.resolveBar(ctx, ts, fromAsset, toAsset, exchange)
	if err != nil {
		return nil, err
	}
	observability.DefaultMetrics.ConversionDuration.Observe(e.now().Sub(started).Seconds())
	if bar == nil {
		return nil, nil
	}

	price, err := bar.DerivePrice(ts, e.priceType)
	if err != nil {
		return nil, err
	}
	return &price, nil
}

// resolveBar is the cache-then-graph-then-provider pipeline behind
// GetConversionRate. Cache keys are floored to the minute so nearby
// transactions share entries.
func (e *Exchange) resolveBar(ctx context.Context, ts time.Time, fromAsset, toAsset, exchange string) (*domain.HistoricalBar, error) {
	if e.manifest == nil {
		return nil, ErrNotOptimized
	}
	if fromAsset == toAsset {
		bar := domain.UnitBar(ts)
		return &bar, nil
	}

	key := domain.NewPairKey(ts.Truncate(time.Minute), fromAsset, toAsset, exchange)
	if cached, ok := e.cache[key]; ok {
		observability.RecordCacheHit()
		return &cached, nil
	}
	observability.RecordCacheMiss()

	var (
		bar *domain.HistoricalBar
		err error
	)
	switch {
	case IsFiat(fromAsset) && IsFiat(toAsset):
		// Fiat pairs bypass exchange markets entirely.
		bar, err = e.fiatBar(ctx, ts, fromAsset, toAsset)
	default:
		bar, err = e.graphBar(ctx, ts, fromAsset, toAsset, exchange)
	}
	if err != nil || bar == nil {
		return bar, err
	}

	e.cachePut(key, *bar)
	e.lookups++
	if e.flushEvery > 0 && e.lookups%e.flushEvery == 0 {
		if err := e.SaveHistoricalPriceCache(ctx); err != nil {
			e.logger.Printf("periodic cache flush failed: %v", err)
		}
	}
	return bar, nil
}

// cachePut stores a bar under its key and, when the bar is invertible,
// under the reciprocal key so reverse lookups hit the cache too.
func (e *Exchange) cachePut(key domain.PairKey, bar domain.HistoricalBar) {
	e.cache[key] = bar
	if inverted, ok := bar.Invert(); ok {
		if _, exists := e.cache[key.Reciprocal()]; !exists {
			e.cache[key.Reciprocal()] = inverted
		}
	}
}

// graphBar routes a request through the exchange's market graph.
func (e *Exchange) graphBar(ctx context.Context, ts time.Time, fromAsset, toAsset, exchange string) (*domain.HistoricalBar, error) {
	index, err := e.exchangeIndex(ctx, exchange)
	if err != nil {
		return nil, err
	}

	g := index.FindFloor(ts)
	if g == nil {
		return nil, nil
	}

	if g.Vertex(fromAsset) == nil {
		// The asset never traded on this exchange under any market we
		// know. Resolving it to zero keeps the run going; the operator
		// sees the warning and can map the asset manually.
		e.logger.Printf("warning: %s is not tradeable on %s, assuming zero value", fromAsset, exchange)
		bar := domain.ConstantBar(ts, decimal.Zero)
		return &bar, nil
	}

	path := graph.ShortestPath(g, fromAsset, toAsset)
	if path == nil {
		observability.RecordNoPath()
		return nil, nil
	}

	var combined *domain.HistoricalBar
	for i := 0; i+1 < len(path); i++ {
		hop, err := e.hopBar(ctx, g, ts, path[i], path[i+1], exchange)
		if err != nil {
			return nil, err
		}
		if hop == nil {
			return nil, nil
		}
		if combined == nil {
			combined = hop
		} else {
			product := combined.Mul(*hop)
			combined = &product
		}
	}
	return combined, nil
}

// hopBar prices one edge of a path. Alias edges carry a fixed factor,
// fiat edges go through the fiat bridge, market edges hit the
// provider.
func (e *Exchange) hopBar(ctx context.Context, g *graph.Graph, ts time.Time, from, to, exchange string) (*domain.HistoricalBar, error) {
	if bar := g.AliasBar(from, to, ts); bar != nil {
		return bar, nil
	}
	if IsFiat(from) && IsFiat(to) {
		return e.fiatBar(ctx, ts, from, to)
	}
	return e.GetHistoricBarFromNativeSource(ctx, ts, from, to, exchange)
}

// fiatBar prices a fiat pair through the rate bridge as a synthetic
// daily bar.
func (e *Exchange) fiatBar(ctx context.Context, ts time.Time, from, to string) (*domain.HistoricalBar, error) {
	if e.fiat == nil {
		return nil, nil
	}
	r, err := e.fiat.Rate(ctx, ts, from, to)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}
	bar := domain.ConstantBar(ts, *r)
	bar.Duration = 24 * time.Hour
	return &bar, nil
}

// GetHistoricBarFromNativeSource queries the provider directly,
// walking the granularity ladder from finest to coarsest until one
// yields data. Exhausting the ladder is a normal no-data outcome.
// Provider I/O errors propagate; there is no retry across time.
func (e *Exchange) GetHistoricBarFromNativeSource(ctx context.Context, ts time.Time, fromAsset, toAsset, exchange string) (*domain.HistoricalBar, error) {
	source, ok := e.sources[exchange]
	if !ok {
		return nil, nil
	}

	for _, granularity := range pricesource.Granularities {
		started := e.now()
		bars, err := source.FetchOHLCV(ctx, fromAsset, toAsset, ts.Truncate(granularity), granularity, 1)
		observability.RecordProviderCall(exchange, e.now().Sub(started).Seconds(), err)
		if err != nil {
			return nil, err
		}
		if len(bars) > 0 {
			observability.RecordGranularityFill(granularity.String())
			return &bars[0], nil
		}
	}
	return nil, nil
}

// exchangeIndex returns the snapshot index for exchange, building it
// on first use. Snapshots are immutable once registered.
func (e *Exchange) exchangeIndex(ctx context.Context, exchange string) (*graph.TimeIndex, error) {
	if index, ok := e.indexes[exchange]; ok {
		return index, nil
	}
	return e.buildGraphSnapshots(ctx, exchange)
}

// buildGraphSnapshots enumerates the exchange's markets, seeds a base
// graph bounded by the manifest, then registers one optimized snapshot
// per week from the first transaction onward. Building an exchange
// twice on the same converter is a programming error.
func (e *Exchange) buildGraphSnapshots(ctx context.Context, exchange string) (*graph.TimeIndex, error) {
	if _, ok := e.indexes[exchange]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotsBuilt, exchange)
	}
	started := e.now()

	index := graph.NewTimeIndex()
	e.indexes[exchange] = index

	base := graph.New(exchange)
	marketsByBase := make(map[string][]pricesource.Market)

	source, ok := e.sources[exchange]
	if ok {
		markets, err := source.Markets(ctx)
		if err != nil {
			return nil, fmt.Errorf("enumerate markets on %s: %w", exchange, err)
		}
		for _, market := range markets {
			// Markets based on a priority quote asset stay too, so a
			// path can continue from an intermediate like USDT to the
			// native fiat.
			if _, isQuote := quotePriority[market.Base]; !isQuote && !e.manifest.HasAsset(market.Base) {
				continue
			}
			weight, ok := quotePriority[market.Quote]
			if !ok {
				continue
			}
			if err := base.AddNeighbor(market.Base, market.Quote, weight); err != nil {
				return nil, err
			}
			marketsByBase[market.Base] = append(marketsByBase[market.Base], market)
		}
	}
	e.addFiatEdges(base)

	firstWeek := e.manifest.FirstTransactionTime().UTC().Truncate(week)
	now := e.now()
	for weekStart := firstWeek; !weekStart.After(now); weekStart = weekStart.Add(week) {
		snapshot := base
		for _, asset := range e.manifest.Assets() {
			if IsFiat(asset) || snapshot.IsOptimized(asset) {
				continue
			}
			overrides, err := e.weeklyOverrides(ctx, asset, marketsByBase[asset], weekStart, exchange)
			if err != nil {
				return nil, err
			}
			if overrides == nil {
				continue
			}
			snapshot, err = snapshot.CloneWithOptimization(asset, overrides)
			if err != nil {
				return nil, err
			}
		}
		index.Insert(weekStart, snapshot)
	}

	observability.RecordSnapshotBuild(exchange, len(base.Assets()), e.now().Sub(started).Seconds())
	e.logger.Printf("built %d weekly graph snapshots for %s (%d assets)",
		index.Len(), exchange, len(base.Assets()))
	return index, nil
}

// addFiatEdges connects every fiat currency the run can touch so paths
// may cross from a quote fiat to the native fiat. Weight is below any
// market edge so real markets win tie-breaks.
func (e *Exchange) addFiatEdges(g *graph.Graph) {
	fiats := map[string]struct{}{e.nativeFiat: {}}
	if e.fiat != nil {
		for _, f := range e.fiat.Priority() {
			fiats[f] = struct{}{}
		}
	}
	for _, asset := range g.Assets() {
		if IsFiat(asset) {
			fiats[asset] = struct{}{}
		}
	}
	for from := range fiats {
		for to := range fiats {
			if from == to {
				continue
			}
			// Both names are non-empty, AddNeighbor cannot fail.
			_ = g.AddNeighbor(from, to, 0.5)
		}
	}
}

// weeklyOverrides ranks one asset's markets by traded volume during
// the week and produces the edge overrides for the snapshot clone.
// Markets with no data that week are dropped; an asset with no data at
// all keeps its default edges (nil overrides).
func (e *Exchange) weeklyOverrides(ctx context.Context, asset string, markets []pricesource.Market, weekStart time.Time, exchange string) (map[string]float64, error) {
	source, ok := e.sources[exchange]
	if !ok || len(markets) == 0 {
		return nil, nil
	}

	type ranked struct {
		quote  string
		volume decimal.Decimal
	}
	var traded []ranked
	for _, market := range markets {
		bars, err := source.FetchOHLCV(ctx, market.Base, market.Quote, weekStart, week, 1)
		if err != nil {
			return nil, fmt.Errorf("weekly volume for %s/%s on %s: %w", market.Base, market.Quote, exchange, err)
		}
		if len(bars) == 0 {
			continue
		}
		traded = append(traded, ranked{quote: market.Quote, volume: bars[0].Volume})
	}
	if len(traded) == 0 {
		return nil, nil
	}

	sort.Slice(traded, func(i, j int) bool {
		if !traded[i].volume.Equal(traded[j].volume) {
			return traded[i].volume.GreaterThan(traded[j].volume)
		}
		return traded[i].quote < traded[j].quote
	})

	overrides := make(map[string]float64, len(traded))
	for i, entry := range traded {
		overrides[entry.quote] = float64(len(traded) - i)
	}
	return overrides, nil
}

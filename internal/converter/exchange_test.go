package converter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-price-lab/internal/domain"
	"crypto-price-lab/internal/manifest"
	"crypto-price-lab/internal/pricesource"
	"crypto-price-lab/internal/storage"
)

// stubSource serves canned bars keyed by pair and granularity.
type stubSource struct {
	name    string
	markets []pricesource.Market
	bars    map[string]domain.HistoricalBar
	calls   int
}

func barKey(base, quote string, granularity time.Duration) string {
	return fmt.Sprintf("%s/%s@%s", base, quote, granularity)
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchOHLCV(_ context.Context, base, quote string, _ time.Time, granularity time.Duration, _ int) ([]domain.HistoricalBar, error) {
	s.calls++
	if bar, ok := s.bars[barKey(base, quote, granularity)]; ok {
		return []domain.HistoricalBar{bar}, nil
	}
	return nil, nil
}

func (s *stubSource) Markets(_ context.Context) ([]pricesource.Market, error) {
	return s.markets, nil
}

// memStore is an in-memory storage.PriceStore.
type memStore struct {
	partitions map[string]map[domain.PairKey]domain.HistoricalBar
	saves      int
}

func newMemStore() *memStore {
	return &memStore{partitions: make(map[string]map[domain.PairKey]domain.HistoricalBar)}
}

func (s *memStore) Load(_ context.Context, partition string) (map[domain.PairKey]domain.HistoricalBar, error) {
	bars, ok := s.partitions[partition]
	if !ok {
		return nil, fmt.Errorf("partition %q: %w", partition, storage.ErrNotFound)
	}
	return bars, nil
}

func (s *memStore) Save(_ context.Context, partition string, bars map[domain.PairKey]domain.HistoricalBar) error {
	copied := make(map[domain.PairKey]domain.HistoricalBar, len(bars))
	for key, bar := range bars {
		copied[key] = bar
	}
	s.partitions[partition] = copied
	s.saves++
	return nil
}

var testTime = time.Date(2021, 5, 3, 12, 0, 0, 0, time.UTC)

func minuteBar(ts time.Time, open, close string) domain.HistoricalBar {
	return domain.HistoricalBar{
		Duration:  time.Minute,
		Timestamp: ts,
		Open:      decimal.RequireFromString(open),
		High:      decimal.RequireFromString(open),
		Low:       decimal.RequireFromString(close),
		Close:     decimal.RequireFromString(close),
		Volume:    decimal.NewFromInt(10),
	}
}

func newTestConverter(t *testing.T, source *stubSource, assets []string) (*Exchange, *memStore) {
	t.Helper()

	var txs []domain.Transaction
	for _, asset := range assets {
		txs = append(txs, domain.Transaction{
			Kind:      domain.KindIn,
			Asset:     asset,
			Timestamp: testTime,
			Exchange:  "Kraken",
		})
	}
	m, err := manifest.Build(context.Background(), txs, 1, "USD")
	require.NoError(t, err)

	store := newMemStore()
	conv, err := NewExchange(Options{
		Name:       "test",
		NativeFiat: "USD",
		Sources:    map[string]pricesource.BarSource{"Kraken": source},
		Store:      store,
		FlushEvery: -1,
		Now:        func() time.Time { return testTime.Add(48 * time.Hour) },
	})
	require.NoError(t, err)
	conv.Optimize(m)
	return conv, store
}

func TestExchange_DirectMarket(t *testing.T) {
	source := &stubSource{
		name:    "Kraken",
		markets: []pricesource.Market{{Base: "BTC", Quote: "USD"}},
		bars: map[string]domain.HistoricalBar{
			barKey("BTC", "USD", time.Minute): minuteBar(testTime.Truncate(time.Minute), "57123.5", "57190.2"),
		},
	}
	conv, _ := newTestConverter(t, source, []string{"BTC"})

	rate, err := conv.GetConversionRate(context.Background(), testTime, "BTC", "USD", "Kraken")
	require.NoError(t, err)
	require.NotNil(t, rate)
	// NEAREST at the bar start resolves to open.
	assert.True(t, rate.Equal(decimal.RequireFromString("57123.5")), "got %s", rate)
}

func TestExchange_MultiHopMultipliesRates(t *testing.T) {
	source := &stubSource{
		name: "Kraken",
		markets: []pricesource.Market{
			{Base: "BTC", Quote: "USDT"},
			{Base: "USDT", Quote: "USD"},
		},
		bars: map[string]domain.HistoricalBar{
			barKey("BTC", "USDT", time.Minute): minuteBar(testTime.Truncate(time.Minute), "50000", "50100"),
			barKey("USDT", "USD", time.Minute): minuteBar(testTime.Truncate(time.Minute), "0.999", "1.001"),
		},
	}
	conv, _ := newTestConverter(t, source, []string{"BTC"})

	rate, err := conv.GetConversionRate(context.Background(), testTime, "BTC", "USD", "Kraken")
	require.NoError(t, err)
	require.NotNil(t, rate)
	want := decimal.RequireFromString("50000").Mul(decimal.RequireFromString("0.999"))
	assert.True(t, rate.Equal(want), "got %s want %s", rate, want)
}

func TestExchange_NoPathReturnsNil(t *testing.T) {
	// BTC/USDT exists but nothing links USDT to USD.
	source := &stubSource{
		name:    "Kraken",
		markets: []pricesource.Market{{Base: "BTC", Quote: "USDT"}},
	}
	conv, _ := newTestConverter(t, source, []string{"BTC"})

	rate, err := conv.GetConversionRate(context.Background(), testTime, "BTC", "USD", "Kraken")
	require.NoError(t, err)
	assert.Nil(t, rate)
}

func TestExchange_ReciprocalCached(t *testing.T) {
	source := &stubSource{
		name:    "Kraken",
		markets: []pricesource.Market{{Base: "BTC", Quote: "USD"}},
		bars: map[string]domain.HistoricalBar{
			barKey("BTC", "USD", time.Minute): minuteBar(testTime.Truncate(time.Minute), "50000", "40000"),
		},
	}
	conv, _ := newTestConverter(t, source, []string{"BTC"})
	ctx := context.Background()

	_, err := conv.GetConversionRate(ctx, testTime, "BTC", "USD", "Kraken")
	require.NoError(t, err)

	key := domain.NewPairKey(testTime.Truncate(time.Minute), "BTC", "USD", "Kraken")
	inverted, ok := conv.cache[key.Reciprocal()]
	require.True(t, ok, "reciprocal key not cached")
	one := decimal.NewFromInt(1)
	assert.True(t, inverted.Open.Equal(one.Div(decimal.RequireFromString("40000"))))
	assert.True(t, inverted.Close.Equal(one.Div(decimal.RequireFromString("50000"))))
	assert.True(t, inverted.Volume.IsZero())

	// The reverse lookup is now a cache hit; no provider call needed.
	before := source.calls
	rate, err := conv.GetConversionRate(ctx, testTime, "USD", "BTC", "Kraken")
	require.NoError(t, err)
	require.NotNil(t, rate)
	assert.Equal(t, before, source.calls)
}

func TestExchange_GranularityEscalation(t *testing.T) {
	// Only hourly data exists; the ladder walks 1m, 5m, 15m first.
	hourBar := minuteBar(testTime.Truncate(time.Hour), "3400", "3410")
	hourBar.Duration = time.Hour
	source := &stubSource{
		name:    "Kraken",
		markets: []pricesource.Market{{Base: "ETH", Quote: "USD"}},
		bars: map[string]domain.HistoricalBar{
			barKey("ETH", "USD", time.Hour): hourBar,
		},
	}
	conv, _ := newTestConverter(t, source, []string{"ETH"})

	bar, err := conv.GetHistoricBarFromNativeSource(context.Background(), testTime, "ETH", "USD", "Kraken")
	require.NoError(t, err)
	require.NotNil(t, bar)
	assert.Equal(t, time.Hour, bar.Duration)
}

func TestExchange_NativeSourceExhaustionIsNoData(t *testing.T) {
	source := &stubSource{name: "Kraken"}
	conv, _ := newTestConverter(t, source, []string{"ETH"})

	bar, err := conv.GetHistoricBarFromNativeSource(context.Background(), testTime, "ETH", "USD", "Kraken")
	require.NoError(t, err)
	assert.Nil(t, bar)
	assert.Equal(t, len(pricesource.Granularities), source.calls)
}

func TestExchange_SameAssetIsUnit(t *testing.T) {
	conv, _ := newTestConverter(t, &stubSource{name: "Kraken"}, []string{"BTC"})

	rate, err := conv.GetConversionRate(context.Background(), testTime, "BTC", "BTC", "Kraken")
	require.NoError(t, err)
	require.NotNil(t, rate)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestExchange_UntradeableAssetIsZero(t *testing.T) {
	source := &stubSource{
		name:    "Kraken",
		markets: []pricesource.Market{{Base: "BTC", Quote: "USD"}},
	}
	conv, _ := newTestConverter(t, source, []string{"BTC", "SCAMCOIN"})

	rate, err := conv.GetConversionRate(context.Background(), testTime, "SCAMCOIN", "USD", "Kraken")
	require.NoError(t, err)
	require.NotNil(t, rate)
	assert.True(t, rate.IsZero())
}

func TestExchange_SnapshotsBuiltOnce(t *testing.T) {
	source := &stubSource{
		name:    "Kraken",
		markets: []pricesource.Market{{Base: "BTC", Quote: "USD"}},
	}
	conv, _ := newTestConverter(t, source, []string{"BTC"})
	ctx := context.Background()

	_, err := conv.exchangeIndex(ctx, "Kraken")
	require.NoError(t, err)

	_, err = conv.buildGraphSnapshots(ctx, "Kraken")
	assert.ErrorIs(t, err, ErrSnapshotsBuilt)

	// Lazy access keeps reusing the built index.
	index, err := conv.exchangeIndex(ctx, "Kraken")
	require.NoError(t, err)
	assert.NotNil(t, index)
}

func TestExchange_WeeklyVolumeRanking(t *testing.T) {
	weekStart := testTime.Truncate(7 * 24 * time.Hour)
	weekBar := func(volume string) domain.HistoricalBar {
		bar := minuteBar(weekStart, "1", "1")
		bar.Duration = 7 * 24 * time.Hour
		bar.Volume = decimal.RequireFromString(volume)
		return bar
	}
	source := &stubSource{
		name: "Kraken",
		markets: []pricesource.Market{
			{Base: "BTC", Quote: "USDT"},
			{Base: "BTC", Quote: "USDC"},
			{Base: "BTC", Quote: "EUR"},
		},
		bars: map[string]domain.HistoricalBar{
			barKey("BTC", "USDC", 7*24*time.Hour): weekBar("100"),
			barKey("BTC", "USDT", 7*24*time.Hour): weekBar("40"),
		},
	}
	conv, _ := newTestConverter(t, source, []string{"BTC"})

	index, err := conv.exchangeIndex(context.Background(), "Kraken")
	require.NoError(t, err)
	g := index.FindFloor(testTime)
	require.NotNil(t, g)

	// The traded quotes are ranked by volume; EUR had no data that
	// week, so its edge is dropped by the optimization clone.
	usdc, ok := g.Vertex("BTC").Weight("USDC")
	require.True(t, ok)
	usdt, ok := g.Vertex("BTC").Weight("USDT")
	require.True(t, ok)
	assert.Greater(t, usdc, usdt)
	_, ok = g.Vertex("BTC").Weight("EUR")
	assert.False(t, ok)
	assert.True(t, g.IsOptimized("BTC"))
}

func TestExchange_PeriodicFlush(t *testing.T) {
	source := &stubSource{
		name:    "Kraken",
		markets: []pricesource.Market{{Base: "BTC", Quote: "USD"}},
		bars: map[string]domain.HistoricalBar{
			barKey("BTC", "USD", time.Minute): minuteBar(testTime.Truncate(time.Minute), "50000", "50100"),
		},
	}
	conv, store := newTestConverter(t, source, []string{"BTC"})
	conv.flushEvery = 1

	_, err := conv.GetConversionRate(context.Background(), testTime, "BTC", "USD", "Kraken")
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)
}

func TestExchange_CacheRoundTrip(t *testing.T) {
	source := &stubSource{
		name:    "Kraken",
		markets: []pricesource.Market{{Base: "BTC", Quote: "USD"}},
		bars: map[string]domain.HistoricalBar{
			barKey("BTC", "USD", time.Minute): minuteBar(testTime.Truncate(time.Minute), "50000", "50100"),
		},
	}
	conv, store := newTestConverter(t, source, []string{"BTC"})
	ctx := context.Background()

	first, err := conv.GetConversionRate(ctx, testTime, "BTC", "USD", "Kraken")
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NoError(t, conv.SaveHistoricalPriceCache(ctx))

	// A fresh converter with the same store and configuration answers
	// from the warmed cache without touching the provider.
	fresh, _ := newTestConverter(t, &stubSource{name: "Kraken"}, []string{"BTC"})
	fresh.store = store
	require.NoError(t, fresh.LoadHistoricalPriceCache(ctx))

	rate, err := fresh.GetConversionRate(ctx, testTime, "BTC", "USD", "Kraken")
	require.NoError(t, err)
	require.NotNil(t, rate)
	assert.True(t, rate.Equal(*first))
}

func TestExchange_RequiresOptimize(t *testing.T) {
	conv, err := NewExchange(Options{
		Name:       "test",
		NativeFiat: "USD",
		Store:      newMemStore(),
	})
	require.NoError(t, err)

	_, err = conv.GetConversionRate(context.Background(), testTime, "BTC", "USD", "Kraken")
	assert.ErrorIs(t, err, ErrNotOptimized)
}

func TestNewExchange_Validation(t *testing.T) {
	_, err := NewExchange(Options{NativeFiat: "USD", Store: newMemStore()})
	assert.Error(t, err, "missing name")

	_, err = NewExchange(Options{Name: "x", Store: newMemStore()})
	assert.Error(t, err, "missing native fiat")

	_, err = NewExchange(Options{Name: "x", NativeFiat: "USD"})
	assert.Error(t, err, "missing store")

	_, err = NewExchange(Options{Name: "x", NativeFiat: "USD", Store: newMemStore(), PriceType: "median"})
	assert.ErrorIs(t, err, domain.ErrUnknownPriceType)
}

package converter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// fiatCurrencies is the set of assets routed through the fiat bridge
// instead of exchange markets.
var fiatCurrencies = map[string]struct{}{
	"AUD": {}, "CAD": {}, "CHF": {}, "CZK": {}, "DKK": {}, "EUR": {},
	"GBP": {}, "HKD": {}, "JPY": {}, "NOK": {}, "NZD": {}, "PLN": {},
	"SEK": {}, "SGD": {}, "USD": {}, "ZAR": {},
}

// IsFiat reports whether asset is a fiat currency.
func IsFiat(asset string) bool {
	_, ok := fiatCurrencies[asset]
	return ok
}

// FiatRateSource resolves fiat-to-fiat rates from a historical exchange
// rate API (one date per request, rates keyed by symbol). Rates for a
// (date, from) pair are fetched once and reused for the whole run.
type FiatRateSource struct {
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	priority []string

	// byDay caches one API response per (date, base) request.
	byDay map[string]map[string]decimal.Decimal
}

// FiatOption configures FiatRateSource.
type FiatOption func(*FiatRateSource)

// WithFiatHTTPClient sets a custom http.Client.
func WithFiatHTTPClient(client *http.Client) FiatOption {
	return func(f *FiatRateSource) {
		f.client = client
	}
}

// WithFiatRateLimit sets the per-second request budget.
func WithFiatRateLimit(rps float64) FiatOption {
	return func(f *FiatRateSource) {
		f.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// NewFiatRateSource creates a fiat bridge. priority lists the fiat
// currencies this run prefers as conversion targets, first entry
// first; it also becomes part of the owning converter's cache key so
// runs with different priorities never share cache partitions.
func NewFiatRateSource(baseURL string, priority []string, opts ...FiatOption) *FiatRateSource {
	f := &FiatRateSource{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(1), 1),
		priority: append([]string(nil), priority...),
		byDay:    make(map[string]map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Priority returns the configured fiat priority list.
func (f *FiatRateSource) Priority() []string {
	return append([]string(nil), f.priority...)
}

// CacheKeyModifier renders the priority list for cache partition names,
// e.g. "usd_eur".
func (f *FiatRateSource) CacheKeyModifier() string {
	if len(f.priority) == 0 {
		return ""
	}
	return strings.ToLower(strings.Join(f.priority, "_"))
}

// Rate returns the from -> to rate on the day of ts, or nil if the API
// has no rate for that pair.
func (f *FiatRateSource) Rate(ctx context.Context, ts time.Time, from, to string) (*decimal.Decimal, error) {
	if from == to {
		one := decimal.NewFromInt(1)
		return &one, nil
	}

	day := ts.UTC().Format("2006-01-02")
	cacheKey := day + "/" + from
	rates, ok := f.byDay[cacheKey]
	if !ok {
		var err error
		rates, err = f.fetchDay(ctx, day, from)
		if err != nil {
			return nil, err
		}
		f.byDay[cacheKey] = rates
	}

	r, ok := rates[to]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *FiatRateSource) fetchDay(ctx context.Context, day, base string) (map[string]decimal.Decimal, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("base", base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/"+day+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create fiat rate request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch fiat rates for %s on %s: %w", base, day, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read fiat rate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fiat rate API returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Rates map[string]json.Number `json:"rates"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode fiat rate response: %w", err)
	}

	rates := make(map[string]decimal.Decimal, len(payload.Rates))
	for symbol, value := range payload.Rates {
		d, err := decimal.NewFromString(value.String())
		if err != nil {
			return nil, fmt.Errorf("bad fiat rate %s=%s: %w", symbol, value, err)
		}
		rates[symbol] = d
	}
	return rates, nil
}

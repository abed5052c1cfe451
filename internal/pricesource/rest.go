package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"crypto-price-lab/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
	DefaultRateLimit   = 5 // requests per second
)

// RESTSource implements BarSource against an exchange candle API that
// serves OHLCV rows as JSON arrays of [timestamp_ms, open, high, low,
// close, volume].
type RESTSource struct {
	name        string
	baseURL     string
	client      *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// RESTOption configures RESTSource.
type RESTOption func(*RESTSource)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) RESTOption {
	return func(s *RESTSource) {
		s.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) RESTOption {
	return func(s *RESTSource) {
		s.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) RESTOption {
	return func(s *RESTSource) {
		s.retryDelay = d
	}
}

// WithRateLimit sets the per-second request budget.
func WithRateLimit(rps float64) RESTOption {
	return func(s *RESTSource) {
		s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) RESTOption {
	return func(s *RESTSource) {
		s.client = client
	}
}

// NewRESTSource creates a candle client for one exchange endpoint.
func NewRESTSource(name, baseURL string, opts ...RESTOption) *RESTSource {
	s := &RESTSource{
		name:        name,
		baseURL:     baseURL,
		client:      &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name reports the exchange this source serves.
func (s *RESTSource) Name() string {
	return s.name
}

// FetchOHLCV queries one page of candles. A provider with no candles
// for the window returns an empty body or empty array; both map to a
// nil slice.
func (s *RESTSource) FetchOHLCV(ctx context.Context, base, quote string, start time.Time, granularity time.Duration, limit int) ([]domain.HistoricalBar, error) {
	q := url.Values{}
	q.Set("symbol", base+"/"+quote)
	q.Set("timeframe", timeframeLabel(granularity))
	q.Set("since", strconv.FormatInt(start.UnixMilli(), 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var rows [][]json.Number
	if err := s.get(ctx, "/ohlcv?"+q.Encode(), &rows); err != nil {
		return nil, fmt.Errorf("fetch %s/%s candles from %s: %w", base, quote, s.name, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	bars := make([]domain.HistoricalBar, 0, len(rows))
	for _, row := range rows {
		bar, err := decodeCandleRow(row, granularity)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s candle from %s: %w", base, quote, s.name, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// Markets lists the tradeable pairs the exchange serves.
func (s *RESTSource) Markets(ctx context.Context) ([]Market, error) {
	var rows []struct {
		Base  string `json:"base"`
		Quote string `json:"quote"`
	}
	if err := s.get(ctx, "/markets", &rows); err != nil {
		return nil, fmt.Errorf("fetch markets from %s: %w", s.name, err)
	}

	markets := make([]Market, len(rows))
	for i, row := range rows {
		markets[i] = Market{Base: row.Base, Quote: row.Quote}
	}
	return markets, nil
}

// get performs a GET with retries and exponential backoff. Rate
// limiting applies before every attempt, including retries.
func (s *RESTSource) get(ctx context.Context, path string, result interface{}) error {
	delay := s.retryDelay
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * s.backoffMult)
			if delay > s.maxDelay {
				delay = s.maxDelay
			}
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
			continue
		}

		if len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// decodeCandleRow parses one [ts_ms, o, h, l, c, v] array.
func decodeCandleRow(row []json.Number, granularity time.Duration) (domain.HistoricalBar, error) {
	if len(row) < 6 {
		return domain.HistoricalBar{}, fmt.Errorf("candle row has %d fields, want 6", len(row))
	}

	tsMs, err := row[0].Int64()
	if err != nil {
		return domain.HistoricalBar{}, fmt.Errorf("candle timestamp: %w", err)
	}

	bar := domain.HistoricalBar{
		Duration:  granularity,
		Timestamp: time.UnixMilli(tsMs).UTC(),
	}
	fields := []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
	for i, dst := range fields {
		d, err := decimal.NewFromString(row[i+1].String())
		if err != nil {
			return domain.HistoricalBar{}, fmt.Errorf("candle field %d: %w", i+1, err)
		}
		*dst = d
	}
	return bar, nil
}

// timeframeLabel renders a granularity the way candle APIs spell them.
func timeframeLabel(granularity time.Duration) string {
	switch {
	case granularity >= 7*24*time.Hour:
		return fmt.Sprintf("%dw", granularity/(7*24*time.Hour))
	case granularity >= 24*time.Hour:
		return fmt.Sprintf("%dd", granularity/(24*time.Hour))
	case granularity >= time.Hour:
		return fmt.Sprintf("%dh", granularity/time.Hour)
	default:
		return fmt.Sprintf("%dm", granularity/time.Minute)
	}
}

// Package yahoo provides a client for the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/insight-engine/internal/resilience"
)

// Client defines the market data operations used by the heatmap layer.
type Client interface {
	// Quote fetches the latest quote for a symbol.
	Quote(ctx context.Context, symbol string) (*Quote, error)
	// History fetches daily bars for a symbol over the given range
	// (e.g. "1mo", "3mo") and interval (e.g. "1d", "1wk").
	History(ctx context.Context, symbol, rng, interval string) (*History, error)
}

// Quote holds the latest market snapshot for one symbol.
type Quote struct {
	Symbol           string
	Price            float64
	PreviousClose    float64
	DayChangePct     float64
	Volume           int64
	FiftyTwoWeekHigh float64
	FiftyTwoWeekLow  float64
	Currency         string
}

// History holds daily bars for one symbol, oldest first. Entries with a nil
// close in the upstream payload are dropped, so all slices share one length.
type History struct {
	Symbol     string
	Timestamps []time.Time
	Open       []float64
	High       []float64
	Low        []float64
	Close      []float64
	Volume     []int64
}

// chartResponse mirrors the chart API payload.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				PreviousClose      float64 `json:"previousClose"`
				RegularMarketVol   int64   `json:"regularMarketVolume"`
				FiftyTwoWeekHigh   float64 `json:"fiftyTwoWeekHigh"`
				FiftyTwoWeekLow    float64 `json:"fiftyTwoWeekLow"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Option configures the Yahoo client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. Yahoo throttles bursty
// unauthenticated clients, so the default stays well under their limit.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Yahoo Finance chart client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://query1.finance.yahoo.com",
		http: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures. The rate limiter gates every attempt.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}

		retryReq := req.Clone(ctx)

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "yahoo: read response body")
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("yahoo: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) fetchChart(ctx context.Context, symbol, rng, interval string) (*chartResponse, error) {
	reqURL := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=%s", c.baseURL, symbol, rng, interval)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "yahoo: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; insight-engine/1.0)")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "yahoo: request failed")
	}

	if statusCode == http.StatusNotFound {
		return nil, eris.Errorf("yahoo: unknown symbol %s", symbol)
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("yahoo: unexpected status %d: %s", statusCode, string(body))
	}

	var result chartResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "yahoo: unmarshal response")
	}

	if result.Chart.Error != nil {
		return nil, eris.Errorf("yahoo: %s: %s", result.Chart.Error.Code, result.Chart.Error.Description)
	}
	if len(result.Chart.Result) == 0 {
		return nil, eris.Errorf("yahoo: empty result for %s", symbol)
	}

	return &result, nil
}

func (c *httpClient) Quote(ctx context.Context, symbol string) (*Quote, error) {
	resp, err := c.fetchChart(ctx, symbol, "1d", "1d")
	if err != nil {
		return nil, err
	}

	meta := resp.Chart.Result[0].Meta
	prev := meta.ChartPreviousClose
	if meta.PreviousClose > 0 {
		prev = meta.PreviousClose
	}

	q := &Quote{
		Symbol:           meta.Symbol,
		Price:            meta.RegularMarketPrice,
		PreviousClose:    prev,
		Volume:           meta.RegularMarketVol,
		FiftyTwoWeekHigh: meta.FiftyTwoWeekHigh,
		FiftyTwoWeekLow:  meta.FiftyTwoWeekLow,
		Currency:         meta.Currency,
	}
	if prev > 0 {
		q.DayChangePct = (meta.RegularMarketPrice - prev) / prev * 100
	}
	return q, nil
}

func (c *httpClient) History(ctx context.Context, symbol, rng, interval string) (*History, error) {
	resp, err := c.fetchChart(ctx, symbol, rng, interval)
	if err != nil {
		return nil, err
	}

	res := resp.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, eris.Errorf("yahoo: no quote indicators for %s", symbol)
	}
	bars := res.Indicators.Quote[0]

	h := &History{Symbol: res.Meta.Symbol}
	for i, ts := range res.Timestamp {
		if i >= len(bars.Close) || bars.Close[i] == nil {
			continue
		}
		h.Timestamps = append(h.Timestamps, time.Unix(ts, 0).UTC())
		h.Close = append(h.Close, *bars.Close[i])
		h.Open = append(h.Open, deref(bars.Open, i))
		h.High = append(h.High, deref(bars.High, i))
		h.Low = append(h.Low, deref(bars.Low, i))
		h.Volume = append(h.Volume, derefInt(bars.Volume, i))
	}

	if len(h.Close) == 0 {
		return nil, eris.Errorf("yahoo: no usable bars for %s", symbol)
	}
	return h, nil
}

func deref(vals []*float64, i int) float64 {
	if i < len(vals) && vals[i] != nil {
		return *vals[i]
	}
	return 0
}

func derefInt(vals []*int64, i int) int64 {
	if i < len(vals) && vals[i] != nil {
		return *vals[i]
	}
	return 0
}

package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chartJSON = `{
  "chart": {
    "result": [{
      "meta": {
        "symbol": "NVDA",
        "currency": "USD",
        "regularMarketPrice": 190.0,
        "chartPreviousClose": 185.0,
        "regularMarketVolume": 250000000,
        "fiftyTwoWeekHigh": 212.19,
        "fiftyTwoWeekLow": 86.62
      },
      "timestamp": [1756123200, 1756209600, 1756296000],
      "indicators": {
        "quote": [{
          "open":   [182.0, 184.5, null],
          "high":   [185.0, 188.0, null],
          "low":    [181.0, 184.0, null],
          "close":  [184.0, 187.5, null],
          "volume": [200000000, 220000000, null]
        }]
      }
    }],
    "error": null
  }
}`

func newTestClient(url string) Client {
	return NewClient(WithBaseURL(url), WithRateLimit(1000))
}

func TestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/NVDA", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("range"))
		fmt.Fprint(w, chartJSON)
	}))
	defer srv.Close()

	q, err := newTestClient(srv.URL).Quote(context.Background(), "NVDA")
	require.NoError(t, err)

	assert.Equal(t, "NVDA", q.Symbol)
	assert.Equal(t, 190.0, q.Price)
	assert.Equal(t, 185.0, q.PreviousClose)
	assert.InDelta(t, 2.70, q.DayChangePct, 0.01)
	assert.Equal(t, int64(250000000), q.Volume)
	assert.Equal(t, "USD", q.Currency)
}

func TestHistory_DropsNilCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/NVDA", r.URL.Path)
		assert.Equal(t, "1mo", r.URL.Query().Get("range"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		fmt.Fprint(w, chartJSON)
	}))
	defer srv.Close()

	h, err := newTestClient(srv.URL).History(context.Background(), "NVDA", "1mo", "1d")
	require.NoError(t, err)

	// Third bar has a nil close and is dropped.
	require.Len(t, h.Close, 2)
	assert.Equal(t, []float64{184.0, 187.5}, h.Close)
	assert.Len(t, h.Timestamps, 2)
	assert.Len(t, h.Volume, 2)
}

func TestQuote_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, chartJSON)
	}))
	defer srv.Close()

	q, err := newTestClient(srv.URL).Quote(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 190.0, q.Price)
}

func TestQuote_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Quote(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No data found")
}

func TestQuote_NotFoundStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Quote(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown symbol")
}

func TestHistory_EmptyBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":[{"meta":{"symbol":"XLK"},"timestamp":[],"indicators":{"quote":[{"close":[]}]}}],"error":null}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).History(context.Background(), "XLK", "1mo", "1d")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable bars")
}

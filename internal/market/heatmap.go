package market

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/insight-engine/internal/resilience"
	"github.com/sells-group/insight-engine/pkg/yahoo"
)

// HeatmapFetcher assembles a full market heatmap: ETF history for sector
// moves plus per-stock history for breadth, movers and divergences.
type HeatmapFetcher struct {
	client      yahoo.Client
	universe    *UniverseBuilder
	concurrency int64
	breaker     *resilience.CircuitBreaker
	now         func() time.Time
}

// FetcherOption configures a HeatmapFetcher.
type FetcherOption func(*HeatmapFetcher)

// WithFetchConcurrency caps concurrent market data requests.
func WithFetchConcurrency(n int) FetcherOption {
	return func(f *HeatmapFetcher) {
		if n > 0 {
			f.concurrency = int64(n)
		}
	}
}

// WithFetcherClock injects a clock for tests.
func WithFetcherClock(now func() time.Time) FetcherOption {
	return func(f *HeatmapFetcher) {
		f.now = now
	}
}

// NewHeatmapFetcher creates a fetcher over the given market data client and
// universe. At most 10 requests run concurrently by default.
func NewHeatmapFetcher(client yahoo.Client, universe *UniverseBuilder, opts ...FetcherOption) *HeatmapFetcher {
	f := &HeatmapFetcher{
		client:      client,
		universe:    universe,
		concurrency: 10,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 8,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("market data circuit state changed",
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		}),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// symbolMetrics holds per-symbol computed history metrics.
type symbolMetrics struct {
	price       float64
	change1d    float64
	change5d    float64
	change20d   float64
	volumeRatio float64
}

// Fetch assembles a heatmap snapshot. Per-symbol failures are tolerated;
// the fetch fails only when fewer than half the sector ETFs return data.
func (f *HeatmapFetcher) Fetch(ctx context.Context) (*HeatmapData, error) {
	u, err := f.universe.Build()
	if err != nil {
		return nil, err
	}

	etfs := make([]string, 0, len(SectorETFs))
	for etf := range SectorETFs {
		etfs = append(etfs, etf)
	}
	sort.Strings(etfs)

	symbols := append(append([]string(nil), etfs...), u.Symbols()...)
	metrics := f.fetchMetrics(ctx, symbols)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	etfHits := 0
	for _, etf := range etfs {
		if _, ok := metrics[etf]; ok {
			etfHits++
		}
	}
	if etfHits < (len(etfs)+1)/2 {
		return nil, eris.Errorf("market: heatmap fetch degraded, only %d/%d sector ETFs returned data", etfHits, len(etfs))
	}

	data := &HeatmapData{
		Timestamp:    f.now().UTC(),
		MarketStatus: marketStatus(f.now()),
		Source:       SourcePrimary,
	}

	stocksBySector := make(map[string][]StockHeat)
	for sector, syms := range u.BySector {
		for _, sym := range syms {
			m, ok := metrics[sym]
			if !ok {
				continue
			}
			entry := StockHeat{
				Symbol:      sym,
				Sector:      sector,
				Price:       m.price,
				Change1D:    m.change1d,
				Change5D:    m.change5d,
				Change20D:   m.change20d,
				VolumeRatio: m.volumeRatio,
			}
			data.Stocks = append(data.Stocks, entry)
			stocksBySector[sector] = append(stocksBySector[sector], entry)
		}
	}

	for _, etf := range etfs {
		sector := SectorETFs[etf]
		etfM := metrics[etf]
		sectorStocks := stocksBySector[sector]

		breadth := 0.5
		if len(sectorStocks) > 0 {
			positive := 0
			for _, s := range sectorStocks {
				if s.Change1D > 0 {
					positive++
				}
			}
			breadth = float64(positive) / float64(len(sectorStocks))
		}

		by1D := make([]StockHeat, len(sectorStocks))
		copy(by1D, sectorStocks)
		sort.Slice(by1D, func(i, j int) bool { return by1D[i].Change1D > by1D[j].Change1D })

		var gainers, losers []string
		for _, s := range by1D[:min(3, len(by1D))] {
			gainers = append(gainers, s.Symbol)
		}
		for i := max(0, len(by1D)-3); i < len(by1D); i++ {
			losers = append(losers, by1D[i].Symbol)
		}

		entry := SectorHeat{
			Name:       sector,
			ETF:        etf,
			Breadth:    breadth,
			TopGainers: gainers,
			TopLosers:  losers,
			StockCount: len(sectorStocks),
		}
		if etfM != nil {
			entry.Change1D = etfM.change1d
			entry.Change5D = etfM.change5d
			entry.Change20D = etfM.change20d
		}
		data.Sectors = append(data.Sectors, entry)
	}

	zap.L().Info("heatmap fetched",
		zap.Int("sectors", len(data.Sectors)),
		zap.Int("stocks", len(data.Stocks)),
		zap.String("market_status", data.MarketStatus),
	)

	return data, nil
}

// fetchMetrics pulls 1-month history for each symbol with bounded
// concurrency. Failed symbols are logged and omitted.
func (f *HeatmapFetcher) fetchMetrics(ctx context.Context, symbols []string) map[string]*symbolMetrics {
	sem := semaphore.NewWeighted(f.concurrency)
	g, ctx := errgroup.WithContext(ctx)

	results := make([]*symbolMetrics, len(symbols))
	for i, sym := range symbols {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			h, err := resilience.ExecuteVal(ctx, f.breaker, func(ctx context.Context) (*yahoo.History, error) {
				return f.client.History(ctx, sym, "1mo", "1d")
			})
			if err != nil {
				zap.L().Debug("heatmap symbol skipped", zap.String("symbol", sym), zap.Error(err))
				return nil
			}
			results[i] = computeMetrics(h)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]*symbolMetrics)
	for i, sym := range symbols {
		if results[i] != nil {
			out[sym] = results[i]
		}
	}
	return out
}

// computeMetrics derives change and volume metrics from a history window.
// Returns nil when fewer than two closes are available.
func computeMetrics(h *yahoo.History) *symbolMetrics {
	n := len(h.Close)
	if n < 2 {
		return nil
	}

	current := h.Close[n-1]
	m := &symbolMetrics{price: current, volumeRatio: 1.0}

	if prev := h.Close[n-2]; prev != 0 {
		m.change1d = (current/prev - 1) * 100
	}
	if n >= 6 {
		if prev := h.Close[n-6]; prev != 0 {
			m.change5d = (current/prev - 1) * 100
		}
	}
	if first := h.Close[0]; first != 0 {
		m.change20d = (current/first - 1) * 100
	}

	if len(h.Volume) >= 2 {
		var sum int64
		for _, v := range h.Volume[:len(h.Volume)-1] {
			sum += v
		}
		avg := float64(sum) / float64(len(h.Volume)-1)
		if avg > 0 {
			m.volumeRatio = float64(h.Volume[len(h.Volume)-1]) / avg
		}
	}

	return m
}

package market

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-engine/pkg/yahoo"
)

// LegacyFetcher is the degraded fallback when the full heatmap fetch fails:
// sector ETF quotes only, no per-stock breadth. The resulting snapshot is
// tagged SourceFallback so downstream phases know coverage is thinner.
type LegacyFetcher struct {
	client yahoo.Client
	now    func() time.Time
}

// NewLegacyFetcher creates the fallback fetcher.
func NewLegacyFetcher(client yahoo.Client) *LegacyFetcher {
	return &LegacyFetcher{client: client, now: time.Now}
}

// Fetch pulls sector ETF quotes sequentially. It needs at least one ETF
// quote to succeed; with zero market data there is nothing to analyze.
func (f *LegacyFetcher) Fetch(ctx context.Context) (*HeatmapData, error) {
	etfs := make([]string, 0, len(SectorETFs))
	for etf := range SectorETFs {
		etfs = append(etfs, etf)
	}
	sort.Strings(etfs)

	data := &HeatmapData{
		Timestamp:    f.now().UTC(),
		MarketStatus: marketStatus(f.now()),
		Source:       SourceFallback,
	}

	for _, etf := range etfs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q, err := f.client.Quote(ctx, etf)
		if err != nil {
			zap.L().Warn("fallback sector quote failed", zap.String("etf", etf), zap.Error(err))
			continue
		}

		data.Sectors = append(data.Sectors, SectorHeat{
			Name:     SectorETFs[etf],
			ETF:      etf,
			Change1D: q.DayChangePct,
			Breadth:  0.5,
		})
	}

	if len(data.Sectors) == 0 {
		return nil, eris.New("market: fallback fetch returned no sector data")
	}

	zap.L().Info("fallback heatmap fetched", zap.Int("sectors", len(data.Sectors)))
	return data, nil
}

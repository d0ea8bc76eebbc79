// Package market builds the market snapshot the analysis pipeline runs on:
// the sector heatmap, the screening universe and the technical screen.
package market

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Source tags which branch produced a heatmap snapshot.
type Source string

const (
	// SourcePrimary means the full heatmap fetch succeeded.
	SourcePrimary Source = "primary"
	// SourceFallback means the degraded sector-only fetch was used.
	SourceFallback Source = "fallback"
)

// StockHeat is one stock's entry in the heatmap.
type StockHeat struct {
	Symbol      string  `json:"symbol"`
	Sector      string  `json:"sector"`
	Price       float64 `json:"price"`
	Change1D    float64 `json:"change_1d"`
	Change5D    float64 `json:"change_5d"`
	Change20D   float64 `json:"change_20d"`
	VolumeRatio float64 `json:"volume_ratio"`
}

// SectorHeat is one sector's aggregate entry in the heatmap.
type SectorHeat struct {
	Name       string   `json:"name"`
	ETF        string   `json:"etf"`
	Change1D   float64  `json:"change_1d"`
	Change5D   float64  `json:"change_5d"`
	Change20D  float64  `json:"change_20d"`
	Breadth    float64  `json:"breadth"`
	TopGainers []string `json:"top_gainers"`
	TopLosers  []string `json:"top_losers"`
	StockCount int      `json:"stock_count"`
}

// Divergence pairs a stock with the sector it is moving against.
type Divergence struct {
	Stock  StockHeat
	Sector SectorHeat
}

// HeatmapData is a complete market snapshot.
type HeatmapData struct {
	Sectors      []SectorHeat `json:"sectors"`
	Stocks       []StockHeat  `json:"stocks"`
	Timestamp    time.Time    `json:"timestamp"`
	MarketStatus string       `json:"market_status"`
	Source       Source       `json:"source"`
}

// SectorStocks returns the stocks belonging to the named sector.
func (h *HeatmapData) SectorStocks(sector string) []StockHeat {
	var out []StockHeat
	for _, s := range h.Stocks {
		if s.Sector == sector {
			out = append(out, s)
		}
	}
	return out
}

// Outliers returns stocks whose 1-day change exceeds thresholdStd standard
// deviations from the mean, sorted by absolute change descending.
func (h *HeatmapData) Outliers(thresholdStd float64) []StockHeat {
	if len(h.Stocks) == 0 {
		return nil
	}

	var mean float64
	for _, s := range h.Stocks {
		mean += s.Change1D
	}
	mean /= float64(len(h.Stocks))

	var variance float64
	for _, s := range h.Stocks {
		d := s.Change1D - mean
		variance += d * d
	}
	variance /= float64(len(h.Stocks))
	std := math.Sqrt(variance)
	if std == 0 {
		return nil
	}

	var out []StockHeat
	for _, s := range h.Stocks {
		if math.Abs(s.Change1D-mean) > thresholdStd*std {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return math.Abs(out[i].Change1D) > math.Abs(out[j].Change1D)
	})
	return out
}

// Divergences returns stocks moving against their sector: opposite 1-day
// direction with more than a 1% gap, sorted by gap magnitude descending.
func (h *HeatmapData) Divergences() []Divergence {
	sectorByName := make(map[string]SectorHeat, len(h.Sectors))
	for _, s := range h.Sectors {
		sectorByName[s.Name] = s
	}

	var out []Divergence
	for _, stock := range h.Stocks {
		sector, ok := sectorByName[stock.Sector]
		if !ok {
			continue
		}
		gap := stock.Change1D - sector.Change1D
		opposite := (stock.Change1D > 0 && sector.Change1D < 0) ||
			(stock.Change1D < 0 && sector.Change1D > 0)
		if math.Abs(gap) > 1.0 && opposite {
			out = append(out, Divergence{Stock: stock, Sector: sector})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		gi := math.Abs(out[i].Stock.Change1D - out[i].Sector.Change1D)
		gj := math.Abs(out[j].Stock.Change1D - out[j].Sector.Change1D)
		return gi > gj
	})
	return out
}

// FormatForLLM renders the heatmap as compact markdown for prompt context:
// sector table, top movers, divergences, outliers and breadth bars.
func (h *HeatmapData) FormatForLLM() string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Market Heatmap (%s UTC)\n", h.Timestamp.UTC().Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Market Status: %s\n\n", h.MarketStatus)

	b.WriteString("### Sector Performance\n")
	b.WriteString("| Sector | ETF | 1D | 5D | 20D | Breadth | Stocks |\n")
	b.WriteString("|--------|-----|-----|-----|------|---------|--------|\n")

	sectors := make([]SectorHeat, len(h.Sectors))
	copy(sectors, h.Sectors)
	sort.Slice(sectors, func(i, j int) bool { return sectors[i].Change1D > sectors[j].Change1D })
	for _, s := range sectors {
		fmt.Fprintf(&b, "| %s | %s | %+.2f%% | %+.2f%% | %+.2f%% | %.0f%% | %d |\n",
			s.Name, s.ETF, s.Change1D, s.Change5D, s.Change20D, s.Breadth*100, s.StockCount)
	}
	b.WriteString("\n")

	if len(h.Stocks) > 0 {
		stocks := make([]StockHeat, len(h.Stocks))
		copy(stocks, h.Stocks)
		sort.Slice(stocks, func(i, j int) bool { return stocks[i].Change1D > stocks[j].Change1D })

		b.WriteString("### Top 5 Gainers (1D)\n")
		for _, s := range stocks[:min(5, len(stocks))] {
			fmt.Fprintf(&b, "- %s (%s): %+.2f%% | 5D: %+.2f%% | Vol ratio: %.1fx\n",
				s.Symbol, s.Sector, s.Change1D, s.Change5D, s.VolumeRatio)
		}
		b.WriteString("\n### Top 5 Losers (1D)\n")
		for i := max(0, len(stocks)-5); i < len(stocks); i++ {
			s := stocks[i]
			fmt.Fprintf(&b, "- %s (%s): %+.2f%% | 5D: %+.2f%% | Vol ratio: %.1fx\n",
				s.Symbol, s.Sector, s.Change1D, s.Change5D, s.VolumeRatio)
		}
		b.WriteString("\n")
	}

	if divs := h.Divergences(); len(divs) > 0 {
		b.WriteString("### Notable Divergences (stock vs sector)\n")
		for _, d := range divs[:min(8, len(divs))] {
			fmt.Fprintf(&b, "- %s: %+.2f%% vs %s %+.2f%% (divergence: %+.2f%%)\n",
				d.Stock.Symbol, d.Stock.Change1D, d.Sector.Name, d.Sector.Change1D,
				d.Stock.Change1D-d.Sector.Change1D)
		}
		b.WriteString("\n")
	}

	if outliers := h.Outliers(2.0); len(outliers) > 0 {
		b.WriteString("### Statistical Outliers (>2 std from mean)\n")
		for _, s := range outliers[:min(6, len(outliers))] {
			fmt.Fprintf(&b, "- %s (%s): %+.2f%% | Vol: %.1fx\n",
				s.Symbol, s.Sector, s.Change1D, s.VolumeRatio)
		}
		b.WriteString("\n")
	}

	b.WriteString("### Breadth Summary\n")
	for _, s := range sectors {
		barLen := int(s.Breadth * 20)
		bar := strings.Repeat("#", barLen) + strings.Repeat(".", 20-barLen)
		fmt.Fprintf(&b, "  %-25s [%s] %.0f%%\n", s.Name, bar, s.Breadth*100)
	}

	return b.String()
}

// marketStatus approximates the current US market session.
func marketStatus(now time.Time) string {
	now = now.UTC()
	etHour := (now.Hour() - 5 + 24) % 24

	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return "closed"
	}
	switch {
	case etHour >= 4 && etHour < 9:
		return "pre_market"
	case etHour >= 9 && etHour < 16:
		return "open"
	case etHour >= 16 && etHour < 20:
		return "after_hours"
	default:
		return "closed"
	}
}

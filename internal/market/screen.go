package market

import (
	"math"
	"sort"
)

// Candidate is a screened deep-dive candidate with its technical score.
type Candidate struct {
	Symbol string
	Sector string
	Score  float64
	Reason string
}

// ScreenCandidates ranks heatmap stocks by technical interest: momentum,
// volume expansion, divergence from sector and outlier moves all add to the
// score. Returns at most limit candidates, best first.
func ScreenCandidates(data *HeatmapData, limit int) []Candidate {
	if len(data.Stocks) == 0 || limit <= 0 {
		return nil
	}

	divergent := make(map[string]bool)
	for _, d := range data.Divergences() {
		divergent[d.Stock.Symbol] = true
	}
	outliers := make(map[string]bool)
	for _, s := range data.Outliers(2.0) {
		outliers[s.Symbol] = true
	}

	candidates := make([]Candidate, 0, len(data.Stocks))
	for _, s := range data.Stocks {
		score, reason := scoreStock(s, divergent[s.Symbol], outliers[s.Symbol])
		candidates = append(candidates, Candidate{
			Symbol: s.Symbol,
			Sector: s.Sector,
			Score:  score,
			Reason: reason,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

func scoreStock(s StockHeat, divergent, outlier bool) (float64, string) {
	var score float64
	reason := "momentum"

	// Absolute short-term move, capped so one crash doesn't dominate.
	score += math.Min(math.Abs(s.Change1D), 10)
	score += math.Min(math.Abs(s.Change5D), 15) * 0.5

	// Trend alignment: 5d and 20d pointing the same way.
	if s.Change5D*s.Change20D > 0 {
		score += 2
	}

	// Volume expansion signals institutional interest.
	if s.VolumeRatio > 1.5 {
		score += (s.VolumeRatio - 1.5) * 2
		reason = "volume expansion"
	}

	if divergent {
		score += 5
		reason = "sector divergence"
	}
	if outlier {
		score += 4
		reason = "outlier move"
	}

	return score, reason
}

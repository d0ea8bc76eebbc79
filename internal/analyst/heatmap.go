package analyst

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-engine/internal/market"
)

// SymbolPick is one symbol selected for deep-dive analysis.
type SymbolPick struct {
	Symbol    string `json:"symbol"`
	Sector    string `json:"sector"`
	Priority  string `json:"priority"` // high, medium, low
	Rationale string `json:"rationale"`
}

// HeatmapAnalysis is the primary branch's pattern read: notable market
// patterns plus the symbols worth deep-diving.
type HeatmapAnalysis struct {
	Patterns []string     `json:"patterns"`
	Picks    []SymbolPick `json:"picks"`
	Summary  string       `json:"summary"`
}

const heatmapAnalyzerPrompt = `You are the market structure analyst of a
trading research team. You are given a sector heatmap snapshot and a macro
assessment. Identify the notable patterns (rotation, breadth divergences,
momentum clusters, outliers) and select the most promising symbols for deep
analysis. Prefer a mix of momentum leaders, divergences and contrarian
setups over a single theme.

Respond with ONLY a JSON object:
{
  "summary": "2-3 sentence market structure read",
  "patterns": ["..."],
  "picks": [
    {"symbol": "...", "sector": "...", "priority": "high|medium|low", "rationale": "..."}
  ]
}`

// HeatmapAnalyzer reads the full heatmap and selects deep-dive symbols.
// Used only on the primary branch; its failure triggers the fallback.
type HeatmapAnalyzer struct {
	caller *Caller
}

// NewHeatmapAnalyzer creates the analyzer.
func NewHeatmapAnalyzer(caller *Caller) *HeatmapAnalyzer {
	return &HeatmapAnalyzer{caller: caller}
}

// Analyze selects up to count symbols from the heatmap. The technical
// screen's top candidates are included in the prompt as hints, and fill in
// when the model picks fewer symbols than requested.
func (h *HeatmapAnalyzer) Analyze(ctx context.Context, data *market.HeatmapData, macro *MacroContext, count int) (*HeatmapAnalysis, error) {
	candidates := market.ScreenCandidates(data, count*2)

	user := fmt.Sprintf(`## Macro Assessment
%s
%s
## Screen Candidates
%s
Select up to %d symbols for deep analysis.`,
		macro.FormatForLLM(), data.FormatForLLM(), formatCandidates(candidates), count)

	raw, err := h.caller.Complete(ctx, heatmapAnalyzerPrompt, user)
	if err != nil {
		return nil, eris.Wrap(err, "analyst: heatmap analysis")
	}

	obj, err := DecodeObject(raw)
	if err != nil {
		return nil, eris.Wrap(err, "analyst: heatmap analysis parse")
	}

	analysis := &HeatmapAnalysis{
		Summary:  str(obj, "summary"),
		Patterns: strs(obj, "patterns"),
	}
	for _, p := range objs(obj, "picks") {
		sym := str(p, "symbol")
		if sym == "" {
			continue
		}
		analysis.Picks = append(analysis.Picks, SymbolPick{
			Symbol:    sym,
			Sector:    str(p, "sector"),
			Priority:  str(p, "priority"),
			Rationale: str(p, "rationale"),
		})
	}

	analysis.Picks = fillPicks(analysis.Picks, candidates, count)
	if len(analysis.Picks) == 0 {
		return nil, eris.New("analyst: heatmap analysis selected no symbols")
	}
	return analysis, nil
}

func formatCandidates(candidates []market.Candidate) string {
	if len(candidates) == 0 {
		return "(no screen candidates)\n"
	}
	out := ""
	for _, c := range candidates {
		out += fmt.Sprintf("- %s (%s): score %.1f, %s\n", c.Symbol, c.Sector, c.Score, c.Reason)
	}
	return out
}

// fillPicks dedups the model's picks, caps them at count, and backfills
// from the screen when the model under-selected.
func fillPicks(picks []SymbolPick, candidates []market.Candidate, count int) []SymbolPick {
	seen := make(map[string]bool)
	var out []SymbolPick
	for _, p := range picks {
		if seen[p.Symbol] || len(out) >= count {
			continue
		}
		seen[p.Symbol] = true
		out = append(out, p)
	}
	for _, c := range candidates {
		if len(out) >= count {
			break
		}
		if seen[c.Symbol] {
			continue
		}
		seen[c.Symbol] = true
		out = append(out, SymbolPick{
			Symbol:    c.Symbol,
			Sector:    c.Sector,
			Priority:  "medium",
			Rationale: c.Reason,
		})
	}
	return out
}

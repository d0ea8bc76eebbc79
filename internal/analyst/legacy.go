package analyst

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-engine/internal/market"
)

const sectorRotatorPrompt = `You are a sector rotation strategist. You are
given daily sector ETF performance and a macro assessment. Rank the sectors
most likely to lead over the next weeks and explain the rotation.

Respond with ONLY a JSON object:
{
  "top_sectors": ["...", "...", "..."],
  "rotation": "1-2 sentence rotation narrative"
}`

// SectorRotator ranks sectors on the fallback branch, where only coarse
// ETF-level data is available.
type SectorRotator struct {
	caller *Caller
}

func NewSectorRotator(caller *Caller) *SectorRotator {
	return &SectorRotator{caller: caller}
}

// Rotation is the fallback branch's sector ranking.
type Rotation struct {
	TopSectors []string
	Narrative  string
}

// Rotate ranks the sectors in data. When the model returns no usable
// ranking the sectors sorted by daily change are used instead.
func (s *SectorRotator) Rotate(ctx context.Context, data *market.HeatmapData, macro *MacroContext) (*Rotation, error) {
	user := fmt.Sprintf(`## Macro Assessment
%s
## Sector Performance
%s
Rank the top 3 sectors.`, macro.FormatForLLM(), formatSectors(data))

	raw, err := s.caller.Complete(ctx, sectorRotatorPrompt, user)
	if err != nil {
		return nil, eris.Wrap(err, "analyst: sector rotation")
	}
	obj, err := DecodeObject(raw)
	if err != nil {
		return nil, eris.Wrap(err, "analyst: sector rotation parse")
	}

	rot := &Rotation{
		TopSectors: strs(obj, "top_sectors"),
		Narrative:  str(obj, "rotation"),
	}
	if len(rot.TopSectors) == 0 {
		rot.TopSectors = sectorsByChange(data, 3)
	}
	if len(rot.TopSectors) > 3 {
		rot.TopSectors = rot.TopSectors[:3]
	}
	return rot, nil
}

const opportunityHunterPrompt = `You are an opportunity scout for a trading
research team. Full market breadth data is unavailable, so work from the
leading sectors and their core holdings. Pick the symbols most worth deep
analysis right now.

Respond with ONLY a JSON object:
{
  "picks": [
    {"symbol": "...", "sector": "...", "priority": "high|medium|low", "rationale": "..."}
  ]
}`

// OpportunityHunter picks deep-dive symbols on the fallback branch from
// the static holdings of the leading sectors.
type OpportunityHunter struct {
	caller *Caller
}

func NewOpportunityHunter(caller *Caller) *OpportunityHunter {
	return &OpportunityHunter{caller: caller}
}

// Hunt selects up to count symbols from the top sectors' known holdings.
// Under-selection by the model is topped up from the holdings lists so the
// fallback branch always produces a full slate.
func (o *OpportunityHunter) Hunt(ctx context.Context, rot *Rotation, macro *MacroContext, count int) ([]SymbolPick, error) {
	holdings := fallbackCandidates(rot.TopSectors)
	if len(holdings) == 0 {
		return nil, eris.New("analyst: no holdings for ranked sectors")
	}

	user := fmt.Sprintf(`## Macro Assessment
%s
## Leading Sectors
%s
## Candidate Holdings
%s
Select up to %d symbols for deep analysis.`,
		macro.FormatForLLM(), formatRotation(rot), formatPicks(holdings), count)

	raw, err := o.caller.Complete(ctx, opportunityHunterPrompt, user)
	if err != nil {
		return nil, eris.Wrap(err, "analyst: opportunity hunt")
	}
	obj, err := DecodeObject(raw)
	if err != nil {
		return nil, eris.Wrap(err, "analyst: opportunity hunt parse")
	}

	var picks []SymbolPick
	for _, p := range objs(obj, "picks") {
		sym := str(p, "symbol")
		if sym == "" {
			continue
		}
		picks = append(picks, SymbolPick{
			Symbol:    sym,
			Sector:    str(p, "sector"),
			Priority:  str(p, "priority"),
			Rationale: str(p, "rationale"),
		})
	}

	picks = fillFromHoldings(picks, holdings, count)
	if len(picks) == 0 {
		return nil, eris.New("analyst: opportunity hunt selected no symbols")
	}
	return picks, nil
}

func formatSectors(data *market.HeatmapData) string {
	sectors := append([]market.SectorHeat(nil), data.Sectors...)
	sort.Slice(sectors, func(i, j int) bool { return sectors[i].Change1D > sectors[j].Change1D })
	out := ""
	for _, s := range sectors {
		out += fmt.Sprintf("- %s (%s): %+.2f%% today\n", s.Name, s.ETF, s.Change1D)
	}
	return out
}

func formatRotation(rot *Rotation) string {
	out := ""
	for i, name := range rot.TopSectors {
		out += fmt.Sprintf("%d. %s\n", i+1, name)
	}
	if rot.Narrative != "" {
		out += "\n" + rot.Narrative + "\n"
	}
	return out
}

func formatPicks(picks []SymbolPick) string {
	out := ""
	for _, p := range picks {
		out += fmt.Sprintf("- %s (%s)\n", p.Symbol, p.Sector)
	}
	return out
}

func sectorsByChange(data *market.HeatmapData, n int) []string {
	sectors := append([]market.SectorHeat(nil), data.Sectors...)
	sort.Slice(sectors, func(i, j int) bool { return sectors[i].Change1D > sectors[j].Change1D })
	var names []string
	for _, s := range sectors {
		if len(names) >= n {
			break
		}
		names = append(names, s.Name)
	}
	return names
}

// fallbackCandidates lists the static holdings of the given sectors, in
// sector ranking order.
func fallbackCandidates(sectors []string) []SymbolPick {
	etfBySector := make(map[string]string, len(market.SectorETFs))
	for etf, name := range market.SectorETFs {
		etfBySector[name] = etf
	}
	var out []SymbolPick
	for _, name := range sectors {
		etf, ok := etfBySector[name]
		if !ok {
			continue
		}
		for _, sym := range market.FallbackHoldings[etf] {
			out = append(out, SymbolPick{Symbol: sym, Sector: name})
		}
	}
	return out
}

func fillFromHoldings(picks []SymbolPick, holdings []SymbolPick, count int) []SymbolPick {
	seen := make(map[string]bool)
	var out []SymbolPick
	for _, p := range picks {
		if seen[p.Symbol] || len(out) >= count {
			continue
		}
		seen[p.Symbol] = true
		out = append(out, p)
	}
	for _, h := range holdings {
		if len(out) >= count {
			break
		}
		if seen[h.Symbol] {
			continue
		}
		seen[h.Symbol] = true
		h.Priority = "medium"
		h.Rationale = "core holding of leading sector"
		out = append(out, h)
	}
	return out
}

package analyst

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-engine/internal/model"
)

const synthesisPrompt = `You are the head of research combining the bench's
deep-dive reports into a ranked set of actionable insights. Every insight
must cite which analysts and findings support it, carry an explicit action
and an invalidation trigger, and a calibrated confidence. Do not repeat one
symbol across multiple insights unless they express different trades.

Respond with ONLY a JSON array of insight objects:
[
  {
    "type": "opportunity|risk|rotation|divergence|macro",
    "action": "STRONG_BUY|BUY|HOLD|SELL|STRONG_SELL|WATCH",
    "title": "...",
    "thesis": "...",
    "primary_symbol": "...",
    "related_symbols": ["..."],
    "supporting_evidence": [
      {"analyst": "...", "finding": "...", "confidence": 0.0}
    ],
    "confidence": 0.0,
    "time_horizon": "short_term|medium_term|long_term",
    "risk_factors": ["..."],
    "invalidation_trigger": "..."
  }
]`

// SynthesisLead combines deep-dive reports into ranked insights.
type SynthesisLead struct {
	caller *Caller
}

func NewSynthesisLead(caller *Caller) *SynthesisLead {
	return &SynthesisLead{caller: caller}
}

// Synthesize merges the per-symbol reports into at most maxInsights
// normalized insights, ordered by confidence. extra carries any
// unresolved coverage gaps so the lead can qualify its conclusions.
func (s *SynthesisLead) Synthesize(ctx context.Context, reports map[string]map[string]model.WorkReport, macro *MacroContext, extra string, maxInsights int) ([]model.Insight, error) {
	if len(reports) == 0 {
		return nil, eris.New("analyst: no reports to synthesize")
	}

	user := fmt.Sprintf(`## Macro Assessment
%s
## Deep-Dive Reports
%s`, macro.FormatForLLM(), FormatReports(reports))
	if extra != "" {
		user += "\n## Known Coverage Gaps\n" + extra + "\n"
	}
	user += fmt.Sprintf("\nProduce at most %d insights.", maxInsights)

	raw, err := s.caller.Complete(ctx, synthesisPrompt, user)
	if err != nil {
		return nil, eris.Wrap(err, "analyst: synthesis")
	}
	items, err := decodeInsightArray(raw)
	if err != nil {
		return nil, eris.Wrap(err, "analyst: synthesis parse")
	}

	var insights []model.Insight
	for _, obj := range items {
		ins := model.Insight{
			Type:                model.InsightType(str(obj, "type")),
			Action:              model.InsightAction(str(obj, "action")),
			Title:               str(obj, "title"),
			Thesis:              str(obj, "thesis"),
			PrimarySymbol:       str(obj, "primary_symbol"),
			RelatedSymbols:      strs(obj, "related_symbols"),
			Confidence:          num(obj, "confidence"),
			TimeHorizon:         str(obj, "time_horizon"),
			RiskFactors:         strs(obj, "risk_factors"),
			InvalidationTrigger: str(obj, "invalidation_trigger"),
		}
		for _, ev := range objs(obj, "supporting_evidence") {
			ins.SupportingEvidence = append(ins.SupportingEvidence, model.Evidence{
				Analyst:    str(ev, "analyst"),
				Finding:    str(ev, "finding"),
				Confidence: num(ev, "confidence"),
			})
			ins.AnalystsInvolved = appendUnique(ins.AnalystsInvolved, str(ev, "analyst"))
		}
		if ins.Title == "" {
			continue
		}
		ins.Normalize()
		insights = append(insights, ins)
	}
	if len(insights) == 0 {
		return nil, eris.New("analyst: synthesis produced no insights")
	}

	sort.SliceStable(insights, func(i, j int) bool {
		return insights[i].Confidence > insights[j].Confidence
	})
	if len(insights) > maxInsights {
		insights = insights[:maxInsights]
	}
	return insights, nil
}

// FormatReports renders the deep-dive reports as markdown, grouped by
// symbol. Failed units appear as explicit gaps so the synthesis (and the
// coverage evaluator) can see what is missing.
func FormatReports(reports map[string]map[string]model.WorkReport) string {
	symbols := make([]string, 0, len(reports))
	for sym := range reports {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var b strings.Builder
	for _, sym := range symbols {
		fmt.Fprintf(&b, "### %s\n", sym)
		names := make([]string, 0, len(reports[sym]))
		for name := range reports[sym] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r := reports[sym][name]
			if r.Failed() {
				fmt.Fprintf(&b, "- %s: NO DATA (%s)\n", name, r.Err)
				continue
			}
			fmt.Fprintf(&b, "- %s (%s, confidence %.2f): %s\n", name, r.Action, r.Confidence, r.Summary)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

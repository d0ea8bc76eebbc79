package analyst

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

const coverageEvaluatorPrompt = `You are the research lead reviewing a
deep-dive pass over selected symbols. Decide whether the coverage is
sufficient to synthesize trade ideas, or whether specific gaps require
analyzing additional symbols first.

Respond with ONLY a JSON object:
{
  "sufficient": true,
  "gaps": ["..."],
  "recommended_symbols": [
    {"symbol": "...", "sector": "...", "rationale": "..."}
  ],
  "reasoning": "1-2 sentences"
}`

// CoverageVerdict is the evaluator's decision after a deep-dive pass.
type CoverageVerdict struct {
	Sufficient  bool
	Gaps        []string
	Recommended []SymbolPick
	Reasoning   string
}

// CoverageEvaluator decides whether deep-dive coverage suffices or names
// the symbols still missing.
type CoverageEvaluator struct {
	caller *Caller
}

func NewCoverageEvaluator(caller *Caller) *CoverageEvaluator {
	return &CoverageEvaluator{caller: caller}
}

// Evaluate reviews the coverage summary for the given iteration.
func (c *CoverageEvaluator) Evaluate(ctx context.Context, summary string, iteration int) (*CoverageVerdict, error) {
	user := fmt.Sprintf(`## Coverage So Far (iteration %d)
%s
Is this coverage sufficient for synthesis?`, iteration, summary)

	raw, err := c.caller.Complete(ctx, coverageEvaluatorPrompt, user)
	if err != nil {
		return nil, eris.Wrap(err, "analyst: coverage evaluation")
	}
	obj, err := DecodeObject(raw)
	if err != nil {
		return nil, eris.Wrap(err, "analyst: coverage evaluation parse")
	}

	verdict := &CoverageVerdict{
		Sufficient: boolean(obj, "sufficient"),
		Gaps:       strs(obj, "gaps"),
		Reasoning:  str(obj, "reasoning"),
	}
	for _, r := range objs(obj, "recommended_symbols") {
		sym := str(r, "symbol")
		if sym == "" {
			continue
		}
		verdict.Recommended = append(verdict.Recommended, SymbolPick{
			Symbol:    sym,
			Sector:    str(r, "sector"),
			Priority:  "high",
			Rationale: str(r, "rationale"),
		})
	}
	return verdict, nil
}

package analyst

import (
	"github.com/sells-group/insight-engine/internal/model"
)

// benchAnalyst is the shared implementation behind the five bench members;
// they differ only in name and system prompt.
type benchAnalyst struct {
	name   string
	prompt string
}

func (a *benchAnalyst) Name() string         { return a.name }
func (a *benchAnalyst) SystemPrompt() string { return a.prompt }

func (a *benchAnalyst) FormatContext(sc SymbolContext) string {
	return formatSymbolContext(sc)
}

func (a *benchAnalyst) Parse(raw string) (model.WorkReport, error) {
	return parseBenchReport(a.name, raw)
}

const benchOutputContract = `

Respond with ONLY a JSON object:
{
  "confidence": 0.0-1.0,
  "summary": "2-3 sentence assessment",
  "action": "STRONG_BUY|BUY|HOLD|SELL|STRONG_SELL|WATCH",
  "key_findings": ["..."],
  "risks": ["..."]
}`

// NewTechnicalAnalyst evaluates price action and momentum.
func NewTechnicalAnalyst() Analyst {
	return &benchAnalyst{
		name: "technical",
		prompt: `You are a senior technical analyst at a systematic trading desk.
Evaluate the symbol's price action: trend structure, momentum, volume
confirmation, support/resistance and relative strength versus its sector.
Be specific about levels when the data supports it.` + benchOutputContract,
	}
}

// NewSectorAnalyst evaluates sector positioning and peer dynamics.
func NewSectorAnalyst() Analyst {
	return &benchAnalyst{
		name: "sector",
		prompt: `You are a sector strategist. Evaluate the symbol's position
within its sector: relative performance, breadth of the sector move, whether
the symbol leads or lags peers, and how current sector rotation affects it.` + benchOutputContract,
	}
}

// NewMacroAnalyst evaluates macro sensitivity.
func NewMacroAnalyst() Analyst {
	return &benchAnalyst{
		name: "macro",
		prompt: `You are a macro strategist. Evaluate how the current macro
regime (rates, inflation trajectory, dollar, liquidity) affects this symbol:
rate sensitivity, cyclicality, FX exposure and positioning crowding.` + benchOutputContract,
	}
}

// NewCorrelationAnalyst evaluates cross-asset relationships.
func NewCorrelationAnalyst() Analyst {
	return &benchAnalyst{
		name: "correlation",
		prompt: `You are a cross-asset analyst. Evaluate the symbol's
relationships: correlation to its sector ETF and the index, pair divergences
against close peers, and any unusual decoupling visible in the snapshot.` + benchOutputContract,
	}
}

// NewRiskAnalyst evaluates downside scenarios.
func NewRiskAnalyst() Analyst {
	return &benchAnalyst{
		name: "risk",
		prompt: `You are a risk manager. Evaluate what could go wrong with a
position in this symbol: drawdown scenarios, liquidity, event risk,
crowding, and the conditions that would invalidate the bullish or bearish
case. Err on the side of caution.` + benchOutputContract,
	}
}

package analyst

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// MacroContext is the macro scanner's output, threaded into every
// downstream phase.
type MacroContext struct {
	Regime      string   `json:"regime"`
	Summary     string   `json:"summary"`
	RiskFactors []string `json:"risk_factors"`
	Themes      []string `json:"themes"`
}

// FormatForLLM renders the macro context for downstream prompts.
func (m *MacroContext) FormatForLLM() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Regime: %s\n", m.Regime)
	fmt.Fprintf(&b, "Summary: %s\n", m.Summary)
	if len(m.Themes) > 0 {
		fmt.Fprintf(&b, "Themes: %s\n", strings.Join(m.Themes, "; "))
	}
	if len(m.RiskFactors) > 0 {
		fmt.Fprintf(&b, "Risk factors: %s\n", strings.Join(m.RiskFactors, "; "))
	}
	return b.String()
}

const macroScanPrompt = `You are the macro desk of a trading research team.
Assess the current market environment from first principles: monetary policy
trajectory, inflation, growth, liquidity, positioning and cross-asset
signals. Classify the regime and name the dominant themes.

Respond with ONLY a JSON object:
{
  "regime": "risk_on|risk_off|transitional|mixed",
  "summary": "3-4 sentence regime assessment",
  "themes": ["..."],
  "risk_factors": ["..."]
}`

// MacroScanner produces the macro context that opens every run. Its
// failure is fatal to the run.
type MacroScanner struct {
	caller *Caller
	now    func() time.Time
}

// NewMacroScanner creates the scanner.
func NewMacroScanner(caller *Caller) *MacroScanner {
	return &MacroScanner{caller: caller, now: time.Now}
}

// Scan assesses the macro environment.
func (s *MacroScanner) Scan(ctx context.Context) (*MacroContext, error) {
	user := fmt.Sprintf("Assess the market environment as of %s.",
		s.now().UTC().Format("Monday, January 2, 2006"))

	raw, err := s.caller.Complete(ctx, macroScanPrompt, user)
	if err != nil {
		return nil, eris.Wrap(err, "analyst: macro scan")
	}

	obj, err := DecodeObject(raw)
	if err != nil {
		return nil, eris.Wrap(err, "analyst: macro scan parse")
	}

	mc := &MacroContext{
		Regime:      str(obj, "regime"),
		Summary:     str(obj, "summary"),
		Themes:      strs(obj, "themes"),
		RiskFactors: strs(obj, "risk_factors"),
	}
	if mc.Regime == "" {
		mc.Regime = "mixed"
	}
	return mc, nil
}

// Package analyst holds the reasoning units of the pipeline: the deep-dive
// analyst bench plus the single-purpose agents that scan macro conditions,
// read the heatmap, evaluate coverage and synthesize insights.
package analyst

import (
	"fmt"
	"strings"

	"github.com/sells-group/insight-engine/internal/model"
)

// SymbolContext carries everything an analyst sees about one symbol.
type SymbolContext struct {
	Symbol         string
	Sector         string
	Reason         string
	MacroContext   string
	HeatmapExcerpt string
}

// Analyst is one member of the deep-dive bench. Implementations are
// stateless; the same instance serves every symbol concurrently.
type Analyst interface {
	// Name identifies the analyst in reports and logs.
	Name() string
	// SystemPrompt returns the static system prompt, cacheable per run.
	SystemPrompt() string
	// FormatContext renders the per-symbol user message.
	FormatContext(sc SymbolContext) string
	// Parse converts raw model output into a structured report.
	Parse(raw string) (model.WorkReport, error)
}

// Registry is an ordered collection of analysts. Order is the fan-out
// order, kept stable so reports and costs attribute consistently.
type Registry struct {
	ordered []Analyst
	byName  map[string]Analyst
}

// NewRegistry builds a registry preserving the given order.
func NewRegistry(analysts ...Analyst) *Registry {
	r := &Registry{byName: make(map[string]Analyst, len(analysts))}
	for _, a := range analysts {
		if _, dup := r.byName[a.Name()]; dup {
			continue
		}
		r.ordered = append(r.ordered, a)
		r.byName[a.Name()] = a
	}
	return r
}

// DefaultRegistry returns the standard five-analyst bench.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewTechnicalAnalyst(),
		NewSectorAnalyst(),
		NewMacroAnalyst(),
		NewCorrelationAnalyst(),
		NewRiskAnalyst(),
	)
}

// All returns the analysts in registration order.
func (r *Registry) All() []Analyst {
	return r.ordered
}

// Get looks an analyst up by name.
func (r *Registry) Get(name string) (Analyst, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// Names returns the analyst names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.ordered))
	for i, a := range r.ordered {
		names[i] = a.Name()
	}
	return names
}

// Len returns the bench size.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// formatSymbolContext is the shared user-message layout for the bench.
func formatSymbolContext(sc SymbolContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Symbol: %s\n", sc.Symbol)
	if sc.Sector != "" {
		fmt.Fprintf(&b, "Sector: %s\n", sc.Sector)
	}
	if sc.Reason != "" {
		fmt.Fprintf(&b, "Selected because: %s\n", sc.Reason)
	}
	if sc.MacroContext != "" {
		fmt.Fprintf(&b, "\n## Macro Context\n%s\n", sc.MacroContext)
	}
	if sc.HeatmapExcerpt != "" {
		fmt.Fprintf(&b, "\n## Market Snapshot\n%s\n", sc.HeatmapExcerpt)
	}
	b.WriteString("\nRespond with a single JSON object per your instructions.")
	return b.String()
}

// parseBenchReport is the shared parse for bench analysts: confidence,
// summary and action are lifted out, everything else lands in Fields.
func parseBenchReport(name, raw string) (model.WorkReport, error) {
	obj, err := DecodeObject(raw)
	if err != nil {
		return model.WorkReport{}, err
	}

	report := model.WorkReport{
		Analyst:    name,
		Confidence: num(obj, "confidence"),
		Summary:    str(obj, "summary"),
		Action:     str(obj, "action"),
		Fields:     make(map[string]any),
	}
	for k, v := range obj {
		switch k {
		case "confidence", "summary", "action":
		default:
			report.Fields[k] = v
		}
	}
	return report, nil
}

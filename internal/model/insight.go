package model

import "time"

// InsightType classifies what kind of opportunity an insight describes.
type InsightType string

const (
	InsightTypeOpportunity InsightType = "opportunity"
	InsightTypeRisk        InsightType = "risk"
	InsightTypeRotation    InsightType = "rotation"
	InsightTypeDivergence  InsightType = "divergence"
	InsightTypeMacro       InsightType = "macro"
)

// InsightAction is the recommended position action.
type InsightAction string

const (
	ActionStrongBuy  InsightAction = "STRONG_BUY"
	ActionBuy        InsightAction = "BUY"
	ActionHold       InsightAction = "HOLD"
	ActionSell       InsightAction = "SELL"
	ActionStrongSell InsightAction = "STRONG_SELL"
	ActionWatch      InsightAction = "WATCH"
)

var validInsightTypes = map[InsightType]bool{
	InsightTypeOpportunity: true,
	InsightTypeRisk:        true,
	InsightTypeRotation:    true,
	InsightTypeDivergence:  true,
	InsightTypeMacro:       true,
}

var validActions = map[InsightAction]bool{
	ActionStrongBuy:  true,
	ActionBuy:        true,
	ActionHold:       true,
	ActionSell:       true,
	ActionStrongSell: true,
	ActionWatch:      true,
}

// Evidence is a single supporting finding attributed to an analyst.
type Evidence struct {
	Analyst    string  `json:"analyst"`
	Finding    string  `json:"finding"`
	Confidence float64 `json:"confidence"`
}

// Insight is a ranked, actionable recommendation produced by the synthesis
// phase and persisted to the insight store.
type Insight struct {
	ID                  string        `json:"id,omitempty"`
	RunID               string        `json:"run_id,omitempty"`
	Type                InsightType   `json:"type"`
	Action              InsightAction `json:"action"`
	Title               string        `json:"title"`
	Thesis              string        `json:"thesis"`
	PrimarySymbol       string        `json:"primary_symbol,omitempty"`
	RelatedSymbols      []string      `json:"related_symbols,omitempty"`
	SupportingEvidence  []Evidence    `json:"supporting_evidence,omitempty"`
	Confidence          float64       `json:"confidence"`
	TimeHorizon         string        `json:"time_horizon"`
	RiskFactors         []string      `json:"risk_factors,omitempty"`
	InvalidationTrigger string        `json:"invalidation_trigger,omitempty"`
	AnalystsInvolved    []string      `json:"analysts_involved,omitempty"`
	DataSources         []string      `json:"data_sources,omitempty"`
	CreatedAt           time.Time     `json:"created_at,omitempty"`
}

// Normalize clamps enum fields to valid values and truncates the title,
// mirroring the validation the synthesis output goes through before storage.
func (i *Insight) Normalize() {
	if !validInsightTypes[i.Type] {
		i.Type = InsightTypeOpportunity
	}
	if !validActions[i.Action] {
		i.Action = ActionHold
	}
	if i.TimeHorizon == "" {
		i.TimeHorizon = "medium_term"
	}
	if i.Confidence < 0 {
		i.Confidence = 0
	}
	if i.Confidence > 1 {
		i.Confidence = 1
	}
	if len(i.Title) > 200 {
		i.Title = i.Title[:200]
	}
}

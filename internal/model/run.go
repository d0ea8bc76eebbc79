package model

import (
	"time"
)

// RunStatus represents the current state of an analysis run. Phase statuses
// double as run statuses while the run is in flight, so a status poll can
// report which phase is executing.
type RunStatus string

const (
	RunStatusPending            RunStatus = "pending"
	RunStatusMacroScan          RunStatus = "macro_scan"
	RunStatusHeatmapFetch       RunStatus = "heatmap_fetch"
	RunStatusHeatmapAnalysis    RunStatus = "heatmap_analysis"
	RunStatusSectorRotation     RunStatus = "sector_rotation"
	RunStatusOpportunityHunt    RunStatus = "opportunity_hunt"
	RunStatusDeepDive           RunStatus = "deep_dive"
	RunStatusCoverageEvaluation RunStatus = "coverage_evaluation"
	RunStatusSynthesis          RunStatus = "synthesis"
	RunStatusCompleted          RunStatus = "completed"
	RunStatusFailed             RunStatus = "failed"
	RunStatusCancelled          RunStatus = "cancelled"
)

// PhaseProgress maps each run status to its canonical progress checkpoint.
// The fallback branch phases (sector_rotation, opportunity_hunt) carry the
// percents they had in the legacy pipeline, so a fallback run's progress bar
// moves 10 → 25 → 45 → 55 → 90 rather than tracking the primary checkpoints.
var PhaseProgress = map[RunStatus]int{
	RunStatusPending:            0,
	RunStatusMacroScan:          10,
	RunStatusHeatmapFetch:       20,
	RunStatusHeatmapAnalysis:    35,
	RunStatusSectorRotation:     25,
	RunStatusOpportunityHunt:    45,
	RunStatusDeepDive:           55,
	RunStatusCoverageEvaluation: 75,
	RunStatusSynthesis:          90,
	RunStatusCompleted:          100,
	RunStatusFailed:             -1,
	RunStatusCancelled:          -1,
}

// PhaseNames maps each run status to a human-readable description for
// progress reporting.
var PhaseNames = map[RunStatus]string{
	RunStatusPending:            "Initializing...",
	RunStatusMacroScan:          "Scanning macro environment",
	RunStatusHeatmapFetch:       "Fetching market heatmap",
	RunStatusHeatmapAnalysis:    "Analyzing heatmap patterns",
	RunStatusSectorRotation:     "Analyzing sector rotation",
	RunStatusOpportunityHunt:    "Discovering opportunities",
	RunStatusDeepDive:           "Running deep analysis",
	RunStatusCoverageEvaluation: "Evaluating coverage",
	RunStatusSynthesis:          "Synthesizing insights",
	RunStatusCompleted:          "Analysis complete",
	RunStatusFailed:             "Analysis failed",
	RunStatusCancelled:          "Analysis cancelled",
}

// ActiveStatuses lists the statuses of a run that is still in flight and
// therefore cancellable.
var ActiveStatuses = []RunStatus{
	RunStatusPending,
	RunStatusMacroScan,
	RunStatusHeatmapFetch,
	RunStatusHeatmapAnalysis,
	RunStatusSectorRotation,
	RunStatusOpportunityHunt,
	RunStatusDeepDive,
	RunStatusCoverageEvaluation,
	RunStatusSynthesis,
}

// Run represents a single autonomous analysis run.
type Run struct {
	ID           string     `json:"id"`
	Status       RunStatus  `json:"status"`
	Progress     int        `json:"progress"`
	PhaseDetail  string     `json:"phase_detail,omitempty"`
	MaxInsights  int        `json:"max_insights"`
	DeepDiveSize int        `json:"deep_dive_size"`
	Result       *RunResult `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// PhaseStatus represents the state of a single pipeline phase.
type PhaseStatus string

const (
	PhaseStatusPending  PhaseStatus = "pending"
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseRecord holds the outcome of one named pipeline phase. Records are
// appended to RunResult.PhasesCompleted in execution order; only the phase
// runner that owns the phase writes to its record.
type PhaseRecord struct {
	Name        string      `json:"name"`
	Status      PhaseStatus `json:"status"`
	Progress    int         `json:"progress"`
	Detail      string      `json:"detail,omitempty"`
	Error       string      `json:"error,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
	DurationMs  int64       `json:"duration_ms"`
}

// TokenUsage tracks LLM token consumption across a run.
type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
}

// Add accumulates usage from another measurement.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// WorkReport is one analyst's parsed output for one symbol. Err is set when
// the analyst exhausted its retries; a report and an error are mutually
// exclusive.
type WorkReport struct {
	Analyst    string         `json:"analyst"`
	Symbol     string         `json:"symbol"`
	Confidence float64        `json:"confidence"`
	Summary    string         `json:"summary,omitempty"`
	Action     string         `json:"action,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Err        string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
	ElapsedMs  int64          `json:"elapsed_ms"`
}

// Failed reports whether this report carries an error instead of content.
func (r WorkReport) Failed() bool { return r.Err != "" }

// RunResult is the aggregate outcome of one run. It is owned exclusively by
// the orchestrator while the run executes and becomes an immutable snapshot
// once persisted.
type RunResult struct {
	RunID            string                           `json:"run_id"`
	Reports          map[string]map[string]WorkReport `json:"reports"` // symbol -> analyst -> report
	PhasesCompleted  []PhaseRecord                    `json:"phases_completed"`
	Insights         []Insight                        `json:"insights"`
	Errors           []string                         `json:"errors,omitempty"`
	UsedFallback     bool                             `json:"used_fallback"`
	MarketRegime     string                           `json:"market_regime,omitempty"`
	TopSectors       []string                         `json:"top_sectors,omitempty"`
	DiscoverySummary string                           `json:"discovery_summary,omitempty"`
	ElapsedSeconds   float64                          `json:"elapsed_seconds"`
	Usage            TokenUsage                       `json:"usage"`
	TotalCostUSD     float64                          `json:"total_cost_usd"`
}

// PhaseNamesCompleted returns the ordered names of completed phases.
func (r *RunResult) PhaseNamesCompleted() []string {
	names := make([]string, 0, len(r.PhasesCompleted))
	for _, p := range r.PhasesCompleted {
		if p.Status == PhaseStatusComplete {
			names = append(names, p.Name)
		}
	}
	return names
}

// Symbols returns the sorted-insertion set of analyzed symbols.
func (r *RunResult) Symbols() []string {
	out := make([]string, 0, len(r.Reports))
	for sym := range r.Reports {
		out = append(out, sym)
	}
	return out
}

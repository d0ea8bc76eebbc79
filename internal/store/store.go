// Package store persists runs, phase records and insights behind a driver
// agnostic interface with SQLite and Postgres implementations.
package store

import (
	"context"

	"github.com/sells-group/insight-engine/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// InsightFilter specifies criteria for listing insights.
type InsightFilter struct {
	RunID         string  `json:"run_id,omitempty"`
	Action        string  `json:"action,omitempty"`
	Symbol        string  `json:"symbol,omitempty"`
	MinConfidence float64 `json:"min_confidence,omitempty"`
	Limit         int     `json:"limit,omitempty"`
}

// Store defines the persistence interface for the analysis pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, maxInsights, deepDiveSize int) (*model.Run, error)
	UpdateRunProgress(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, status model.RunStatus, message string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	ActiveRun(ctx context.Context) (*model.Run, error)

	// Cancellation flags, polled by the orchestrator at phase boundaries.
	RequestCancel(ctx context.Context, runID string) error
	IsCancelRequested(ctx context.Context, runID string) (bool, error)

	// Phases
	CreatePhase(ctx context.Context, runID, name string) (string, error)
	CompletePhase(ctx context.Context, phaseID string, rec model.PhaseRecord) error

	// Insights
	SaveInsights(ctx context.Context, runID string, insights []model.Insight) error
	ListInsights(ctx context.Context, filter InsightFilter) ([]model.Insight, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

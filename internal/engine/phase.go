package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/insight-engine/internal/model"
	"github.com/sells-group/insight-engine/internal/store"
)

// phaseRunner records the lifecycle of named pipeline phases for one run.
// Store writes are best effort; a failing progress sink never fails the
// phase itself.
type phaseRunner struct {
	store store.Store
	runID string
	log   *zap.Logger
}

func newPhaseRunner(st store.Store, runID string) *phaseRunner {
	return &phaseRunner{
		store: st,
		runID: runID,
		log:   zap.L().With(zap.String("run_id", runID)),
	}
}

// setProgress advances the run's visible status to the canonical
// checkpoint for the given phase.
func (p *phaseRunner) setProgress(ctx context.Context, status model.RunStatus) {
	if err := p.store.UpdateRunProgress(ctx, p.runID, status); err != nil {
		p.log.Warn("progress update failed",
			zap.String("status", string(status)), zap.Error(err))
	}
}

// exec runs one phase and returns its record along with fn's error. The
// record is always populated, success or failure. detail is whatever fn
// wants surfaced in progress reporting.
func (p *phaseRunner) exec(ctx context.Context, name string, fn func(ctx context.Context) (string, error)) (model.PhaseRecord, error) {
	phaseID, err := p.store.CreatePhase(ctx, p.runID, name)
	if err != nil {
		p.log.Warn("phase create failed", zap.String("phase", name), zap.Error(err))
		phaseID = ""
	}

	start := time.Now().UTC()
	detail, fnErr := fn(ctx)
	end := time.Now().UTC()

	rec := model.PhaseRecord{
		Name:        name,
		Status:      model.PhaseStatusComplete,
		Progress:    model.PhaseProgress[model.RunStatus(name)],
		Detail:      detail,
		StartedAt:   start,
		CompletedAt: end,
		DurationMs:  end.Sub(start).Milliseconds(),
	}
	if fnErr != nil {
		rec.Status = model.PhaseStatusFailed
		rec.Error = fnErr.Error()
		p.log.Error("phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", rec.DurationMs),
			zap.Error(fnErr),
		)
	} else {
		p.log.Info("phase complete",
			zap.String("phase", name),
			zap.Int64("duration_ms", rec.DurationMs),
		)
	}

	if phaseID != "" {
		if err := p.store.CompletePhase(ctx, phaseID, rec); err != nil {
			p.log.Warn("phase record write failed", zap.String("phase", name), zap.Error(err))
		}
	}
	return rec, fnErr
}

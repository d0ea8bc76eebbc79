package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/insight-engine/internal/model"
	"github.com/sells-group/insight-engine/internal/resilience"
)

// UnitKind distinguishes network-bound work from LLM calls; only the
// former contend for the fetch semaphore.
type UnitKind string

const (
	UnitKindFetch UnitKind = "fetch"
	UnitKindLLM   UnitKind = "llm"
)

// WorkUnit is one independently retryable piece of work, typically a
// single analyst-symbol call.
type WorkUnit struct {
	ID         string
	Kind       UnitKind
	Timeout    time.Duration
	MaxRetries int
	Run        func(ctx context.Context) (model.WorkReport, error)
}

// WorkResult pairs a unit's ID with its final report. Failures are encoded
// in the report, never as a separate error.
type WorkResult struct {
	UnitID string
	Report model.WorkReport
}

// Executor runs a single work unit to completion: up to MaxRetries+1
// attempts with a fixed pause between them, every error retried. A unit
// that exhausts its attempts yields a report carrying the last error.
type Executor struct {
	pause time.Duration
}

// NewExecutor creates an executor with the given inter-attempt pause.
func NewExecutor(pause time.Duration) *Executor {
	if pause <= 0 {
		pause = time.Second
	}
	return &Executor{pause: pause}
}

// Execute never returns an error; the outcome is always a WorkResult.
func (e *Executor) Execute(ctx context.Context, unit WorkUnit) WorkResult {
	start := time.Now()
	attempts := 0

	cfg := resilience.FixedPauseConfig(unit.MaxRetries, e.pause)
	cfg.OnRetry = resilience.RetryLogger("engine", unit.ID)

	report, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (model.WorkReport, error) {
		attempts++
		if unit.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, unit.Timeout)
			defer cancel()
		}
		return unit.Run(ctx)
	})
	if err != nil {
		report = model.WorkReport{Err: err.Error()}
	}
	report.Attempts = attempts
	report.ElapsedMs = time.Since(start).Milliseconds()
	return WorkResult{UnitID: unit.ID, Report: report}
}

// Pool fans a batch of work units out across a bounded number of workers.
type Pool struct {
	executor *Executor
	limit    int
	deadline time.Duration
}

// NewPool creates a pool running at most limit units concurrently. A
// non-zero deadline bounds the whole batch; units still pending when it
// expires fail with a timeout report.
func NewPool(executor *Executor, limit int, deadline time.Duration) *Pool {
	if limit <= 0 {
		limit = 5
	}
	return &Pool{executor: executor, limit: limit, deadline: deadline}
}

// skippedReport marks a unit the batch context cut off before its first
// attempt. Attempts stays zero: the unit never ran, and zero is the marker
// distinguishing skipped work from executed-and-failed work.
func skippedReport(cause error) model.WorkReport {
	msg := "cancelled before execution: " + cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "timeout: deadline expired before execution"
	}
	return model.WorkReport{Err: msg}
}

// RunAll executes every unit and returns one result per unit, index for
// index. One unit failing never affects the others.
func (p *Pool) RunAll(ctx context.Context, units []WorkUnit) []WorkResult {
	if p.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.deadline)
		defer cancel()
	}

	results := make([]WorkResult, len(units))

	g := new(errgroup.Group)
	g.SetLimit(p.limit)
	for i, unit := range units {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = WorkResult{UnitID: unit.ID, Report: skippedReport(err)}
				return nil
			}
			results[i] = p.executor.Execute(ctx, unit)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	failed := 0
	for _, r := range results {
		if r.Report.Failed() {
			failed++
		}
	}
	if failed > 0 {
		zap.L().Warn("work pool finished with failures",
			zap.Int("total", len(units)),
			zap.Int("failed", failed),
		)
	}
	return results
}

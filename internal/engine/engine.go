// Package engine orchestrates the discovery pipeline: market scan, symbol
// selection, the deep-dive analyst fan-out, coverage expansion and final
// synthesis, with per-run persistence and cost accounting.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/insight-engine/internal/analyst"
	"github.com/sells-group/insight-engine/internal/config"
	"github.com/sells-group/insight-engine/internal/cost"
	"github.com/sells-group/insight-engine/internal/market"
	"github.com/sells-group/insight-engine/internal/model"
	"github.com/sells-group/insight-engine/internal/store"
)

// marketFetcher produces a heatmap snapshot.
type marketFetcher interface {
	Fetch(ctx context.Context) (*market.HeatmapData, error)
}

type macroScanner interface {
	Scan(ctx context.Context) (*analyst.MacroContext, error)
}

type heatmapAnalyzer interface {
	Analyze(ctx context.Context, data *market.HeatmapData, macro *analyst.MacroContext, count int) (*analyst.HeatmapAnalysis, error)
}

type sectorRotator interface {
	Rotate(ctx context.Context, data *market.HeatmapData, macro *analyst.MacroContext) (*analyst.Rotation, error)
}

type opportunityHunter interface {
	Hunt(ctx context.Context, rot *analyst.Rotation, macro *analyst.MacroContext, count int) ([]analyst.SymbolPick, error)
}

type synthesisLead interface {
	Synthesize(ctx context.Context, reports map[string]map[string]model.WorkReport, macro *analyst.MacroContext, extra string, maxInsights int) ([]model.Insight, error)
}

// benchCaller executes individual analyst calls and accumulates usage
// per model tier.
type benchCaller interface {
	CallAnalyst(ctx context.Context, a analyst.Analyst, sc analyst.SymbolContext) (model.WorkReport, error)
	Warm(ctx context.Context, system string) error
	Usage() model.TokenUsage
	UsageByModel() map[string]model.TokenUsage
}

// publisher pushes a completed run's digest to an external surface.
type publisher interface {
	Publish(ctx context.Context, result *model.RunResult) (string, error)
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Store     store.Store
	Primary   marketFetcher
	Fallback  marketFetcher
	Macro     macroScanner
	Heatmap   heatmapAnalyzer
	Rotator   sectorRotator
	Hunter    opportunityHunter
	Coverage  coverageEvaluator
	Synthesis synthesisLead
	Caller    benchCaller
	Registry  *analyst.Registry
	Publisher publisher // optional
	Costs     *cost.Calculator
}

// Engine runs one full discovery pass per Run call. The engine is the only
// writer of the RunResult it builds.
type Engine struct {
	cfg  config.EngineConfig
	deps Deps
	log  *zap.Logger
}

// New creates an engine. Costs defaults to the standard rate card and
// Registry to the default bench when nil.
func New(cfg config.EngineConfig, deps Deps) *Engine {
	if deps.Costs == nil {
		deps.Costs = cost.NewCalculator(cost.DefaultRates())
	}
	if deps.Registry == nil {
		deps.Registry = analyst.DefaultRegistry()
	}
	return &Engine{cfg: cfg, deps: deps, log: zap.L()}
}

// errRunCancelled marks a run stopped by an operator cancel request.
var errRunCancelled = eris.New("engine: run cancelled")

// Run executes the pipeline end to end and persists the outcome. The
// returned result is populated as far as the run got, even on error.
func (e *Engine) Run(ctx context.Context) (*model.RunResult, error) {
	run, err := e.deps.Store.CreateRun(ctx, e.cfg.MaxInsights, e.cfg.DeepDiveCount)
	if err != nil {
		return nil, eris.Wrap(err, "engine: create run")
	}
	return e.Resume(ctx, run)
}

// Resume executes the pipeline for an already-created run record.
func (e *Engine) Resume(ctx context.Context, run *model.Run) (*model.RunResult, error) {
	if e.cfg.RunTimeoutMins > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.RunTimeoutMins)*time.Minute)
		defer cancel()
	}

	start := time.Now()
	log := e.log.With(zap.String("run_id", run.ID))
	log.Info("discovery run starting",
		zap.Int("max_insights", run.MaxInsights),
		zap.Int("deep_dive_size", run.DeepDiveSize),
	)

	result := &model.RunResult{
		RunID:   run.ID,
		Reports: make(map[string]map[string]model.WorkReport),
	}
	ph := newPhaseRunner(e.deps.Store, run.ID)

	// Macro scan and heatmap fetch run together. The macro scan failing is
	// fatal; a fetch failure only forfeits the primary branch.
	ph.setProgress(ctx, model.RunStatusMacroScan)

	var macro *analyst.MacroContext
	var heat *market.HeatmapData
	var macroRec, fetchRec model.PhaseRecord
	var fetchErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		macroRec, err = ph.exec(gctx, "macro_scan", func(c context.Context) (string, error) {
			m, err := e.deps.Macro.Scan(c)
			if err != nil {
				return "", err
			}
			macro = m
			return "regime " + m.Regime, nil
		})
		return err
	})
	g.Go(func() error {
		fetchRec, fetchErr = ph.exec(gctx, "heatmap_fetch", func(c context.Context) (string, error) {
			h, err := e.deps.Primary.Fetch(c)
			if err != nil {
				return "", err
			}
			heat = h
			return fmt.Sprintf("%d sectors, %d stocks", len(h.Sectors), len(h.Stocks)), nil
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		result.PhasesCompleted = append(result.PhasesCompleted, macroRec, fetchRec)
		return e.fail(ctx, run.ID, result, start, eris.Wrap(err, "engine: macro scan"))
	}
	result.PhasesCompleted = append(result.PhasesCompleted, macroRec, fetchRec)
	result.MarketRegime = macro.Regime

	if stop, err := e.checkCancelled(ctx, run.ID, result, start); stop {
		return result, err
	}

	// Branch selection. The primary branch needs both the heatmap and its
	// analysis; either failing routes the run through the fallback, once.
	var picks []analyst.SymbolPick
	if fetchErr != nil {
		result.Errors = append(result.Errors, "heatmap fetch failed: "+fetchErr.Error())
	} else {
		ph.setProgress(ctx, model.RunStatusHeatmapAnalysis)
		rec, analysisErr := ph.exec(ctx, "heatmap_analysis", func(c context.Context) (string, error) {
			analysis, err := e.deps.Heatmap.Analyze(c, heat, macro, run.DeepDiveSize)
			if err != nil {
				return "", err
			}
			picks = analysis.Picks
			result.DiscoverySummary = analysis.Summary
			result.TopSectors = topSectorNames(heat, 3)
			return fmt.Sprintf("%d symbols selected", len(analysis.Picks)), nil
		})
		result.PhasesCompleted = append(result.PhasesCompleted, rec)
		if analysisErr != nil {
			result.Errors = append(result.Errors, "heatmap analysis failed: "+analysisErr.Error())
			picks = nil
		}
	}

	usedFallback := len(picks) == 0
	if usedFallback {
		var err error
		picks, err = e.runFallback(ctx, ph, macro, result, run.DeepDiveSize)
		if err != nil {
			return e.fail(ctx, run.ID, result, start, err)
		}
	}
	result.UsedFallback = usedFallback

	if stop, err := e.checkCancelled(ctx, run.ID, result, start); stop {
		return result, err
	}

	// Deep dive: every selected symbol crossed with the full bench.
	ph.setProgress(ctx, model.RunStatusDeepDive)
	rec, err := ph.exec(ctx, "deep_dive", func(c context.Context) (string, error) {
		n := e.deepDive(c, picks, macro, heat, result)
		if n == 0 {
			return "", eris.New("engine: deep dive produced no reports")
		}
		return fmt.Sprintf("%d reports across %d symbols", n, len(picks)), nil
	})
	result.PhasesCompleted = append(result.PhasesCompleted, rec)
	if err != nil {
		return e.fail(ctx, run.ID, result, start, err)
	}

	if stop, err := e.checkCancelled(ctx, run.ID, result, start); stop {
		return result, err
	}

	// Coverage loop, primary branch only.
	gapNote := ""
	if !usedFallback {
		ph.setProgress(ctx, model.RunStatusCoverageEvaluation)
		rec, _ := ph.exec(ctx, "coverage_evaluation", func(c context.Context) (string, error) {
			gapNote = e.runCoverageLoop(c, picks, macro, heat, result)
			return fmt.Sprintf("%d symbols covered", len(result.Reports)), nil
		})
		result.PhasesCompleted = append(result.PhasesCompleted, rec)

		if stop, err := e.checkCancelled(ctx, run.ID, result, start); stop {
			return result, err
		}
	}

	// Synthesis is fatal on failure: a run with no insights has no value.
	ph.setProgress(ctx, model.RunStatusSynthesis)
	rec, err = ph.exec(ctx, "synthesis", func(c context.Context) (string, error) {
		insights, err := e.deps.Synthesis.Synthesize(c, result.Reports, macro, gapNote, run.MaxInsights)
		if err != nil {
			return "", err
		}
		result.Insights = insights
		return fmt.Sprintf("%d insights", len(insights)), nil
	})
	result.PhasesCompleted = append(result.PhasesCompleted, rec)
	if err != nil {
		return e.fail(ctx, run.ID, result, start, err)
	}

	e.finalize(result, start)

	if err := e.deps.Store.SaveInsights(ctx, run.ID, result.Insights); err != nil {
		log.Error("saving insights failed", zap.Error(err))
		result.Errors = append(result.Errors, "save insights: "+err.Error())
	}
	if err := e.deps.Store.CompleteRun(ctx, run.ID, result); err != nil {
		log.Error("completing run failed", zap.Error(err))
		return result, eris.Wrap(err, "engine: complete run")
	}

	// Publishing is best effort; the run already succeeded.
	if e.deps.Publisher != nil {
		if url, err := e.deps.Publisher.Publish(ctx, result); err != nil {
			log.Warn("digest publish failed", zap.Error(err))
			result.Errors = append(result.Errors, "publish digest: "+err.Error())
		} else {
			log.Info("digest published", zap.String("url", url))
		}
	}

	log.Info("discovery run complete",
		zap.Int("insights", len(result.Insights)),
		zap.Bool("used_fallback", result.UsedFallback),
		zap.Float64("elapsed_s", result.ElapsedSeconds),
		zap.Float64("cost_usd", result.TotalCostUSD),
	)
	return result, nil
}

// runFallback covers the degraded path: coarse sector data, LLM sector
// ranking, then symbol picks from static holdings. Failures here are
// fatal; there is nothing left to fall back to.
func (e *Engine) runFallback(ctx context.Context, ph *phaseRunner, macro *analyst.MacroContext, result *model.RunResult, count int) ([]analyst.SymbolPick, error) {
	var rot *analyst.Rotation

	ph.setProgress(ctx, model.RunStatusSectorRotation)
	rec, err := ph.exec(ctx, "sector_rotation", func(c context.Context) (string, error) {
		data, err := e.deps.Fallback.Fetch(c)
		if err != nil {
			return "", err
		}
		rot, err = e.deps.Rotator.Rotate(c, data, macro)
		if err != nil {
			return "", err
		}
		return "leaders: " + fmt.Sprint(rot.TopSectors), nil
	})
	result.PhasesCompleted = append(result.PhasesCompleted, rec)
	if err != nil {
		return nil, eris.Wrap(err, "engine: fallback ranking")
	}
	result.TopSectors = rot.TopSectors
	result.DiscoverySummary = rot.Narrative

	var picks []analyst.SymbolPick
	ph.setProgress(ctx, model.RunStatusOpportunityHunt)
	rec, err = ph.exec(ctx, "opportunity_hunt", func(c context.Context) (string, error) {
		var err error
		picks, err = e.deps.Hunter.Hunt(c, rot, macro, count)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d symbols selected", len(picks)), nil
	})
	result.PhasesCompleted = append(result.PhasesCompleted, rec)
	if err != nil {
		return nil, eris.Wrap(err, "engine: opportunity hunt")
	}
	return picks, nil
}

// deepDive fans picks out across the analyst bench and merges the reports
// into the result. Returns the number of successful reports.
func (e *Engine) deepDive(ctx context.Context, picks []analyst.SymbolPick, macro *analyst.MacroContext, heat *market.HeatmapData, result *model.RunResult) int {
	bench := e.deps.Registry.All()
	macroText := macro.FormatForLLM()

	// The first round writes each analyst's system prompt into the prompt
	// cache; every later symbol and expansion round reads it warm. A failed
	// warmup never fails the run.
	if len(result.Reports) == 0 {
		for _, a := range bench {
			if err := e.deps.Caller.Warm(ctx, a.SystemPrompt()); err != nil {
				e.log.Warn("prompt cache warmup failed",
					zap.String("analyst", a.Name()), zap.Error(err))
			}
		}
	}

	units := make([]WorkUnit, 0, len(picks)*len(bench))
	for _, pick := range picks {
		sc := analyst.SymbolContext{
			Symbol:       pick.Symbol,
			Sector:       pick.Sector,
			Reason:       pick.Rationale,
			MacroContext: macroText,
		}
		if heat != nil {
			sc.HeatmapExcerpt = heat.FormatForLLM()
		}
		for _, a := range bench {
			units = append(units, WorkUnit{
				ID:         pick.Symbol + "/" + a.Name(),
				Kind:       UnitKindLLM,
				Timeout:    time.Duration(e.cfg.AnalystTimeoutSecs) * time.Second,
				MaxRetries: e.cfg.AnalystRetries,
				Run: func(c context.Context) (model.WorkReport, error) {
					return e.deps.Caller.CallAnalyst(c, a, sc)
				},
			})
		}
	}

	executor := NewExecutor(time.Duration(e.cfg.UnitPauseSecs) * time.Second)
	pool := NewPool(executor, e.cfg.AnalystConcurrency, 0)
	results := pool.RunAll(ctx, units)

	succeeded := 0
	for i, res := range results {
		pick := picks[i/len(bench)]
		name := bench[i%len(bench)].Name()

		report := res.Report
		report.Analyst = name
		report.Symbol = pick.Symbol

		if result.Reports[pick.Symbol] == nil {
			result.Reports[pick.Symbol] = make(map[string]model.WorkReport)
		}
		result.Reports[pick.Symbol][name] = report
		if report.Failed() {
			result.Errors = append(result.Errors,
				fmt.Sprintf("deep dive %s: %s", res.UnitID, report.Err))
		} else {
			succeeded++
		}
	}
	return succeeded
}

// runCoverageLoop evaluates coverage and expands the deep dive while the
// evaluator keeps naming fresh symbols, up to the iteration cap. Returns
// the unresolved-gap note for synthesis.
func (e *Engine) runCoverageLoop(ctx context.Context, initial []analyst.SymbolPick, macro *analyst.MacroContext, heat *market.HeatmapData, result *model.RunResult) string {
	covered := make([]string, 0, len(initial))
	for _, p := range initial {
		covered = append(covered, p.Symbol)
	}
	ctrl := newCoverageController(e.deps.Coverage, e.cfg.MaxCoverageIterations, covered)

	for iteration := 1; ; iteration++ {
		fresh := ctrl.next(ctx, analyst.FormatReports(result.Reports), iteration)
		if len(fresh) == 0 {
			break
		}
		e.log.Info("expanding coverage",
			zap.Int("iteration", iteration),
			zap.Int("symbols", len(fresh)),
		)
		e.deepDive(ctx, fresh, macro, heat, result)
	}
	return ctrl.gapNote()
}

// checkCancelled polls the operator cancel flag. Called between phases
// only; in-flight work inside a phase always finishes.
func (e *Engine) checkCancelled(ctx context.Context, runID string, result *model.RunResult, start time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		_, ferr := e.fail(context.WithoutCancel(ctx), runID, result, start, eris.Wrap(err, "engine: run deadline"))
		return true, ferr
	}

	cancelled, err := e.deps.Store.IsCancelRequested(ctx, runID)
	if err != nil {
		e.log.Warn("cancel poll failed", zap.String("run_id", runID), zap.Error(err))
		return false, nil
	}
	if !cancelled {
		return false, nil
	}

	e.finalize(result, start)
	if err := e.deps.Store.FailRun(ctx, runID, model.RunStatusCancelled, "cancelled by operator"); err != nil {
		e.log.Error("marking run cancelled failed", zap.Error(err))
	}
	return true, errRunCancelled
}

// fail finalizes the result and marks the run failed.
func (e *Engine) fail(ctx context.Context, runID string, result *model.RunResult, start time.Time, cause error) (*model.RunResult, error) {
	result.Errors = append(result.Errors, cause.Error())
	e.finalize(result, start)
	if err := e.deps.Store.FailRun(ctx, runID, model.RunStatusFailed, cause.Error()); err != nil {
		e.log.Error("marking run failed failed", zap.String("run_id", runID), zap.Error(err))
	}
	return result, cause
}

// finalize stamps elapsed time, usage and cost onto the result.
func (e *Engine) finalize(result *model.RunResult, start time.Time) {
	result.ElapsedSeconds = time.Since(start).Seconds()
	if e.deps.Caller != nil {
		result.Usage = e.deps.Caller.Usage()
		result.TotalCostUSD = 0
		for m, u := range e.deps.Caller.UsageByModel() {
			result.TotalCostUSD += e.deps.Costs.RunCost(m, u)
		}
	}
}

// topSectorNames lists the n strongest sectors by daily change.
func topSectorNames(data *market.HeatmapData, n int) []string {
	sectors := append([]market.SectorHeat(nil), data.Sectors...)
	sort.Slice(sectors, func(i, j int) bool { return sectors[i].Change1D > sectors[j].Change1D })
	var names []string
	for _, s := range sectors {
		if len(names) >= n {
			break
		}
		names = append(names, s.Name)
	}
	return names
}

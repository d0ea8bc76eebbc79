package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-engine/internal/analyst"
	"github.com/sells-group/insight-engine/internal/config"
	"github.com/sells-group/insight-engine/internal/market"
	"github.com/sells-group/insight-engine/internal/model"
	"github.com/sells-group/insight-engine/internal/store"
)

// fakeStore is an in-memory store recording every lifecycle write.
type fakeStore struct {
	mu sync.Mutex

	runs           map[string]*model.Run
	progressTrail  []model.RunStatus
	phases         []string
	completedRecs  []model.PhaseRecord
	savedInsights  []model.Insight
	completedRuns  []string
	failedRuns     map[string]string // runID -> message
	failedStatus   map[string]model.RunStatus
	cancelFlags    map[string]bool
	cancelAfter    int // flip cancel flag after this many polls, 0 = never
	cancelPolls    int
	progressErr    error
	createPhaseErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:         make(map[string]*model.Run),
		failedRuns:   make(map[string]string),
		failedStatus: make(map[string]model.RunStatus),
		cancelFlags:  make(map[string]bool),
	}
}

func (f *fakeStore) CreateRun(ctx context.Context, maxInsights, deepDiveSize int) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := &model.Run{
		ID:           "run-1",
		Status:       model.RunStatusPending,
		MaxInsights:  maxInsights,
		DeepDiveSize: deepDiveSize,
		CreatedAt:    time.Now().UTC(),
	}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeStore) UpdateRunProgress(ctx context.Context, runID string, status model.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.progressErr != nil {
		return f.progressErr
	}
	f.progressTrail = append(f.progressTrail, status)
	return nil
}

func (f *fakeStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedRuns = append(f.completedRuns, runID)
	return nil
}

func (f *fakeStore) FailRun(ctx context.Context, runID string, status model.RunStatus, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedRuns[runID] = message
	f.failedStatus[runID] = status
	return nil
}

func (f *fakeStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, eris.New("run not found")
	}
	return run, nil
}

func (f *fakeStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	return nil, nil
}

func (f *fakeStore) ActiveRun(ctx context.Context) (*model.Run, error) {
	return nil, nil
}

func (f *fakeStore) RequestCancel(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelFlags[runID] = true
	return nil
}

func (f *fakeStore) IsCancelRequested(ctx context.Context, runID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelPolls++
	if f.cancelAfter > 0 && f.cancelPolls >= f.cancelAfter {
		return true, nil
	}
	return f.cancelFlags[runID], nil
}

func (f *fakeStore) CreatePhase(ctx context.Context, runID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createPhaseErr != nil {
		return "", f.createPhaseErr
	}
	f.phases = append(f.phases, name)
	return "phase-" + name, nil
}

func (f *fakeStore) CompletePhase(ctx context.Context, phaseID string, rec model.PhaseRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedRecs = append(f.completedRecs, rec)
	return nil
}

func (f *fakeStore) SaveInsights(ctx context.Context, runID string, insights []model.Insight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedInsights = append(f.savedInsights, insights...)
	return nil
}

func (f *fakeStore) ListInsights(ctx context.Context, filter store.InsightFilter) ([]model.Insight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.savedInsights, nil
}

func (f *fakeStore) Migrate(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                      { return nil }

// --- agent fakes ---

type fakeFetcher struct {
	data *market.HeatmapData
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context) (*market.HeatmapData, error) {
	return f.data, f.err
}

type fakeMacro struct {
	mc  *analyst.MacroContext
	err error
}

func (f *fakeMacro) Scan(ctx context.Context) (*analyst.MacroContext, error) {
	return f.mc, f.err
}

type fakeAnalyzer struct {
	analysis *analyst.HeatmapAnalysis
	err      error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, data *market.HeatmapData, macro *analyst.MacroContext, count int) (*analyst.HeatmapAnalysis, error) {
	return f.analysis, f.err
}

type fakeRotator struct {
	rot *analyst.Rotation
	err error
}

func (f *fakeRotator) Rotate(ctx context.Context, data *market.HeatmapData, macro *analyst.MacroContext) (*analyst.Rotation, error) {
	return f.rot, f.err
}

type fakeHunter struct {
	picks []analyst.SymbolPick
	err   error
}

func (f *fakeHunter) Hunt(ctx context.Context, rot *analyst.Rotation, macro *analyst.MacroContext, count int) ([]analyst.SymbolPick, error) {
	return f.picks, f.err
}

// fakeEvaluator returns queued verdicts in order, recording summaries.
type fakeEvaluator struct {
	mu        sync.Mutex
	verdicts  []*analyst.CoverageVerdict
	errs      []error
	calls     int
	summaries []string
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, summary string, iteration int) (*analyst.CoverageVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.summaries = append(f.summaries, summary)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(f.verdicts) {
		return f.verdicts[i], nil
	}
	return &analyst.CoverageVerdict{Sufficient: true}, nil
}

type fakeSynthesis struct {
	insights []model.Insight
	err      error
	gotExtra string
	gotCount int
}

func (f *fakeSynthesis) Synthesize(ctx context.Context, reports map[string]map[string]model.WorkReport, macro *analyst.MacroContext, extra string, maxInsights int) ([]model.Insight, error) {
	f.gotExtra = extra
	f.gotCount = len(reports)
	return f.insights, f.err
}

// fakeCaller answers CallAnalyst from a per-symbol/analyst function.
type fakeCaller struct {
	mu      sync.Mutex
	calls   []string
	warmed  []string
	warmErr error
	fn      func(a analyst.Analyst, sc analyst.SymbolContext) (model.WorkReport, error)
	usageBy map[string]model.TokenUsage
}

func (f *fakeCaller) CallAnalyst(ctx context.Context, a analyst.Analyst, sc analyst.SymbolContext) (model.WorkReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sc.Symbol+"/"+a.Name())
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(a, sc)
	}
	return model.WorkReport{
		Analyst:    a.Name(),
		Symbol:     sc.Symbol,
		Confidence: 0.7,
		Summary:    "constructive",
		Action:     "BUY",
	}, nil
}

func (f *fakeCaller) Warm(ctx context.Context, system string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warmed = append(f.warmed, system)
	return f.warmErr
}

func (f *fakeCaller) Usage() model.TokenUsage {
	var total model.TokenUsage
	for _, u := range f.UsageByModel() {
		total.Add(u)
	}
	return total
}

func (f *fakeCaller) UsageByModel() map[string]model.TokenUsage {
	if f.usageBy != nil {
		return f.usageBy
	}
	return map[string]model.TokenUsage{
		"claude-sonnet-4-5-20250929": {InputTokens: 1000, OutputTokens: 500},
	}
}

type fakePublisher struct {
	url   string
	err   error
	calls int
}

func (f *fakePublisher) Publish(ctx context.Context, result *model.RunResult) (string, error) {
	f.calls++
	return f.url, f.err
}

// --- fixtures ---

func engineHeatmap() *market.HeatmapData {
	return &market.HeatmapData{
		Sectors: []market.SectorHeat{
			{Name: "Technology", ETF: "XLK", Change1D: 1.5},
			{Name: "Energy", ETF: "XLE", Change1D: -0.9},
			{Name: "Financials", ETF: "XLF", Change1D: 0.4},
			{Name: "Utilities", ETF: "XLU", Change1D: 0.1},
		},
		Stocks: []market.StockHeat{
			{Symbol: "NVDA", Sector: "Technology", Change1D: 4.0},
			{Symbol: "XOM", Sector: "Energy", Change1D: -1.0},
		},
		Source: market.SourcePrimary,
	}
}

func engineConfig() config.EngineConfig {
	return config.EngineConfig{
		MaxInsights:           5,
		DeepDiveCount:         2,
		MaxCoverageIterations: 2,
		AnalystTimeoutSecs:    5,
		AnalystRetries:        0,
		AnalystConcurrency:    4,
		FetchConcurrency:      4,
		UnitPauseSecs:         0,
		RunTimeoutMins:        1,
	}
}

// happyDeps wires an engine where every collaborator succeeds.
func happyDeps(st *fakeStore) Deps {
	return Deps{
		Store:    st,
		Primary:  &fakeFetcher{data: engineHeatmap()},
		Fallback: &fakeFetcher{data: &market.HeatmapData{Sectors: engineHeatmap().Sectors, Source: market.SourceFallback}},
		Macro:    &fakeMacro{mc: &analyst.MacroContext{Regime: "risk_on", Summary: "constructive"}},
		Heatmap: &fakeAnalyzer{analysis: &analyst.HeatmapAnalysis{
			Summary: "tech leads",
			Picks: []analyst.SymbolPick{
				{Symbol: "NVDA", Sector: "Technology", Priority: "high"},
				{Symbol: "XOM", Sector: "Energy", Priority: "medium"},
			},
		}},
		Rotator: &fakeRotator{rot: &analyst.Rotation{TopSectors: []string{"Technology", "Financials", "Utilities"}, Narrative: "growth leading"}},
		Hunter: &fakeHunter{picks: []analyst.SymbolPick{
			{Symbol: "NVDA", Sector: "Technology"},
			{Symbol: "MSFT", Sector: "Technology"},
		}},
		Coverage:  &fakeEvaluator{verdicts: []*analyst.CoverageVerdict{{Sufficient: true}}},
		Synthesis: &fakeSynthesis{insights: []model.Insight{{Type: model.InsightTypeOpportunity, Action: model.ActionBuy, Title: "NVDA setup", Confidence: 0.8, TimeHorizon: "short_term"}}},
		Caller:    &fakeCaller{},
		Registry:  analyst.NewRegistry(analyst.NewTechnicalAnalyst(), analyst.NewRiskAnalyst()),
		Publisher: &fakePublisher{url: "https://notion.so/digest"},
	}
}

package analyst

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-engine/pkg/anthropic"
)

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	assert.Equal(t, 5, r.Len())
	assert.Equal(t, []string{"technical", "sector", "macro", "correlation", "risk"}, r.Names())

	a, ok := r.Get("risk")
	require.True(t, ok)
	assert.Equal(t, "risk", a.Name())

	_, ok = r.Get("quant")
	assert.False(t, ok)
}

func TestNewRegistry_SkipsDuplicates(t *testing.T) {
	t.Parallel()

	r := NewRegistry(NewTechnicalAnalyst(), NewTechnicalAnalyst(), NewRiskAnalyst())
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"technical", "risk"}, r.Names())
}

func TestBenchAnalyst_FormatContext(t *testing.T) {
	t.Parallel()

	a := NewTechnicalAnalyst()
	msg := a.FormatContext(SymbolContext{
		Symbol:       "NVDA",
		Sector:       "Technology",
		Reason:       "momentum leader",
		MacroContext: "Regime: risk_on",
	})
	assert.Contains(t, msg, "# Symbol: NVDA")
	assert.Contains(t, msg, "Sector: Technology")
	assert.Contains(t, msg, "Selected because: momentum leader")
	assert.Contains(t, msg, "Regime: risk_on")
	assert.NotContains(t, msg, "Market Snapshot")
}

func TestBenchAnalyst_Parse(t *testing.T) {
	t.Parallel()

	a := NewSectorAnalyst()
	report, err := a.Parse(`{"confidence": 0.72, "summary": "leads its sector", "action": "BUY", "key_findings": ["breadth strong"], "risks": ["crowded"]}`)
	require.NoError(t, err)
	assert.Equal(t, "sector", report.Analyst)
	assert.Equal(t, 0.72, report.Confidence)
	assert.Equal(t, "leads its sector", report.Summary)
	assert.Equal(t, "BUY", report.Action)
	assert.Contains(t, report.Fields, "key_findings")
	assert.NotContains(t, report.Fields, "summary")
	assert.False(t, report.Failed())
}

func TestBenchAnalyst_ParseRejectsNonJSON(t *testing.T) {
	t.Parallel()

	_, err := NewRiskAnalyst().Parse("the stock looks risky")
	require.Error(t, err)
}

func TestCaller_CallAnalyst(t *testing.T) {
	t.Parallel()

	caller := newTestCaller(`{"confidence": 0.6, "summary": "constructive", "action": "HOLD"}`)
	report, err := caller.CallAnalyst(context.Background(), NewMacroAnalyst(), SymbolContext{Symbol: "XOM"})
	require.NoError(t, err)
	assert.Equal(t, "macro", report.Analyst)
	assert.Equal(t, "XOM", report.Symbol)
	assert.Equal(t, 0.6, report.Confidence)

	usage := caller.Usage()
	assert.Equal(t, 100, usage.InputTokens)
	assert.Equal(t, 50, usage.OutputTokens)
}

func TestCaller_CallAnalyst_ParseFailureSurfaces(t *testing.T) {
	t.Parallel()

	caller := newTestCaller("no structured output today")
	_, err := caller.CallAnalyst(context.Background(), NewTechnicalAnalyst(), SymbolContext{Symbol: "AAPL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse technical")
}

func TestCaller_UsageAccumulates(t *testing.T) {
	t.Parallel()

	caller := newTestCaller(`{"confidence": 0.5, "summary": "flat", "action": "HOLD"}`)
	for i := 0; i < 3; i++ {
		_, err := caller.Complete(context.Background(), "system", "user")
		require.NoError(t, err)
	}
	usage := caller.Usage()
	assert.Equal(t, 300, usage.InputTokens)
	assert.Equal(t, 150, usage.OutputTokens)
}

func TestCaller_WithModelSharesUsageLedger(t *testing.T) {
	t.Parallel()

	sonnet := newTestCaller("ranked")
	opus := sonnet.WithModel("claude-opus-4-6")

	_, err := sonnet.Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	_, err = opus.Complete(context.Background(), "system", "user")
	require.NoError(t, err)

	// both views see the combined total
	assert.Equal(t, 200, sonnet.Usage().InputTokens)
	assert.Equal(t, 200, opus.Usage().InputTokens)

	byModel := sonnet.UsageByModel()
	require.Len(t, byModel, 2)
	assert.Equal(t, 100, byModel["claude-sonnet-4-5-20250929"].InputTokens)
	assert.Equal(t, 50, byModel["claude-opus-4-6"].OutputTokens)
}

func TestCaller_WarmSendsMinimalCachedRequest(t *testing.T) {
	t.Parallel()

	llm := new(mockLLM)
	var got anthropic.MessageRequest
	llm.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(anthropic.MessageRequest) }).
		Return(textResponse("ok"), nil)
	caller := NewCaller(llm, "claude-sonnet-4-5-20250929")

	require.NoError(t, caller.Warm(context.Background(), "You are a technical analyst."))

	assert.Equal(t, int64(1), got.MaxTokens)
	require.Len(t, got.System, 1)
	assert.Equal(t, "You are a technical analyst.", got.System[0].Text)
	require.NotNil(t, got.System[0].CacheControl)

	// warmup tokens land in the ledger like any other call
	assert.Equal(t, 100, caller.Usage().InputTokens)
}

func TestCaller_WarmErrorSurfaces(t *testing.T) {
	t.Parallel()

	llm := new(mockLLM)
	llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, eris.New("overloaded"))
	caller := NewCaller(llm, "claude-sonnet-4-5-20250929")

	err := caller.Warm(context.Background(), "system")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache warmup")
}

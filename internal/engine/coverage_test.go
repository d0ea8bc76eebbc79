package engine

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-engine/internal/analyst"
)

func TestCoverageController_SufficientStopsImmediately(t *testing.T) {
	t.Parallel()

	eval := &fakeEvaluator{verdicts: []*analyst.CoverageVerdict{{Sufficient: true}}}
	ctrl := newCoverageController(eval, 2, []string{"NVDA"})

	fresh := ctrl.next(context.Background(), "summary", 1)
	assert.Empty(t, fresh)
	assert.Equal(t, CoverageSufficient, ctrl.state)
	assert.Empty(t, ctrl.gapNote())
	assert.Equal(t, 1, eval.calls)
}

func TestCoverageController_ExpandsThenSufficient(t *testing.T) {
	t.Parallel()

	eval := &fakeEvaluator{verdicts: []*analyst.CoverageVerdict{
		{Sufficient: false, Gaps: []string{"no staples"}, Recommended: []analyst.SymbolPick{{Symbol: "PG", Sector: "Consumer Staples"}}},
		{Sufficient: true},
	}}
	ctrl := newCoverageController(eval, 2, []string{"NVDA"})

	fresh := ctrl.next(context.Background(), "s1", 1)
	require.Len(t, fresh, 1)
	assert.Equal(t, "PG", fresh[0].Symbol)
	assert.Equal(t, CoverageExpanding, ctrl.state)

	fresh = ctrl.next(context.Background(), "s2", 2)
	assert.Empty(t, fresh)
	assert.Equal(t, CoverageSufficient, ctrl.state)
	assert.Empty(t, ctrl.gapNote())
}

func TestCoverageController_NeverRecommendsCoveredSymbols(t *testing.T) {
	t.Parallel()

	eval := &fakeEvaluator{verdicts: []*analyst.CoverageVerdict{
		{Sufficient: false, Recommended: []analyst.SymbolPick{
			{Symbol: "NVDA"}, // already covered
			{Symbol: "PG"},
		}},
		{Sufficient: false, Recommended: []analyst.SymbolPick{
			{Symbol: "PG"}, // covered by the previous expansion
		}},
	}}
	ctrl := newCoverageController(eval, 3, []string{"NVDA"})

	fresh := ctrl.next(context.Background(), "s1", 1)
	require.Len(t, fresh, 1)
	assert.Equal(t, "PG", fresh[0].Symbol)

	// only already-covered symbols left means no progress
	fresh = ctrl.next(context.Background(), "s2", 2)
	assert.Empty(t, fresh)
	assert.Equal(t, CoverageExhausted, ctrl.state)
}

func TestCoverageController_IterationCap(t *testing.T) {
	t.Parallel()

	insufficient := &analyst.CoverageVerdict{
		Sufficient:  false,
		Gaps:        []string{"still thin"},
		Recommended: []analyst.SymbolPick{{Symbol: "A1"}},
	}
	eval := &fakeEvaluator{verdicts: []*analyst.CoverageVerdict{
		insufficient,
		{Sufficient: false, Gaps: []string{"still thin"}, Recommended: []analyst.SymbolPick{{Symbol: "A2"}}},
		{Sufficient: false, Recommended: []analyst.SymbolPick{{Symbol: "A3"}}},
	}}
	ctrl := newCoverageController(eval, 2, nil)

	assert.NotEmpty(t, ctrl.next(context.Background(), "s", 1))
	assert.NotEmpty(t, ctrl.next(context.Background(), "s", 2))

	// third iteration exceeds the cap without calling the evaluator
	assert.Empty(t, ctrl.next(context.Background(), "s", 3))
	assert.Equal(t, CoverageExhausted, ctrl.state)
	assert.Equal(t, 2, eval.calls)
	assert.Contains(t, ctrl.gapNote(), "still thin")
}

func TestCoverageController_EvaluatorErrorIsNoProgress(t *testing.T) {
	t.Parallel()

	eval := &fakeEvaluator{errs: []error{eris.New("model unavailable")}}
	ctrl := newCoverageController(eval, 2, nil)

	fresh := ctrl.next(context.Background(), "s", 1)
	assert.Empty(t, fresh)
	assert.Equal(t, CoverageExhausted, ctrl.state)
	assert.Contains(t, ctrl.gapNote(), "model unavailable")
}

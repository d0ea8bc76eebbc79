package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/insight-engine/internal/analyst"
)

// CoverageState names the states of the coverage loop.
type CoverageState string

const (
	CoverageEvaluating CoverageState = "evaluating"
	CoverageSufficient CoverageState = "sufficient"
	CoverageExpanding  CoverageState = "expanding"
	CoverageExhausted  CoverageState = "exhausted"
)

// coverageEvaluator is the reasoning side of the loop.
type coverageEvaluator interface {
	Evaluate(ctx context.Context, summary string, iteration int) (*analyst.CoverageVerdict, error)
}

// coverageController drives the evaluate-expand loop after the first
// deep-dive pass. It never re-analyzes a covered symbol and gives up
// after maxIterations evaluations or when an iteration adds nothing new.
type coverageController struct {
	evaluator     coverageEvaluator
	maxIterations int
	covered       map[string]bool
	state         CoverageState
	gaps          []string
	log           *zap.Logger
}

func newCoverageController(evaluator coverageEvaluator, maxIterations int, covered []string) *coverageController {
	c := &coverageController{
		evaluator:     evaluator,
		maxIterations: maxIterations,
		covered:       make(map[string]bool, len(covered)),
		state:         CoverageEvaluating,
		log:           zap.L(),
	}
	for _, sym := range covered {
		c.covered[sym] = true
	}
	return c
}

// next evaluates current coverage and returns the symbols to expand to.
// An empty slice means the loop is over; c.state tells why. An evaluator
// error counts as no progress rather than failing the run.
func (c *coverageController) next(ctx context.Context, summary string, iteration int) []analyst.SymbolPick {
	if iteration > c.maxIterations {
		c.state = CoverageExhausted
		return nil
	}
	c.state = CoverageEvaluating

	verdict, err := c.evaluator.Evaluate(ctx, summary, iteration)
	if err != nil {
		c.log.Warn("coverage evaluation failed, treating as no progress",
			zap.Int("iteration", iteration), zap.Error(err))
		c.state = CoverageExhausted
		c.gaps = append(c.gaps, fmt.Sprintf("coverage evaluation %d failed: %v", iteration, err))
		return nil
	}

	if verdict.Sufficient {
		c.state = CoverageSufficient
		return nil
	}
	c.gaps = append(c.gaps, verdict.Gaps...)

	var fresh []analyst.SymbolPick
	for _, pick := range verdict.Recommended {
		if c.covered[pick.Symbol] {
			continue
		}
		c.covered[pick.Symbol] = true
		fresh = append(fresh, pick)
	}
	if len(fresh) == 0 {
		c.state = CoverageExhausted
		return nil
	}
	c.state = CoverageExpanding
	return fresh
}

// gapNote summarizes unresolved gaps for the synthesis prompt, empty when
// coverage ended sufficient.
func (c *coverageController) gapNote() string {
	if c.state == CoverageSufficient || len(c.gaps) == 0 {
		return ""
	}
	return strings.Join(c.gaps, "; ")
}

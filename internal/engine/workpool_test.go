package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-engine/internal/model"
)

func TestExecutor_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	exec := NewExecutor(time.Millisecond)
	res := exec.Execute(context.Background(), WorkUnit{
		ID: "NVDA/technical",
		Run: func(ctx context.Context) (model.WorkReport, error) {
			return model.WorkReport{Summary: "fine"}, nil
		},
	})
	assert.Equal(t, "NVDA/technical", res.UnitID)
	assert.False(t, res.Report.Failed())
	assert.Equal(t, 1, res.Report.Attempts)
}

func TestExecutor_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	exec := NewExecutor(time.Millisecond)
	res := exec.Execute(context.Background(), WorkUnit{
		ID:         "u",
		MaxRetries: 2,
		Run: func(ctx context.Context) (model.WorkReport, error) {
			if calls.Add(1) < 3 {
				return model.WorkReport{}, eris.New("flaky")
			}
			return model.WorkReport{Summary: "third time"}, nil
		},
	})
	assert.False(t, res.Report.Failed())
	assert.Equal(t, 3, res.Report.Attempts)
}

func TestExecutor_ExhaustionIsDataNotError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	exec := NewExecutor(time.Millisecond)
	res := exec.Execute(context.Background(), WorkUnit{
		ID:         "u",
		MaxRetries: 2,
		Run: func(ctx context.Context) (model.WorkReport, error) {
			calls.Add(1)
			return model.WorkReport{}, eris.New("always down")
		},
	})
	// maxRetries=2 means three total attempts
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, res.Report.Failed())
	assert.Contains(t, res.Report.Err, "always down")
	assert.Equal(t, 3, res.Report.Attempts)
	assert.GreaterOrEqual(t, res.Report.ElapsedMs, int64(0))
}

func TestExecutor_UnitTimeout(t *testing.T) {
	t.Parallel()

	exec := NewExecutor(time.Millisecond)
	res := exec.Execute(context.Background(), WorkUnit{
		ID:      "slow",
		Timeout: 10 * time.Millisecond,
		Run: func(ctx context.Context) (model.WorkReport, error) {
			select {
			case <-ctx.Done():
				return model.WorkReport{}, ctx.Err()
			case <-time.After(time.Second):
				return model.WorkReport{Summary: "too late"}, nil
			}
		},
	})
	assert.True(t, res.Report.Failed())
}

func TestPool_PartialFailureIsolation(t *testing.T) {
	t.Parallel()

	units := []WorkUnit{
		{ID: "a", Run: func(ctx context.Context) (model.WorkReport, error) {
			return model.WorkReport{Summary: "ok a"}, nil
		}},
		{ID: "b", Run: func(ctx context.Context) (model.WorkReport, error) {
			return model.WorkReport{}, eris.New("b down")
		}},
		{ID: "c", Run: func(ctx context.Context) (model.WorkReport, error) {
			return model.WorkReport{Summary: "ok c"}, nil
		}},
	}

	pool := NewPool(NewExecutor(time.Millisecond), 2, 0)
	results := pool.RunAll(context.Background(), units)
	require.Len(t, results, 3)

	// results are index for index with the input
	assert.Equal(t, "a", results[0].UnitID)
	assert.Equal(t, "b", results[1].UnitID)
	assert.Equal(t, "c", results[2].UnitID)
	assert.False(t, results[0].Report.Failed())
	assert.True(t, results[1].Report.Failed())
	assert.False(t, results[2].Report.Failed())
}

func TestPool_ConcurrencyBounded(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	unit := func(id string) WorkUnit {
		return WorkUnit{ID: id, Run: func(ctx context.Context) (model.WorkReport, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return model.WorkReport{}, nil
		}}
	}

	units := []WorkUnit{unit("a"), unit("b"), unit("c"), unit("d"), unit("e"), unit("f")}
	pool := NewPool(NewExecutor(time.Millisecond), 2, 0)
	pool.RunAll(context.Background(), units)

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_DeadlineFailsPendingUnits(t *testing.T) {
	t.Parallel()

	slow := func(id string) WorkUnit {
		return WorkUnit{ID: id, Run: func(ctx context.Context) (model.WorkReport, error) {
			select {
			case <-ctx.Done():
				return model.WorkReport{}, ctx.Err()
			case <-time.After(50 * time.Millisecond):
				return model.WorkReport{Summary: "done"}, nil
			}
		}}
	}

	units := []WorkUnit{slow("a"), slow("b"), slow("c"), slow("d")}
	pool := NewPool(NewExecutor(time.Millisecond), 1, 60*time.Millisecond)
	results := pool.RunAll(context.Background(), units)
	require.Len(t, results, 4)

	// the first unit finishes inside the deadline, later ones time out
	assert.False(t, results[0].Report.Failed())
	assert.True(t, results[3].Report.Failed())

	// the last unit never started: zero attempts, labelled as a deadline skip
	assert.Equal(t, 0, results[3].Report.Attempts)
	assert.Contains(t, results[3].Report.Err, "deadline expired before execution")
}

func TestPool_ParentCancelMarksUnitsCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	unit := WorkUnit{ID: "u", Run: func(ctx context.Context) (model.WorkReport, error) {
		return model.WorkReport{Summary: "done"}, nil
	}}
	pool := NewPool(NewExecutor(time.Millisecond), 2, 0)
	results := pool.RunAll(ctx, []WorkUnit{unit, unit})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Report.Failed())
		assert.Contains(t, r.Report.Err, "cancelled before execution")
		assert.NotContains(t, r.Report.Err, "timeout")
		assert.Equal(t, 0, r.Report.Attempts)
	}
}

package market

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/insight-engine/pkg/yahoo"
)

// mockYahoo implements yahoo.Client for testing.
type mockYahoo struct {
	mock.Mock
}

func (m *mockYahoo) Quote(ctx context.Context, symbol string) (*yahoo.Quote, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*yahoo.Quote), args.Error(1)
}

func (m *mockYahoo) History(ctx context.Context, symbol, rng, interval string) (*yahoo.History, error) {
	args := m.Called(ctx, symbol, rng, interval)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*yahoo.History), args.Error(1)
}

// historyFromCloses builds a History with the given closes and flat volume.
func historyFromCloses(symbol string, closes []float64) *yahoo.History {
	vols := make([]int64, len(closes))
	for i := range vols {
		vols[i] = 1_000_000
	}
	return &yahoo.History{Symbol: symbol, Close: closes, Volume: vols}
}

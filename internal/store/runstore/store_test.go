package runstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"backlab/internal/backtest"
	"backlab/internal/optimize"
	"backlab/internal/strategy"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, store.CreateRun(ctx, Run{
		ID:        id,
		Strategy:  "ma_cross",
		Symbol:    "btcusdt",
		Timeframe: "1H",
		Mode:      optimize.ModeGrid,
		Config:    json.RawMessage(`{"trial_budget":50}`),
	}))

	run, ok, err := store.GetRun(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RunStatusPending, run.Status)
	assert.Equal(t, "BTCUSDT", run.Symbol)
	assert.Equal(t, "1h", run.Timeframe)

	require.NoError(t, store.MarkRunning(ctx, id))

	result := optimize.SearchResult{
		BestParams: strategy.Params{"fast_ma": 5, "slow_ma": 20},
		BestValue:  0.42,
		TopTrials: []optimize.TopTrial{{
			Params: strategy.Params{"fast_ma": 5, "slow_ma": 20},
			Value:  0.42,
			Stats:  optimize.TradeStats{TotalTrades: 12, WinningTrades: 8, LosingTrades: 4, WinRate: "66.7%"},
		}},
	}
	artifact := backtest.BuildArtifact(nil, nil, backtest.Metrics{})
	require.NoError(t, store.CompleteRun(ctx, id, result, artifact))

	run, ok, err = store.GetRun(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RunStatusDone, run.Status)
	assert.False(t, run.FinishedAt.IsZero())

	var stored optimize.SearchResult
	require.NoError(t, json.Unmarshal(run.Result, &stored))
	assert.InDelta(t, 0.42, stored.BestValue, 1e-12)
	require.Len(t, stored.TopTrials, 1)
	assert.Equal(t, "66.7%", stored.TopTrials[0].Stats.WinRate)
}

func TestFailRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, store.CreateRun(ctx, Run{ID: id, Strategy: "rsi_reversal", Symbol: "ETHUSDT", Timeframe: "4h"}))
	require.NoError(t, store.FailRun(ctx, id, "no feasible trial within budget"))

	run, ok, err := store.GetRun(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "no feasible trial")
}

func TestGetMissingRun(t *testing.T) {
	store := newTestStore(t)
	_, ok, err := store.GetRun(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListRunsOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for _, id := range ids {
		require.NoError(t, store.CreateRun(ctx, Run{ID: id, Strategy: "ma_cross", Symbol: "BTCUSDT", Timeframe: "1h"}))
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	all, err := store.ListRuns(ctx, 50, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

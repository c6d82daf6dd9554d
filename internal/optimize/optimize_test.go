package optimize

import (
	"context"
	"math"
	"testing"

	"backlab/internal/market"
	"backlab/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flipStrategy 每隔 period 根交替发出多空信号，用于可控地制造交易。
type flipStrategy struct{}

func (f *flipStrategy) Name() string { return "flip" }

func (f *flipStrategy) Space() strategy.Space {
	return strategy.Space{
		"period": {Min: 1, Max: 5, Step: 1, Type: strategy.TypeInt},
	}
}

func (f *flipStrategy) Validate(params strategy.Params) bool {
	return params.Int("period", 0) >= 1
}

func (f *flipStrategy) ComputeSignals(candles []market.Candle, params strategy.Params) ([]strategy.Signal, error) {
	period := params.Int("period", 1)
	signals := make([]strategy.Signal, len(candles))
	next := strategy.LongEntry
	for i := period; i < len(candles); i += period {
		signals[i] = next
		if next == strategy.LongEntry {
			next = strategy.ShortEntry
		} else {
			next = strategy.LongEntry
		}
	}
	return signals, nil
}

// pairStrategy 带 fast/slow 两个参数，约束 fast < slow。
type pairStrategy struct{ flipStrategy }

func (p *pairStrategy) Name() string { return "pair" }

func (p *pairStrategy) Space() strategy.Space {
	return strategy.Space{
		"fast": {Min: 8, Max: 12, Step: 2, Type: strategy.TypeInt},
		"slow": {Min: 8, Max: 12, Step: 2, Type: strategy.TypeInt},
	}
}

func (p *pairStrategy) Validate(params strategy.Params) bool {
	return params.Int("fast", 0) < params.Int("slow", 0)
}

func (p *pairStrategy) ComputeSignals(candles []market.Candle, params strategy.Params) ([]strategy.Signal, error) {
	return p.flipStrategy.ComputeSignals(candles, strategy.Params{"period": 2})
}

func zigzagCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		price := 100 + 0.5*float64(i)
		if i%2 == 0 {
			price += 3
		} else {
			price -= 3
		}
		out[i] = market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i)*60_000 + 59_999,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1,
		}
	}
	return out
}

func TestGridSearch(t *testing.T) {
	strat := &pairStrategy{}
	obj := &Objective{Strategy: strat, Candles: zigzagCandles(60), MinTrades: 1}

	t.Run("invalid combos excluded before evaluation", func(t *testing.T) {
		// 3x3 原始组合，仅 fast<slow 的 6 个进入评估。
		assert.Len(t, enumerateGrid(strat.Space()), 9)

		trials, err := GridSearch(context.Background(), obj, strat.Space(), 4)
		require.NoError(t, err)
		require.Len(t, trials, 6)
		for _, tr := range trials {
			assert.Less(t, tr.Params.Int("fast", 0), tr.Params.Int("slow", 0))
			assert.False(t, tr.Rejected())
		}
	})

	t.Run("fully invalid space is an error", func(t *testing.T) {
		space := strategy.Space{
			"fast": {Min: 10, Max: 10, Step: 1, Type: strategy.TypeInt},
			"slow": {Min: 8, Max: 8, Step: 1, Type: strategy.TypeInt},
		}
		_, err := GridSearch(context.Background(), obj, space, 1)
		assert.Error(t, err)
	})
}

func TestObjectiveRejection(t *testing.T) {
	strat := &flipStrategy{}
	candles := zigzagCandles(60)

	t.Run("too few trades scores minus infinity", func(t *testing.T) {
		obj := &Objective{Strategy: strat, Candles: candles, MinTrades: 1000}
		value, err := obj.Evaluate(strategy.Params{"period": 2})
		require.NoError(t, err)
		assert.True(t, math.IsInf(value, -1))
	})

	t.Run("invalid params rejected without simulation", func(t *testing.T) {
		obj := &Objective{Strategy: strat, Candles: candles, MinTrades: 1}
		value, err := obj.Evaluate(strategy.Params{"period": 0})
		require.NoError(t, err)
		assert.True(t, math.IsInf(value, -1))
	})
}

func TestBayesianSeedDeterminism(t *testing.T) {
	strat := &flipStrategy{}
	obj := &Objective{Strategy: strat, Candles: zigzagCandles(80), MinTrades: 5}
	cfg := BayesianConfig{TrialBudget: 30, Seed: 42, StartupTrials: 10, Candidates: 20}

	first, err := BayesianSearch(context.Background(), obj, strat.Space(), cfg)
	require.NoError(t, err)
	second, err := BayesianSearch(context.Background(), obj, strat.Space(), cfg)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Params, second[i].Params, "trial %d params must match", i)
		assert.Equal(t, first[i].Value, second[i].Value, "trial %d value must match", i)
	}
}

func TestAggregate(t *testing.T) {
	strat := &flipStrategy{}
	obj := &Objective{Strategy: strat, Candles: zigzagCandles(60), MinTrades: 1}

	t.Run("duplicate keys collapse and rejected trials drop", func(t *testing.T) {
		trials := []Trial{
			{Params: strategy.Params{"period": 2}, Value: 0.5},
			{Params: strategy.Params{"period": 2.0}, Value: 0.5},
			{Params: strategy.Params{"period": 3}, Value: 0.4},
			{Params: strategy.Params{"period": 3}, Value: 0.3},
			{Params: strategy.Params{"period": 4}, Value: 0.2},
			{Params: strategy.Params{"period": 5}, Value: math.Inf(-1)},
		}
		top, err := Aggregate(obj, trials, 5)
		require.NoError(t, err)
		require.Len(t, top, 3)

		assert.Equal(t, 2, top[0].Params.Int("period", 0))
		assert.Equal(t, 3, top[1].Params.Int("period", 0))
		assert.Equal(t, 4, top[2].Params.Int("period", 0))
		for _, tt := range top {
			assert.Greater(t, tt.Stats.TotalTrades, 0)
			assert.Equal(t, tt.Stats.TotalTrades, tt.Stats.WinningTrades+tt.Stats.LosingTrades)
			assert.Contains(t, tt.Stats.WinRate, "%")
		}
	})

	t.Run("respects top-k bound", func(t *testing.T) {
		trials := []Trial{
			{Params: strategy.Params{"period": 1}, Value: 0.5},
			{Params: strategy.Params{"period": 2}, Value: 0.4},
			{Params: strategy.Params{"period": 3}, Value: 0.3},
		}
		top, err := Aggregate(obj, trials, 2)
		require.NoError(t, err)
		assert.Len(t, top, 2)
	})
}

func TestEngineRun(t *testing.T) {
	candles := zigzagCandles(80)

	t.Run("grid end to end", func(t *testing.T) {
		result, artifact, err := Run(context.Background(), &flipStrategy{}, nil, candles, Config{
			Mode:      ModeGrid,
			MinTrades: 5,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, result.BestParams)
		assert.False(t, math.IsInf(result.BestValue, 0))
		assert.NotEmpty(t, result.TopTrials)
		assert.Len(t, artifact.EquityCurve, len(artifact.TradeHistory))
		assert.Equal(t, len(candles), len(artifact.PriceData))
		assert.Equal(t, len(artifact.TradeHistory), artifact.PerformanceMetrics.TotalTrades)
	})

	t.Run("bayesian end to end", func(t *testing.T) {
		result, _, err := Run(context.Background(), &flipStrategy{}, nil, candles, Config{
			Mode:        ModeBayesian,
			TrialBudget: 25,
			Seed:        7,
			MinTrades:   5,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, result.BestParams)
	})

	t.Run("all trials rejected surfaces sentinel", func(t *testing.T) {
		_, _, err := Run(context.Background(), &flipStrategy{}, nil, candles, Config{
			Mode:      ModeGrid,
			MinTrades: 100000,
		})
		assert.ErrorIs(t, err, ErrNoFeasibleTrial)
	})

	t.Run("invalid series is fatal", func(t *testing.T) {
		_, _, err := Run(context.Background(), &flipStrategy{}, nil, nil, Config{Mode: ModeGrid})
		assert.ErrorIs(t, err, market.ErrEmptySeries)
	})
}

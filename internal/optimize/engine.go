package optimize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"backlab/internal/backtest"
	"backlab/internal/logger"
	"backlab/internal/market"
	"backlab/internal/strategy"
)

// 搜索模式。
const (
	ModeGrid     = "grid"
	ModeBayesian = "bayesian"
)

// ErrNoFeasibleTrial 表示预算内没有任何参数组合通过全部约束。
var ErrNoFeasibleTrial = errors.New("optimize: no feasible trial within budget")

// Config 描述一次参数搜索。
type Config struct {
	Mode          string  `json:"mode" mapstructure:"mode"`
	TrialBudget   int     `json:"trial_budget" mapstructure:"trial_budget"`
	Seed          int64   `json:"seed" mapstructure:"seed"`
	StartupTrials int     `json:"startup_trials" mapstructure:"startup_trials"`
	Candidates    int     `json:"candidates" mapstructure:"candidates"`
	MinTrades     int     `json:"min_trades" mapstructure:"min_trades"`
	TopK          int     `json:"top_k" mapstructure:"top_k"`
	RiskFreeRate  float64 `json:"risk_free_rate" mapstructure:"risk_free_rate"`
	Parallelism   int     `json:"parallelism" mapstructure:"parallelism"`
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeBayesian
	}
	if c.TrialBudget <= 0 {
		c.TrialBudget = 100
	}
	if c.MinTrades <= 0 {
		c.MinTrades = 10
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.RiskFreeRate == 0 {
		c.RiskFreeRate = backtest.DefaultRiskFreeRate
	}
	if c.Parallelism <= 0 {
		c.Parallelism = runtime.NumCPU()
	}
	return c
}

// Run 对单一策略执行一次完整搜索：
// 网格模式并行枚举，贝叶斯模式按 seed 序贯采样；
// 搜索结束后聚合去重前 K，并用最优参数重跑一次生成完整回测产物。
func Run(ctx context.Context, strat strategy.Strategy, space strategy.Space, candles []market.Candle, cfg Config) (SearchResult, backtest.Artifact, error) {
	if err := market.ValidateSeries(candles); err != nil {
		return SearchResult{}, backtest.Artifact{}, err
	}
	if space == nil {
		space = strat.Space()
	}
	if err := space.Validate(); err != nil {
		return SearchResult{}, backtest.Artifact{}, err
	}
	cfg = cfg.withDefaults()

	obj := &Objective{
		Strategy:     strat,
		Candles:      candles,
		MinTrades:    cfg.MinTrades,
		RiskFreeRate: cfg.RiskFreeRate,
	}

	var (
		trials []Trial
		err    error
	)
	switch cfg.Mode {
	case ModeGrid:
		trials, err = GridSearch(ctx, obj, space, cfg.Parallelism)
	case ModeBayesian:
		trials, err = BayesianSearch(ctx, obj, space, BayesianConfig{
			TrialBudget:   cfg.TrialBudget,
			Seed:          cfg.Seed,
			StartupTrials: cfg.StartupTrials,
			Candidates:    cfg.Candidates,
		})
	default:
		return SearchResult{}, backtest.Artifact{}, fmt.Errorf("optimize: unknown mode %q", cfg.Mode)
	}
	if err != nil {
		return SearchResult{}, backtest.Artifact{}, err
	}

	best := Trial{Value: math.Inf(-1)}
	rejected := 0
	for _, t := range trials {
		if t.Rejected() {
			rejected++
			continue
		}
		if t.Value > best.Value {
			best = t
		}
	}
	logger.Infof("[optimize] %s/%s finished: trials=%d rejected=%d best=%.6f",
		strat.Name(), cfg.Mode, len(trials), rejected, best.Value)
	if best.Rejected() {
		return SearchResult{}, backtest.Artifact{}, fmt.Errorf("%w: %d trials all rejected", ErrNoFeasibleTrial, len(trials))
	}

	top, err := Aggregate(obj, trials, cfg.TopK)
	if err != nil {
		return SearchResult{}, backtest.Artifact{}, err
	}

	metrics, trades, err := obj.run(best.Params)
	if err != nil {
		return SearchResult{}, backtest.Artifact{}, err
	}
	result := SearchResult{
		BestParams: best.Params.Clone(),
		BestValue:  metrics.TotalReturn,
		TopTrials:  top,
	}
	return result, backtest.BuildArtifact(candles, trades, metrics), nil
}

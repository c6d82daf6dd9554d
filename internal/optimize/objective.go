package optimize

import (
	"fmt"
	"math"

	"backlab/internal/backtest"
	"backlab/internal/market"
	"backlab/internal/strategy"
)

// Trial 是一次被评估的参数组合及其目标值。
// Value 为 -Inf 表示候选被拒绝（参数不可行或交易数不足），搜索继续。
type Trial struct {
	Params strategy.Params `json:"params"`
	Value  float64         `json:"value"`
}

// Rejected 表示该 trial 未通过可行性或最小交易数约束。
func (t Trial) Rejected() bool {
	return math.IsInf(t.Value, -1)
}

// Objective 是网格与贝叶斯共享的目标函数：
// validate 失败 → -Inf（不模拟）；交易数低于阈值 → -Inf；
// 否则返回加法口径的 total_return。模拟内部错误对整个搜索是致命的。
type Objective struct {
	Strategy     strategy.Strategy
	Candles      []market.Candle
	MinTrades    int
	RiskFreeRate float64
}

// Evaluate 对一组参数打分。返回 error 表示搜索应立即中止。
func (o *Objective) Evaluate(params strategy.Params) (float64, error) {
	if !o.Strategy.Validate(params) {
		return math.Inf(-1), nil
	}
	metrics, _, err := o.run(params)
	if err != nil {
		return 0, err
	}
	if metrics.TotalTrades < o.MinTrades {
		return math.Inf(-1), nil
	}
	return metrics.TotalReturn, nil
}

// run 执行一次完整模拟并返回指标与账本。
func (o *Objective) run(params strategy.Params) (backtest.Metrics, []backtest.Trade, error) {
	signals, err := o.Strategy.ComputeSignals(o.Candles, params)
	if err != nil {
		return backtest.Metrics{}, nil, fmt.Errorf("optimize: %s signals: %w", o.Strategy.Name(), err)
	}
	trades, err := backtest.Simulate(o.Candles, signals)
	if err != nil {
		return backtest.Metrics{}, nil, fmt.Errorf("optimize: %s simulation: %w", o.Strategy.Name(), err)
	}
	return backtest.ComputeMetrics(trades, o.RiskFreeRate), trades, nil
}

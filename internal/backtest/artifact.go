package backtest

import "backlab/internal/market"

// EquityPoint 是权益曲线上的一个点，时间取该笔交易的平仓时刻。
type EquityPoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// EquityCurve 按平仓时间累乘 (1+pnl) 生成复利权益曲线。
// 空账本返回单点 1.0 基线。
func EquityCurve(trades []Trade) []EquityPoint {
	if len(trades) == 0 {
		return []EquityPoint{{Time: 0, Value: 1.0}}
	}
	points := make([]EquityPoint, len(trades))
	equity := 1.0
	for i, t := range trades {
		equity *= 1 + t.PnL
		points[i] = EquityPoint{Time: t.ExitTime, Value: equity}
	}
	return points
}

// Artifact 是一次完整回测的产物，供报表层直接消费。
type Artifact struct {
	TradeHistory       []Trade         `json:"trade_history"`
	PerformanceMetrics Metrics         `json:"performance_metrics"`
	EquityCurve        []EquityPoint   `json:"equity_curve"`
	PriceData          []market.Candle `json:"price_data"`
}

// BuildArtifact 组装回测产物。
func BuildArtifact(candles []market.Candle, trades []Trade, metrics Metrics) Artifact {
	return Artifact{
		TradeHistory:       trades,
		PerformanceMetrics: metrics,
		EquityCurve:        EquityCurve(trades),
		PriceData:          candles,
	}
}

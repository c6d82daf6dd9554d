package backtest

import "math"

// DefaultRiskFreeRate 是夏普/索提诺计算的默认年化无风险利率。
const DefaultRiskFreeRate = 0.02

const tradingDaysPerYear = 252

// Metrics 是由交易账本完整推导出的绩效指标。
// 账本为空时所有字段为 0，任何分母为 0 的比率也取 0，绝不产生 NaN。
type Metrics struct {
	TotalReturn          float64 `json:"total_return"`
	CompoundReturn       float64 `json:"compound_return"`
	TotalTrades          int     `json:"total_trades"`
	WinRate              float64 `json:"win_rate"`
	ProfitFactor         float64 `json:"profit_factor"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	SharpeRatio          float64 `json:"sharpe_ratio"`
	SortinoRatio         float64 `json:"sortino_ratio"`
	CalmarRatio          float64 `json:"calmar_ratio"`
	AvgWin               float64 `json:"avg_win"`
	AvgLoss              float64 `json:"avg_loss"`
	MaxConsecutiveWins   int     `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	RiskRewardRatio      float64 `json:"risk_reward_ratio"`
}

// ComputeMetrics 从交易账本的 PnL 序列重建全部指标。
// total_return 为固定名义本金的累加收益，compound_return 为复利收益，两者刻意不统一。
func ComputeMetrics(trades []Trade, riskFreeRate float64) Metrics {
	var m Metrics
	if len(trades) == 0 {
		return m
	}
	if riskFreeRate == 0 {
		riskFreeRate = DefaultRiskFreeRate
	}

	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
	}
	m.TotalTrades = len(pnls)

	compound := 1.0
	var grossProfit, grossLoss float64
	wins, losses := 0, 0
	for _, p := range pnls {
		m.TotalReturn += p
		compound *= 1 + p
		switch {
		case p > 0:
			grossProfit += p
			wins++
		case p < 0:
			grossLoss += -p
			losses++
		}
	}
	m.CompoundReturn = compound - 1
	m.WinRate = float64(wins) / float64(len(pnls))
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	}
	if wins > 0 {
		m.AvgWin = grossProfit / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = grossLoss / float64(losses)
	}
	if m.AvgLoss > 0 {
		m.RiskRewardRatio = m.AvgWin / m.AvgLoss
	}

	m.MaxDrawdown = maxDrawdown(pnls)
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = m.TotalReturn / m.MaxDrawdown
	}

	m.SharpeRatio, m.SortinoRatio = riskAdjusted(pnls, riskFreeRate)
	m.MaxConsecutiveWins, m.MaxConsecutiveLosses = consecutiveRuns(pnls)
	return m
}

// maxDrawdown 在 PnL 的累加路径上计算最大回撤 (peak-value)/peak。
func maxDrawdown(pnls []float64) float64 {
	var cum, peak, maxDD float64
	peak = math.Inf(-1)
	for _, p := range pnls {
		cum += p
		if cum > peak {
			peak = cum
		}
		if peak > 0 {
			if dd := (peak - cum) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func riskAdjusted(pnls []float64, riskFreeRate float64) (sharpe, sortino float64) {
	if len(pnls) < 2 {
		return 0, 0
	}
	daily := riskFreeRate / tradingDaysPerYear
	excess := make([]float64, len(pnls))
	var sum float64
	for i, p := range pnls {
		excess[i] = p - daily
		sum += excess[i]
	}
	mean := sum / float64(len(excess))

	std := stddev(excess, mean)
	if std > 0 {
		sharpe = mean / std * math.Sqrt(tradingDaysPerYear)
	}

	var downside []float64
	for _, e := range excess {
		if e < 0 {
			downside = append(downside, e)
		}
	}
	if len(downside) > 0 {
		var dSum float64
		for _, d := range downside {
			dSum += d
		}
		dStd := stddev(downside, dSum/float64(len(downside)))
		if dStd > 0 {
			sortino = mean / dStd * math.Sqrt(tradingDaysPerYear)
		}
	}
	return sharpe, sortino
}

// stddev 计算样本标准差（n-1），样本数不足时返回 0。
func stddev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// consecutiveRuns 统计最长连胜/连亏（pnl==0 计入亏损段）。
func consecutiveRuns(pnls []float64) (maxWins, maxLosses int) {
	curWins, curLosses := 0, 0
	for _, p := range pnls {
		if p > 0 {
			curWins++
			curLosses = 0
		} else {
			curLosses++
			curWins = 0
		}
		if curWins > maxWins {
			maxWins = curWins
		}
		if curLosses > maxLosses {
			maxLosses = curLosses
		}
	}
	return maxWins, maxLosses
}

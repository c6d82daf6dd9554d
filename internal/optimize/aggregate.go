package optimize

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"backlab/internal/strategy"

	"github.com/shopspring/decimal"
)

// TradeStats 是报表用的交易统计，win_rate 按原样输出为百分比字符串。
type TradeStats struct {
	TotalTrades   int    `json:"total_trades"`
	WinningTrades int    `json:"winning_trades"`
	LosingTrades  int    `json:"losing_trades"`
	WinRate       string `json:"win_rate"`
}

// TopTrial 是去重后的前 K 结果之一。
type TopTrial struct {
	Params strategy.Params `json:"params"`
	Value  float64         `json:"value"`
	Stats  TradeStats      `json:"trade_stats"`
}

// SearchResult 汇总一次完整搜索。
type SearchResult struct {
	BestParams strategy.Params `json:"best_params"`
	BestValue  float64         `json:"best_value"`
	TopTrials  []TopTrial      `json:"top_trials"`
}

// canonicalKey 生成参数组合的规范键：按名排序、数值四舍五入到 6 位。
// 近邻参数的微小浮点差异落入同一个键，避免挤占榜单。
func canonicalKey(params strategy.Params) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		var repr string
		switch v := params[name].(type) {
		case string:
			repr = v
		default:
			repr = decimal.NewFromFloat(toFloat(v)).Round(6).String()
		}
		parts = append(parts, name+"="+repr)
	}
	return strings.Join(parts, ",")
}

// Aggregate 取目标值降序的前 topK 个行为互异的参数组合。
// 被拒绝（-Inf）的 trial 永不进入榜单；每个保留项都重跑一次模拟，
// 排序沿用搜索期记录的目标值，统计数字以重算结果为准。
func Aggregate(obj *Objective, trials []Trial, topK int) ([]TopTrial, error) {
	if topK <= 0 {
		topK = 5
	}
	ranked := make([]Trial, 0, len(trials))
	for _, t := range trials {
		if !math.IsInf(t.Value, 0) && !math.IsNaN(t.Value) {
			ranked = append(ranked, t)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Value > ranked[j].Value })

	seen := make(map[string]struct{})
	top := make([]TopTrial, 0, topK)
	for _, t := range ranked {
		if len(top) >= topK {
			break
		}
		key := canonicalKey(t.Params)
		if _, dup := seen[key]; dup {
			continue
		}
		metrics, trades, err := obj.run(t.Params)
		if err != nil {
			return nil, err
		}
		winning := 0
		for _, tr := range trades {
			if tr.PnL > 0 {
				winning++
			}
		}
		winRate := "0%"
		if len(trades) > 0 {
			winRate = fmt.Sprintf("%.1f%%", float64(winning)/float64(len(trades))*100)
		}
		top = append(top, TopTrial{
			Params: t.Params.Clone(),
			Value:  metrics.TotalReturn,
			Stats: TradeStats{
				TotalTrades:   len(trades),
				WinningTrades: winning,
				LosingTrades:  len(trades) - winning,
				WinRate:       winRate,
			},
		})
		seen[key] = struct{}{}
	}
	return top, nil
}

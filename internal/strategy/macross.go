package strategy

import (
	"fmt"

	"backlab/internal/market"

	talib "github.com/markcheno/go-talib"
)

// MACross 双均线策略：快线上穿慢线做多，下穿做空。
type MACross struct{}

func NewMACross() *MACross { return &MACross{} }

func (m *MACross) Name() string { return "ma_cross" }

func (m *MACross) Space() Space {
	return Space{
		"fast_ma": {Min: 3, Max: 30, Step: 1, Type: TypeInt},
		"slow_ma": {Min: 10, Max: 120, Step: 5, Type: TypeInt},
	}
}

// Validate 要求快线周期严格小于慢线周期。
func (m *MACross) Validate(params Params) bool {
	fast := params.Int("fast_ma", 10)
	slow := params.Int("slow_ma", 30)
	return fast > 0 && slow > 0 && fast < slow
}

// ComputeSignals 计算快慢均线差值的符号翻转点。
// 慢线 warmup 完成前一律输出 None；两线首次同时可用且快线在慢线上方时视作一次上穿。
func (m *MACross) ComputeSignals(candles []market.Candle, params Params) ([]Signal, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: empty candle series", market.ErrEmptySeries)
	}
	fast := params.Int("fast_ma", 10)
	slow := params.Int("slow_ma", 30)
	if !m.Validate(params) {
		return nil, fmt.Errorf("ma_cross: invalid params fast=%d slow=%d", fast, slow)
	}
	signals := make([]Signal, len(candles))
	if len(candles) < slow+1 {
		return signals, nil
	}
	closes := market.Closes(candles)
	fastMA := talib.Sma(closes, fast)
	slowMA := talib.Sma(closes, slow)

	// trendAt 返回第 i 根的趋势符号；warmup 区间视为 0。
	trendAt := func(i int) float64 {
		if i < slow-1 {
			return 0
		}
		return fastMA[i] - slowMA[i]
	}
	for i := slow - 1; i < len(candles); i++ {
		cur := trendAt(i)
		prev := 0.0
		if i > 0 {
			prev = trendAt(i - 1)
		}
		switch {
		case cur > 0 && prev <= 0:
			signals[i] = LongEntry
		case cur < 0 && prev >= 0:
			signals[i] = ShortEntry
		}
	}
	return signals, nil
}

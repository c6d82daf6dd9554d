package strategy

import (
	"fmt"

	"backlab/internal/market"

	talib "github.com/markcheno/go-talib"
)

// RSIReversal RSI 超卖反弹做多、超买回落做空。
type RSIReversal struct{}

func NewRSIReversal() *RSIReversal { return &RSIReversal{} }

func (r *RSIReversal) Name() string { return "rsi_reversal" }

func (r *RSIReversal) Space() Space {
	return Space{
		"rsi_period": {Min: 5, Max: 30, Step: 1, Type: TypeInt},
		"oversold":   {Min: 15, Max: 40, Step: 5, Type: TypeFloat},
		"overbought": {Min: 60, Max: 85, Step: 5, Type: TypeFloat},
	}
}

// Validate 要求超卖阈值严格小于超买阈值。
func (r *RSIReversal) Validate(params Params) bool {
	period := params.Int("rsi_period", 14)
	oversold := params.Float("oversold", 30)
	overbought := params.Float("overbought", 70)
	return period > 1 && oversold > 0 && overbought < 100 && oversold < overbought
}

// ComputeSignals 检测 RSI 从阈值区间外向内的穿越。
func (r *RSIReversal) ComputeSignals(candles []market.Candle, params Params) ([]Signal, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: empty candle series", market.ErrEmptySeries)
	}
	period := params.Int("rsi_period", 14)
	oversold := params.Float("oversold", 30)
	overbought := params.Float("overbought", 70)
	if !r.Validate(params) {
		return nil, fmt.Errorf("rsi_reversal: invalid params period=%d oversold=%.1f overbought=%.1f", period, oversold, overbought)
	}
	signals := make([]Signal, len(candles))
	if len(candles) < period+2 {
		return signals, nil
	}
	rsi := talib.Rsi(market.Closes(candles), period)
	// talib 的 RSI 从第 period 根开始有效，之前保持 None。
	for i := period + 1; i < len(candles); i++ {
		prev, cur := rsi[i-1], rsi[i]
		switch {
		case prev <= oversold && cur > oversold:
			signals[i] = LongEntry
		case prev >= overbought && cur < overbought:
			signals[i] = ShortEntry
		}
	}
	return signals, nil
}

package backtest

import (
	"errors"
	"fmt"

	"backlab/internal/market"
	"backlab/internal/strategy"
)

// Side 表示持仓方向。
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ErrMisaligned 表示信号序列与价格序列长度不一致。
var ErrMisaligned = errors.New("backtest: signal series misaligned with price series")

// Trade 是一笔已平仓交易的不可变记录，PnL 为分数收益。
type Trade struct {
	Side       Side    `json:"side"`
	EntryTime  int64   `json:"entry_time"`
	ExitTime   int64   `json:"exit_time"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	PnL        float64 `json:"pnl"`
}

type position struct {
	side       Side
	entryTime  int64
	entryPrice float64
}

func (p position) pnl(exitPrice float64) float64 {
	if p.side == SideLong {
		return (exitPrice - p.entryPrice) / p.entryPrice
	}
	return (p.entryPrice - exitPrice) / p.entryPrice
}

func (p position) close(exitTime int64, exitPrice float64) Trade {
	return Trade{
		Side:       p.side,
		EntryTime:  p.entryTime,
		ExitTime:   exitTime,
		EntryPrice: p.entryPrice,
		ExitPrice:  exitPrice,
		PnL:        p.pnl(exitPrice),
	}
}

// Simulate 将对齐的信号序列转换为交易账本：
// 从第 1 根开始单次正向遍历，反向信号先平仓再反手开仓，
// 同向信号持仓时忽略；序列结束时强制按最后收盘价平仓。
// 任何时刻最多持有一个仓位。
func Simulate(candles []market.Candle, signals []strategy.Signal) ([]Trade, error) {
	if len(candles) == 0 || len(signals) == 0 {
		return nil, fmt.Errorf("%w: simulation needs candles and signals", market.ErrEmptySeries)
	}
	if len(candles) != len(signals) {
		return nil, fmt.Errorf("%w: %d candles vs %d signals", ErrMisaligned, len(candles), len(signals))
	}

	trades := make([]Trade, 0)
	var pos *position

	for i := 1; i < len(candles); i++ {
		sig := signals[i]
		ts := candles[i].CloseTime
		price := candles[i].Close

		if pos != nil &&
			((pos.side == SideLong && sig == strategy.ShortEntry) ||
				(pos.side == SideShort && sig == strategy.LongEntry)) {
			trades = append(trades, pos.close(ts, price))
			pos = nil
		}

		if pos == nil && sig != strategy.None {
			side := SideLong
			if sig == strategy.ShortEntry {
				side = SideShort
			}
			pos = &position{side: side, entryTime: ts, entryPrice: price}
		}
	}

	if pos != nil {
		last := candles[len(candles)-1]
		trades = append(trades, pos.close(last.CloseTime, last.Close))
	}
	return trades, nil
}

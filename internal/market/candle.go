package market

import (
	"errors"
	"fmt"
)

// Candle 表示单根 K 线（时间戳为 Unix 毫秒）。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

var (
	// ErrEmptySeries 表示价格序列为空。
	ErrEmptySeries = errors.New("market: empty price series")
	// ErrSeriesOrder 表示时间戳非严格递增（含重复）。
	ErrSeriesOrder = errors.New("market: price series timestamps must be strictly increasing")
	// ErrNegativeValue 表示 OHLCV 出现负值。
	ErrNegativeValue = errors.New("market: negative price or volume")
)

// ValidateSeries 校验价格序列可作为一次模拟的不可变输入：
// 非空、CloseTime 严格递增（重复视为非法）、OHLCV 非负。
func ValidateSeries(candles []Candle) error {
	if len(candles) == 0 {
		return ErrEmptySeries
	}
	prev := int64(-1)
	for i, c := range candles {
		if c.CloseTime <= prev {
			return fmt.Errorf("%w: index %d (ts=%d, prev=%d)", ErrSeriesOrder, i, c.CloseTime, prev)
		}
		prev = c.CloseTime
		if c.Open < 0 || c.High < 0 || c.Low < 0 || c.Close < 0 || c.Volume < 0 {
			return fmt.Errorf("%w: index %d", ErrNegativeValue, i)
		}
	}
	return nil
}

// Closes 提取收盘价序列，供指标计算使用。
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

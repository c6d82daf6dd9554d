package strategy

import (
	"fmt"
	"math"
	"sort"

	"backlab/internal/market"
)

// Signal 表示单根 K 线上的交易信号。
type Signal int8

const (
	ShortEntry Signal = -1
	None       Signal = 0
	LongEntry  Signal = 1
)

// Params 保存一组策略参数（数值或枚举）。
type Params map[string]any

// Int 读取整型参数，缺失或类型不符时返回默认值。
func (p Params) Int(name string, def int) int {
	switch v := p[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return def
	}
}

// Float 读取浮点参数，缺失或类型不符时返回默认值。
func (p Params) Float(name string, def float64) float64 {
	switch v := p[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Str 读取枚举参数。
func (p Params) Str(name string, def string) string {
	if v, ok := p[name].(string); ok {
		return v
	}
	return def
}

// Clone 返回参数集合的浅拷贝。
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// 参数类型。
const (
	TypeInt         = "int"
	TypeFloat       = "float"
	TypeCategorical = "categorical"
)

// ParamRange 描述单个参数的取值范围。
type ParamRange struct {
	Min     float64  `json:"min" yaml:"min"`
	Max     float64  `json:"max" yaml:"max"`
	Step    float64  `json:"step" yaml:"step"`
	Type    string   `json:"type" yaml:"type"`
	Options []string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Space 是参数名到取值范围的映射。
type Space map[string]ParamRange

// Names 返回排序后的参数名，保证枚举顺序确定。
func (s Space) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate 检查参数空间本身是否合法（范围/步长/枚举项）。
func (s Space) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("strategy: parameter space is empty")
	}
	for name, r := range s {
		switch r.Type {
		case TypeInt, TypeFloat:
			if r.Step <= 0 {
				return fmt.Errorf("strategy: parameter %q step must be > 0", name)
			}
			if r.Max < r.Min {
				return fmt.Errorf("strategy: parameter %q max < min", name)
			}
		case TypeCategorical:
			if len(r.Options) == 0 {
				return fmt.Errorf("strategy: categorical parameter %q needs options", name)
			}
		default:
			return fmt.Errorf("strategy: parameter %q has unknown type %q", name, r.Type)
		}
	}
	return nil
}

// Strategy 是所有策略实现的能力契约：纯函数式信号计算 + 参数空间元数据 + 可行性校验。
// ComputeSignals 必须确定、无隐藏状态，输出与输入等长对齐；指标 warmup 阶段产生 None。
type Strategy interface {
	Name() string
	ComputeSignals(candles []market.Candle, params Params) ([]Signal, error)
	Space() Space
	Validate(params Params) bool
}

package optimize

import (
	"context"
	"fmt"

	"backlab/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// rangeValues 展开单个参数的全部离散取值。
func rangeValues(r strategy.ParamRange) []any {
	switch r.Type {
	case strategy.TypeCategorical:
		out := make([]any, len(r.Options))
		for i, o := range r.Options {
			out[i] = o
		}
		return out
	case strategy.TypeInt:
		var out []any
		step := int(r.Step)
		if step < 1 {
			step = 1
		}
		for v := int(r.Min); v <= int(r.Max); v += step {
			out = append(out, v)
		}
		return out
	default:
		var out []any
		for v := r.Min; v <= r.Max+1e-9; v += r.Step {
			out = append(out, v)
		}
		return out
	}
}

// enumerateGrid 按排序后的参数名展开笛卡尔积，顺序确定。
func enumerateGrid(space strategy.Space) []strategy.Params {
	names := space.Names()
	combos := []strategy.Params{{}}
	for _, name := range names {
		values := rangeValues(space[name])
		next := make([]strategy.Params, 0, len(combos)*len(values))
		for _, base := range combos {
			for _, v := range values {
				p := base.Clone()
				p[name] = v
				next = append(next, p)
			}
		}
		combos = next
	}
	return combos
}

// GridSearch 枚举参数空间的笛卡尔积并并行评估。
// validate 失败的组合在评估前整体剔除，不打分也不计数；
// 评估阶段任何模拟错误都会中止整个搜索。
func GridSearch(ctx context.Context, obj *Objective, space strategy.Space, parallelism int) ([]Trial, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	var candidates []strategy.Params
	for _, params := range enumerateGrid(space) {
		if obj.Strategy.Validate(params) {
			candidates = append(candidates, params)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("optimize: no valid combination in grid")
	}

	if parallelism < 1 {
		parallelism = 1
	}
	trials := make([]Trial, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, params := range candidates {
		i, params := i, params
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			value, err := obj.Evaluate(params)
			if err != nil {
				return err
			}
			trials[i] = Trial{Params: params, Value: value}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return trials, nil
}

package optimize

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"backlab/internal/strategy"
)

// BayesianConfig 控制序贯模型搜索。
type BayesianConfig struct {
	TrialBudget   int
	Seed          int64
	StartupTrials int     // 模型生效前的随机预热次数
	Candidates    int     // 每轮采样的候选数
	Gamma         float64 // 划分优质样本的分位数
}

func (c BayesianConfig) withDefaults() BayesianConfig {
	if c.TrialBudget <= 0 {
		c.TrialBudget = 100
	}
	if c.StartupTrials <= 0 {
		c.StartupTrials = 10
	}
	if c.Candidates <= 0 {
		c.Candidates = 20
	}
	if c.Gamma <= 0 || c.Gamma >= 1 {
		c.Gamma = 0.25
	}
	return c
}

// BayesianSearch 在固定 trial 预算内做序贯模型搜索：
// 前 StartupTrials 次随机采样，之后按历史表现把样本分成优/劣两组，
// 每轮生成 Candidates 个候选并选取优组核密度相对劣组最高的一个评估。
// 相同 seed 与相同输入保证逐 trial 完全一致。
func BayesianSearch(ctx context.Context, obj *Objective, space strategy.Space, cfg BayesianConfig) ([]Trial, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))
	names := space.Names()

	trials := make([]Trial, 0, cfg.TrialBudget)
	for i := 0; i < cfg.TrialBudget; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var params strategy.Params
		if i < cfg.StartupTrials {
			params = sampleRandom(rng, space, names)
		} else {
			params = proposeCandidate(rng, space, names, trials, cfg)
		}
		value, err := obj.Evaluate(params)
		if err != nil {
			return nil, err
		}
		trials = append(trials, Trial{Params: params, Value: value})
	}
	return trials, nil
}

// sampleRandom 在每个参数的离散网格上均匀采样。
func sampleRandom(rng *rand.Rand, space strategy.Space, names []string) strategy.Params {
	params := make(strategy.Params, len(names))
	for _, name := range names {
		values := rangeValues(space[name])
		params[name] = values[rng.Intn(len(values))]
	}
	return params
}

// proposeCandidate 生成候选并用优/劣样本的核密度比挑选最有希望的一个。
func proposeCandidate(rng *rand.Rand, space strategy.Space, names []string, history []Trial, cfg BayesianConfig) strategy.Params {
	good, bad := splitHistory(history, cfg.Gamma)
	if len(good) == 0 {
		return sampleRandom(rng, space, names)
	}

	best := sampleRandom(rng, space, names)
	bestScore := math.Inf(-1)
	for c := 0; c < cfg.Candidates; c++ {
		cand := mutateAround(rng, space, names, good[rng.Intn(len(good))])
		score := kernelDensity(cand, good, space, names) /
			(kernelDensity(cand, bad, space, names) + 1e-9)
		if score > bestScore {
			bestScore = score
			best = cand
		}
	}
	return best
}

// splitHistory 按目标值把历史 trial 分为优质组与其余组；被拒绝的 trial 全部归入劣组。
func splitHistory(history []Trial, gamma float64) (good, bad []strategy.Params) {
	finite := make([]Trial, 0, len(history))
	for _, t := range history {
		if t.Rejected() {
			bad = append(bad, t.Params)
			continue
		}
		finite = append(finite, t)
	}
	if len(finite) == 0 {
		return nil, bad
	}
	sort.SliceStable(finite, func(i, j int) bool { return finite[i].Value > finite[j].Value })
	nGood := int(math.Ceil(gamma * float64(len(finite))))
	if nGood < 1 {
		nGood = 1
	}
	for i, t := range finite {
		if i < nGood {
			good = append(good, t.Params)
		} else {
			bad = append(bad, t.Params)
		}
	}
	return good, bad
}

// mutateAround 以一个优质样本为中心做网格上的局部扰动。
func mutateAround(rng *rand.Rand, space strategy.Space, names []string, center strategy.Params) strategy.Params {
	params := make(strategy.Params, len(names))
	for _, name := range names {
		r := space[name]
		values := rangeValues(r)
		if rng.Float64() < 0.2 {
			params[name] = values[rng.Intn(len(values))]
			continue
		}
		if r.Type == strategy.TypeCategorical {
			params[name] = center[name]
			continue
		}
		idx := nearestIndex(values, center.Float(name, r.Min))
		// 高斯步长扰动，幅度约为网格的十分之一。
		shift := int(math.Round(rng.NormFloat64() * math.Max(1, float64(len(values))/10)))
		idx += shift
		if idx < 0 {
			idx = 0
		}
		if idx >= len(values) {
			idx = len(values) - 1
		}
		params[name] = values[idx]
	}
	return params
}

func nearestIndex(values []any, target float64) int {
	bestIdx, bestDist := 0, math.Inf(1)
	for i, v := range values {
		f := toFloat(v)
		if d := math.Abs(f - target); d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	return bestIdx
}

// kernelDensity 计算候选点相对样本集合的平均高斯核密度（按参数范围归一化）。
func kernelDensity(cand strategy.Params, set []strategy.Params, space strategy.Space, names []string) float64 {
	if len(set) == 0 {
		return 0
	}
	const bandwidth = 0.2
	total := 0.0
	for _, member := range set {
		d2 := 0.0
		for _, name := range names {
			r := space[name]
			if r.Type == strategy.TypeCategorical {
				if cand.Str(name, "") != member.Str(name, "") {
					d2 += 1
				}
				continue
			}
			width := r.Max - r.Min
			if width <= 0 {
				width = 1
			}
			diff := (cand.Float(name, 0) - member.Float(name, 0)) / width
			d2 += diff * diff
		}
		total += math.Exp(-0.5 * d2 / (bandwidth * bandwidth))
	}
	return total / float64(len(set))
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case float64:
		return x
	default:
		return 0
	}
}

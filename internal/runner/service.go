package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"backlab/internal/backtest"
	"backlab/internal/logger"
	"backlab/internal/market"
	"backlab/internal/optimize"
	"backlab/internal/report"
	"backlab/internal/store/runstore"
	"backlab/internal/strategy"

	"github.com/google/uuid"
)

// RunRequest 描述一次优化任务的提交。
type RunRequest struct {
	Preset    string          `json:"preset,omitempty"`
	Strategy  string          `json:"strategy"`
	Symbol    string          `json:"symbol" binding:"required"`
	Timeframe string          `json:"timeframe" binding:"required"`
	StartTS   int64           `json:"start_ts"`
	EndTS     int64           `json:"end_ts"`
	Space     json.RawMessage `json:"space,omitempty"`
	Search    optimize.Config `json:"search"`
}

// ServiceConfig 组装优化服务的依赖。
type ServiceConfig struct {
	Registry      *strategy.Registry
	Market        *market.FetchService
	Runs          *runstore.Store
	ReportDir     string
	ReportPNG     bool
	MaxConcurrent int
	Defaults      optimize.Config
}

// Service 协调数据读取、参数搜索、结果持久化与报告渲染。
type Service struct {
	registry  *strategy.Registry
	market    *market.FetchService
	runs      *runstore.Store
	reportDir string
	reportPNG bool
	defaults  optimize.Config
	presets   map[string]strategy.Preset

	sem     chan struct{}
	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Registry == nil || cfg.Market == nil || cfg.Runs == nil {
		return nil, errors.New("optimize service: registry/market/runs are required")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Service{
		registry:  cfg.Registry,
		market:    cfg.Market,
		runs:      cfg.Runs,
		reportDir: cfg.ReportDir,
		reportPNG: cfg.ReportPNG,
		defaults:  cfg.Defaults,
		sem:       make(chan struct{}, maxConcurrent),
		baseCtx:   context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于后台任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// SetPresets 注入命名预设（YAML 加载），提交时可按名引用。
func (s *Service) SetPresets(presets map[string]strategy.Preset) {
	s.presets = presets
}

// StartRun 校验请求并异步执行搜索，立即返回任务记录。
func (s *Service) StartRun(req RunRequest) (runstore.Run, error) {
	var presetSpace strategy.Space
	if req.Preset != "" {
		preset, ok := s.presets[req.Preset]
		if !ok {
			return runstore.Run{}, fmt.Errorf("unknown preset %q", req.Preset)
		}
		if req.Strategy == "" {
			req.Strategy = preset.Strategy
		}
		presetSpace = preset.Space
	}
	if req.Strategy == "" {
		return runstore.Run{}, errors.New("strategy is required")
	}
	strat, err := s.registry.Get(req.Strategy)
	if err != nil {
		return runstore.Run{}, err
	}
	if _, err := market.ParseTimeframe(req.Timeframe); err != nil {
		return runstore.Run{}, err
	}
	space := strat.Space()
	if len(presetSpace) > 0 {
		if space, err = strategy.MergeSpace(space, presetSpace); err != nil {
			return runstore.Run{}, err
		}
	}
	if override, err := strategy.ParseSpaceOverride(req.Space); err != nil {
		return runstore.Run{}, err
	} else if override != nil {
		if space, err = strategy.MergeSpace(space, override); err != nil {
			return runstore.Run{}, err
		}
	}

	req.Search = mergeSearchDefaults(req.Search, s.defaults)

	configBytes, err := json.Marshal(req)
	if err != nil {
		return runstore.Run{}, err
	}
	run := runstore.Run{
		ID:        uuid.NewString(),
		Strategy:  strat.Name(),
		Symbol:    strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Timeframe: strings.ToLower(strings.TrimSpace(req.Timeframe)),
		Mode:      req.Search.Mode,
		Status:    runstore.RunStatusPending,
		Config:    configBytes,
		CreatedAt: time.Now(),
	}
	if err := s.runs.CreateRun(s.baseCtx, run); err != nil {
		return runstore.Run{}, err
	}
	logger.Infof("[runner] run %s submitted: %s %s %s mode=%s", run.ID, run.Strategy, run.Symbol, run.Timeframe, req.Search.Mode)

	go s.execute(run.ID, req, strat, space)
	return run, nil
}

func (s *Service) execute(runID string, req RunRequest, strat strategy.Strategy, space strategy.Space) {
	select {
	case s.sem <- struct{}{}:
	case <-s.baseCtx.Done():
		_ = s.runs.FailRun(context.Background(), runID, "service shutting down")
		return
	}
	defer func() { <-s.sem }()

	ctx := s.baseCtx
	if err := s.runs.MarkRunning(ctx, runID); err != nil {
		logger.Errorf("[runner] run %s mark running failed: %v", runID, err)
		return
	}

	candles, err := s.loadCandles(ctx, req)
	if err != nil {
		s.fail(runID, err)
		return
	}
	result, artifact, err := optimize.Run(ctx, strat, space, candles, req.Search)
	if err != nil {
		s.fail(runID, err)
		return
	}
	if err := s.runs.CompleteRun(ctx, runID, result, artifact); err != nil {
		logger.Errorf("[runner] run %s persist failed: %v", runID, err)
		return
	}
	logger.Infof("[runner] run %s done: best=%.6f top=%d trades=%d",
		runID, result.BestValue, len(result.TopTrials), artifact.PerformanceMetrics.TotalTrades)

	// 报告失败只影响附件，不回滚已完成的搜索结果。
	if s.reportDir != "" {
		input := report.Input{
			Symbol:    req.Symbol,
			Timeframe: req.Timeframe,
			Strategy:  strat.Name(),
			Result:    result,
			Artifact:  artifact,
		}
		if path, err := report.WriteHTML(input, s.reportDir, runID); err != nil {
			logger.Warnf("[runner] run %s report render failed: %v", runID, err)
		} else {
			logger.Infof("[runner] run %s report written: %s", runID, path)
			if s.reportPNG {
				if pngPath, err := report.WritePNG(ctx, input, s.reportDir, runID); err != nil {
					logger.Warnf("[runner] run %s png export failed: %v", runID, err)
				} else {
					logger.Infof("[runner] run %s png written: %s", runID, pngPath)
				}
			}
		}
	}
}

func (s *Service) fail(runID string, cause error) {
	logger.Errorf("[runner] run %s failed: %v", runID, cause)
	if err := s.runs.FailRun(s.baseCtx, runID, cause.Error()); err != nil {
		logger.Errorf("[runner] run %s fail-mark failed: %v", runID, err)
	}
}

// mergeSearchDefaults 用服务级默认值补齐请求中省略的搜索字段。
func mergeSearchDefaults(req, def optimize.Config) optimize.Config {
	if req.Mode == "" {
		req.Mode = def.Mode
	}
	if req.TrialBudget <= 0 {
		req.TrialBudget = def.TrialBudget
	}
	if req.Seed == 0 {
		req.Seed = def.Seed
	}
	if req.StartupTrials <= 0 {
		req.StartupTrials = def.StartupTrials
	}
	if req.Candidates <= 0 {
		req.Candidates = def.Candidates
	}
	if req.MinTrades <= 0 {
		req.MinTrades = def.MinTrades
	}
	if req.TopK <= 0 {
		req.TopK = def.TopK
	}
	if req.RiskFreeRate == 0 {
		req.RiskFreeRate = def.RiskFreeRate
	}
	if req.Parallelism <= 0 {
		req.Parallelism = def.Parallelism
	}
	return req
}

func (s *Service) loadCandles(ctx context.Context, req RunRequest) ([]market.Candle, error) {
	if req.StartTS > 0 && req.EndTS > 0 {
		return s.market.RangeCandles(ctx, req.Symbol, req.Timeframe, req.StartTS, req.EndTS)
	}
	return s.market.AllCandles(ctx, req.Symbol, req.Timeframe)
}

// GetRun 返回任务记录。
func (s *Service) GetRun(ctx context.Context, id string) (runstore.Run, bool, error) {
	return s.runs.GetRun(ctx, id)
}

// ListRuns 返回最近任务。
func (s *Service) ListRuns(ctx context.Context, limit, offset int) ([]runstore.Run, error) {
	return s.runs.ListRuns(ctx, limit, offset)
}

// RenderRunReport 从已持久化的结果即时重建报告 HTML。
func (s *Service) RenderRunReport(ctx context.Context, id string) ([]byte, error) {
	run, ok, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if run.Status != runstore.RunStatusDone || len(run.Result) == 0 || len(run.Artifact) == 0 {
		return nil, fmt.Errorf("run %s has no completed result", id)
	}
	var result optimize.SearchResult
	if err := json.Unmarshal(run.Result, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	var artifact backtest.Artifact
	if err := json.Unmarshal(run.Artifact, &artifact); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return report.RenderHTML(report.Input{
		Symbol:    run.Symbol,
		Timeframe: run.Timeframe,
		Strategy:  run.Strategy,
		Result:    result,
		Artifact:  artifact,
	})
}

// Strategies 列出可用策略及其参数空间。
func (s *Service) Strategies() []StrategyInfo {
	names := s.registry.Names()
	out := make([]StrategyInfo, 0, len(names))
	for _, name := range names {
		strat, err := s.registry.Get(name)
		if err != nil {
			continue
		}
		out = append(out, StrategyInfo{Name: name, Space: strat.Space()})
	}
	return out
}

// StrategyInfo 是策略的对外描述。
type StrategyInfo struct {
	Name  string         `json:"name"`
	Space strategy.Space `json:"space"`
}

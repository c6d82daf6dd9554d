package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"backlab/internal/logger"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusPartial = "partial"
	JobStatusFailed  = "failed"
)

// FetchParams 描述一次数据补齐请求。
type FetchParams struct {
	Exchange  string `json:"exchange,omitempty"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
}

// FetchJob 表示一个后台拉取任务的快照。
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    FetchParams `json:"params"`
	Total     int64       `json:"total"`
	Completed int64       `json:"completed"`
	Message   string      `json:"message,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	Missing   []Gap       `json:"missing,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (j *FetchJob) copy() FetchJob {
	out := *j
	out.Warnings = append([]string(nil), j.Warnings...)
	out.Missing = append([]Gap(nil), j.Missing...)
	return out
}

// FetchServiceConfig 配置 FetchService。
type FetchServiceConfig struct {
	Store           *Store
	Sources         map[string]CandleSource
	DefaultExchange string
	RateLimitPerMin int
	MaxBatch        int
	MaxConcurrent   int
}

// FetchService 负责管理任务、协调拉取与写库。
type FetchService struct {
	store           *Store
	sources         map[string]CandleSource
	defaultExchange string
	maxBatch        int

	limiter *rate.Limiter
	sem     chan struct{}

	mu   sync.RWMutex
	jobs map[string]*FetchJob

	baseCtx context.Context
}

func NewFetchService(cfg FetchServiceConfig) (*FetchService, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("fetch service: store is required")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("fetch service: at least one source is required")
	}
	ratePerSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		ratePerSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	svc := &FetchService{
		store:           cfg.Store,
		sources:         make(map[string]CandleSource),
		defaultExchange: strings.ToLower(cfg.DefaultExchange),
		maxBatch:        maxBatch,
		limiter:         rate.NewLimiter(ratePerSec, maxBatch),
		sem:             make(chan struct{}, maxConcurrent),
		jobs:            make(map[string]*FetchJob),
		baseCtx:         context.Background(),
	}
	for k, v := range cfg.Sources {
		svc.sources[strings.ToLower(k)] = v
	}
	if svc.defaultExchange == "" {
		for k := range svc.sources {
			svc.defaultExchange = k
			break
		}
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *FetchService) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *FetchService) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// SubmitFetch 提交拉取任务；若区间已完整只做一致性检查。
func (s *FetchService) SubmitFetch(params FetchParams) (FetchJob, error) {
	if params.Symbol == "" {
		return FetchJob{}, fmt.Errorf("fetch service: symbol is required")
	}
	tf, err := ParseTimeframe(params.Timeframe)
	if err != nil {
		return FetchJob{}, err
	}
	exchange := params.Exchange
	if exchange == "" {
		exchange = s.defaultExchange
	}
	src := s.sources[strings.ToLower(exchange)]
	if src == nil {
		return FetchJob{}, fmt.Errorf("fetch service: unknown source %q", exchange)
	}
	start, end := tf.AlignRange(params.Start, params.End)
	if start == end {
		return FetchJob{}, fmt.Errorf("fetch service: start and end must span an interval")
	}
	params.Start = start
	params.End = end

	report, err := s.store.CheckIntegrity(s.ctx(), params.Symbol, params.Timeframe, tf, start, end)
	if err != nil {
		return FetchJob{}, err
	}
	completed := report.Present
	if completed > report.Expected {
		completed = report.Expected
	}
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		Total:     report.Expected,
		Completed: completed,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
		Missing:   append([]Gap{}, report.Gaps...),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infof("[market] job %s submitted: %s %s [%d,%d] expected=%d gaps=%d",
		job.ID, params.Symbol, params.Timeframe, params.Start, params.End, report.Expected, len(report.Gaps))

	if report.Expected == 0 || report.Complete() {
		s.setJobStatus(job.ID, JobStatusDone, "dataset already complete", report.Gaps)
		return job.copy(), nil
	}

	go s.runJob(job.ID, tf, report, src)
	return job.copy(), nil
}

func (s *FetchService) runJob(jobID string, tf Timeframe, report IntegrityReport, source CandleSource) {
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx().Done():
		s.setJobStatus(jobID, JobStatusFailed, "service shutting down", nil)
		return
	}
	defer func() { <-s.sem }()

	job := s.getJob(jobID)
	if job == nil {
		return
	}
	logger.Infof("[market] job %s started, gaps=%d", jobID, len(report.Gaps))
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = JobStatusRunning
		j.Message = ""
	})

	params := job.Params
	ctx := s.ctx()
	step := tf.durationMillis()
	var warnings []string

	for _, gap := range report.Gaps {
		cursor := gap.From
		for cursor <= gap.To {
			if err := ctx.Err(); err != nil {
				s.setJobStatus(jobID, JobStatusFailed, err.Error(), nil)
				return
			}
			if err := s.limiter.Wait(ctx); err != nil {
				s.setJobStatus(jobID, JobStatusFailed, err.Error(), nil)
				return
			}
			remaining := int((gap.To-cursor)/step) + 1
			if remaining < 1 {
				remaining = 1
			}
			if remaining > s.maxBatch {
				remaining = s.maxBatch
			}
			data, err := source.Fetch(ctx, FetchRequest{
				Symbol:   params.Symbol,
				Interval: tf.SourceInterval,
				Start:    cursor,
				End:      gap.To,
				Limit:    remaining,
			})
			if err != nil {
				s.setJobStatus(jobID, JobStatusFailed, fmt.Sprintf("%s fetch failed: %v", source.Name(), err), nil)
				return
			}
			if len(data) == 0 {
				warnings = append(warnings, fmt.Sprintf("empty response for [%d,%d]", cursor, gap.To))
				break
			}
			inserted, err := s.store.InsertCandles(ctx, params.Symbol, params.Timeframe, data)
			if err != nil {
				s.setJobStatus(jobID, JobStatusFailed, fmt.Sprintf("store write failed: %v", err), nil)
				return
			}
			cursor = data[len(data)-1].OpenTime + step
			s.updateJob(jobID, func(j *FetchJob) {
				j.Completed += int64(inserted)
				j.UpdatedAt = time.Now()
				if warnings != nil {
					j.Warnings = warnings
				}
			})
			if inserted == 0 {
				break
			}
		}
	}

	finalReport, err := s.store.CheckIntegrity(s.ctx(), params.Symbol, params.Timeframe, tf, params.Start, params.End)
	status := JobStatusDone
	if err != nil {
		status = JobStatusFailed
		warnings = append(warnings, "integrity check failed: "+err.Error())
	}
	message := "fetch complete"
	if !finalReport.Complete() && status != JobStatusFailed {
		status = JobStatusPartial
		message = "fetch finished with remaining gaps"
	}
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap{}, finalReport.Gaps...)
		j.UpdatedAt = time.Now()
		if len(warnings) > 0 {
			j.Warnings = append([]string{}, warnings...)
		}
	})
	logger.Infof("[market] job %s finished, status=%s gaps=%d", jobID, status, len(finalReport.Gaps))
}

func (s *FetchService) setJobStatus(jobID, status, message string, gaps []Gap) {
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap{}, gaps...)
		j.UpdatedAt = time.Now()
	})
}

func (s *FetchService) getJob(id string) *FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

func (s *FetchService) updateJob(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

// JobSnapshot 返回任务副本。
func (s *FetchService) JobSnapshot(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.copy(), true
}

// JobsSnapshot 返回所有任务的拷贝列表。
func (s *FetchService) JobsSnapshot() []FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	return out
}

// ManifestInfo 读取本地 manifest。
func (s *FetchService) ManifestInfo(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	if symbol == "" || timeframe == "" {
		return Manifest{}, errors.New("fetch service: symbol/timeframe are required")
	}
	return s.store.Manifest(ctx, symbol, timeframe)
}

// RangeCandles 读取指定区间 K 线。
func (s *FetchService) RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]Candle, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("fetch service: symbol/timeframe are required")
	}
	return s.store.RangeCandles(ctx, symbol, timeframe, start, end)
}

// AllCandles 返回完整数据集。
func (s *FetchService) AllCandles(ctx context.Context, symbol, timeframe string) ([]Candle, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("fetch service: symbol/timeframe are required")
	}
	return s.store.ListAllCandles(ctx, symbol, timeframe)
}

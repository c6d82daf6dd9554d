package app

import (
	"context"
	"fmt"
	"time"

	"backlab/internal/config"
	"backlab/internal/logger"
	"backlab/internal/market"
	"backlab/internal/runner"
	"backlab/internal/store/runstore"
	"backlab/internal/strategy"
	transporthttp "backlab/internal/transport/http"
)

// App 持有装配完成的组件并管理生命周期。
type App struct {
	cfg         *config.Config
	candleStore *market.Store
	fetch       *market.FetchService
	runs        *runstore.Store
	registry    *strategy.Registry
	service     *runner.Service
	server      *transporthttp.Server
}

// Service 暴露优化服务（一次性运行模式使用）。
func (a *App) Service() *runner.Service { return a.service }

// Fetch 暴露数据服务。
func (a *App) Fetch() *market.FetchService { return a.fetch }

// Run 根据配置以服务模式或一次性模式运行，退出时关闭底层存储。
func (a *App) Run(ctx context.Context) error {
	a.fetch.SetContext(ctx)
	a.service.SetContext(ctx)

	if !a.cfg.Server.Enabled {
		return a.runOnce(ctx)
	}
	logger.Infof("[app] serving on %s (env=%s)", a.cfg.Server.Addr, a.cfg.App.Env)
	err := a.server.Start(ctx)
	a.Close()
	return err
}

// runOnce 按 run 配置执行单次搜索并等待完成。
func (a *App) runOnce(ctx context.Context) error {
	defer a.Close()

	run, err := a.service.StartRun(runner.RunRequest{
		Preset:    a.cfg.Run.Preset,
		Strategy:  a.cfg.Run.Strategy,
		Symbol:    a.cfg.Run.Symbol,
		Timeframe: a.cfg.Run.Timeframe,
		StartTS:   a.cfg.Run.StartTS,
		EndTS:     a.cfg.Run.EndTS,
		Search:    a.cfg.Search.Defaults,
	})
	if err != nil {
		return err
	}
	logger.Infof("[app] one-shot run %s started (%s %s %s)", run.ID, run.Strategy, run.Symbol, run.Timeframe)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		current, ok, err := a.service.GetRun(ctx, run.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("app: run %s disappeared", run.ID)
		}
		switch current.Status {
		case runstore.RunStatusDone:
			logger.Infof("[app] run %s finished", run.ID)
			return nil
		case runstore.RunStatusFailed:
			return fmt.Errorf("app: run %s failed: %s", run.ID, current.Error)
		}
	}
}

// Close 释放存储资源。
func (a *App) Close() {
	if a.runs != nil {
		if err := a.runs.Close(); err != nil {
			logger.Warnf("[app] run store close: %v", err)
		}
	}
	if a.candleStore != nil {
		if err := a.candleStore.Close(); err != nil {
			logger.Warnf("[app] candle store close: %v", err)
		}
	}
}

package app

import (
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

// Build 按配置显式装配全部组件。
func Build(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config 不能为空")
	}

	candleStore, err := market.NewStore(cfg.Data.Root)
	if err != nil {
		return nil, fmt.Errorf("app: candle store: %w", err)
	}
	source := market.NewBinanceSource(market.BinanceConfig{
		BaseURL:     cfg.Data.BinanceREST,
		HTTPTimeout: 15 * time.Second,
	})
	fetch, err := market.NewFetchService(market.FetchServiceConfig{
		Store:           candleStore,
		Sources:         map[string]market.CandleSource{source.Name(): source},
		DefaultExchange: cfg.Data.Exchange,
		RateLimitPerMin: cfg.Data.RateLimitPerMin,
		MaxBatch:        cfg.Data.MaxBatch,
		MaxConcurrent:   cfg.Data.MaxConcurrent,
	})
	if err != nil {
		_ = candleStore.Close()
		return nil, fmt.Errorf("app: fetch service: %w", err)
	}

	runs, err := runstore.NewStore(cfg.Search.RunsDB)
	if err != nil {
		_ = candleStore.Close()
		return nil, fmt.Errorf("app: run store: %w", err)
	}

	registry := strategy.NewRegistry()
	svc, err := runner.NewService(runner.ServiceConfig{
		Registry:      registry,
		Market:        fetch,
		Runs:          runs,
		ReportDir:     cfg.Report.Dir,
		ReportPNG:     cfg.Report.PNG,
		MaxConcurrent: cfg.Search.MaxConcurrent,
		Defaults:      cfg.Search.Defaults,
	})
	if err != nil {
		_ = runs.Close()
		_ = candleStore.Close()
		return nil, fmt.Errorf("app: optimize service: %w", err)
	}
	if path := cfg.Search.PresetsPath; path != "" {
		presets, err := strategy.LoadPresets(path)
		if err != nil {
			logger.Warnf("[app] presets load failed (%s): %v", path, err)
		} else {
			svc.SetPresets(presets)
			logger.Infof("[app] loaded %d strategy presets from %s", len(presets), path)
		}
	}

	server, err := transporthttp.NewServer(transporthttp.Config{
		Addr:    cfg.Server.Addr,
		Fetch:   fetch,
		Service: svc,
	})
	if err != nil {
		_ = runs.Close()
		_ = candleStore.Close()
		return nil, fmt.Errorf("app: http server: %w", err)
	}

	return &App{
		cfg:         cfg,
		candleStore: candleStore,
		fetch:       fetch,
		runs:        runs,
		registry:    registry,
		service:     svc,
		server:      server,
	}, nil
}

package config

import (
	"fmt"
	"strings"

	"backlab/internal/optimize"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config 是进程级配置。
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Data   DataConfig   `mapstructure:"data"`
	Server ServerConfig `mapstructure:"server"`
	Search SearchConfig `mapstructure:"search"`
	Report ReportConfig `mapstructure:"report"`
	Run    RunConfig    `mapstructure:"run"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
}

type DataConfig struct {
	Root            string `mapstructure:"root"`
	Exchange        string `mapstructure:"exchange"`
	BinanceREST     string `mapstructure:"binance_rest"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
	MaxBatch        int    `mapstructure:"max_batch"`
	MaxConcurrent   int    `mapstructure:"max_concurrent"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// RunConfig 描述一次性运行模式（server.enabled=false）要执行的搜索。
type RunConfig struct {
	Preset    string `mapstructure:"preset"`
	Strategy  string `mapstructure:"strategy"`
	Symbol    string `mapstructure:"symbol"`
	Timeframe string `mapstructure:"timeframe"`
	StartTS   int64  `mapstructure:"start_ts"`
	EndTS     int64  `mapstructure:"end_ts"`
}

type SearchConfig struct {
	RunsDB        string          `mapstructure:"runs_db"`
	MaxConcurrent int             `mapstructure:"max_concurrent"`
	Defaults      optimize.Config `mapstructure:"defaults"`
	PresetsPath   string          `mapstructure:"presets_path"`
}

type ReportConfig struct {
	Dir string `mapstructure:"dir"`
	PNG bool   `mapstructure:"png"`
}

// Load 读取 YAML 配置并套用默认值。
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	applyDefaults(v)
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_path", "data/logs/backlab.log")
	v.SetDefault("data.root", "data/candles")
	v.SetDefault("data.exchange", "binance")
	v.SetDefault("data.binance_rest", "https://fapi.binance.com")
	v.SetDefault("data.rate_limit_per_min", 480)
	v.SetDefault("data.max_batch", 1000)
	v.SetDefault("data.max_concurrent", 2)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":9980")
	v.SetDefault("search.runs_db", "data/db/runs.db")
	v.SetDefault("search.max_concurrent", 2)
	v.SetDefault("search.defaults.mode", optimize.ModeBayesian)
	v.SetDefault("search.defaults.trial_budget", 100)
	v.SetDefault("search.defaults.seed", 42)
	v.SetDefault("search.defaults.startup_trials", 10)
	v.SetDefault("search.defaults.candidates", 20)
	v.SetDefault("search.defaults.min_trades", 10)
	v.SetDefault("search.defaults.top_k", 5)
	v.SetDefault("search.defaults.risk_free_rate", 0.02)
	v.SetDefault("report.dir", "data/reports")
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Data.Root) == "" {
		return fmt.Errorf("config: data.root 不能为空")
	}
	if strings.TrimSpace(cfg.Search.RunsDB) == "" {
		return fmt.Errorf("config: search.runs_db 不能为空")
	}
	switch cfg.Search.Defaults.Mode {
	case "", optimize.ModeGrid, optimize.ModeBayesian:
	default:
		return fmt.Errorf("config: 未知搜索模式 %q", cfg.Search.Defaults.Mode)
	}
	if !cfg.Server.Enabled {
		if cfg.Run.Strategy == "" && cfg.Run.Preset == "" {
			return fmt.Errorf("config: 一次性运行模式需要 run.strategy 或 run.preset")
		}
		if cfg.Run.Symbol == "" || cfg.Run.Timeframe == "" {
			return fmt.Errorf("config: 一次性运行模式需要 run.symbol 与 run.timeframe")
		}
	}
	return nil
}

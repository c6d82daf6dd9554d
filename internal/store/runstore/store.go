package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"backlab/internal/backtest"
	"backlab/internal/optimize"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Run 是一次优化任务的持久化记录，Result/Artifact 以 JSON 形式保存。
type Run struct {
	ID         string          `json:"id"`
	Strategy   string          `json:"strategy"`
	Symbol     string          `json:"symbol"`
	Timeframe  string          `json:"timeframe"`
	Mode       string          `json:"mode"`
	Status     RunStatus       `json:"status"`
	Config     json.RawMessage `json:"config,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Artifact   json.RawMessage `json:"artifact,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

// Store 基于 Gorm + SQLite 保存优化任务。
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("run store: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：允许少量并行读，控制锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun 插入一条 pending 状态的任务记录。
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store 未初始化")
	}
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run store: id 必填")
	}
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.Status == "" {
		run.Status = RunStatusPending
	}
	model := runModel{
		ID:          run.ID,
		Strategy:    run.Strategy,
		Symbol:      strings.ToUpper(strings.TrimSpace(run.Symbol)),
		Timeframe:   strings.ToLower(strings.TrimSpace(run.Timeframe)),
		Mode:        run.Mode,
		Status:      run.Status,
		ConfigJSON:  jsonOrEmpty(run.Config),
		CreatedAtMs: run.CreatedAt.UnixMilli(),
		UpdatedAtMs: now.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// MarkRunning 将任务置为 running。
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	return s.update(ctx, id, map[string]any{
		"status":     RunStatusRunning,
		"updated_at": time.Now().UnixMilli(),
	})
}

// CompleteRun 写入搜索结果与回测产物并置为 done。
func (s *Store) CompleteRun(ctx context.Context, id string, result optimize.SearchResult, artifact backtest.Artifact) error {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("run store: marshal result: %w", err)
	}
	artifactBytes, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("run store: marshal artifact: %w", err)
	}
	now := time.Now().UnixMilli()
	return s.update(ctx, id, map[string]any{
		"status":        RunStatusDone,
		"result_json":   datatypes.JSON(resultBytes),
		"artifact_json": datatypes.JSON(artifactBytes),
		"error":         "",
		"updated_at":    now,
		"finished_at":   now,
	})
}

// FailRun 记录失败原因并置为 failed。
func (s *Store) FailRun(ctx context.Context, id, message string) error {
	now := time.Now().UnixMilli()
	return s.update(ctx, id, map[string]any{
		"status":      RunStatusFailed,
		"error":       message,
		"updated_at":  now,
		"finished_at": now,
	})
}

func (s *Store) update(ctx context.Context, id string, payload map[string]any) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store 未初始化")
	}
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(payload)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetRun 按 ID 读取任务。
func (s *Store) GetRun(ctx context.Context, id string) (Run, bool, error) {
	if s == nil || s.db == nil {
		return Run{}, false, fmt.Errorf("run store 未初始化")
	}
	var model runModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	return modelToRun(model), true, nil
}

// ListRuns 按创建时间倒序分页。
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store 未初始化")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var models []runModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		out = append(out, modelToRun(m))
	}
	return out, nil
}

func modelToRun(m runModel) Run {
	run := Run{
		ID:        m.ID,
		Strategy:  m.Strategy,
		Symbol:    m.Symbol,
		Timeframe: m.Timeframe,
		Mode:      m.Mode,
		Status:    m.Status,
		Error:     m.Error,
		CreatedAt: time.UnixMilli(m.CreatedAtMs),
		UpdatedAt: time.UnixMilli(m.UpdatedAtMs),
	}
	if len(m.ConfigJSON) > 0 {
		run.Config = json.RawMessage(m.ConfigJSON)
	}
	if len(m.ResultJSON) > 0 {
		run.Result = json.RawMessage(m.ResultJSON)
	}
	if len(m.ArtifactJSON) > 0 {
		run.Artifact = json.RawMessage(m.ArtifactJSON)
	}
	if m.FinishedAtMs > 0 {
		run.FinishedAt = time.UnixMilli(m.FinishedAtMs)
	}
	return run
}

func jsonOrEmpty(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(raw)
}

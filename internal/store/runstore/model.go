package runstore

import "gorm.io/datatypes"

// RunStatus 表示优化任务的生命周期状态。
type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

type runModel struct {
	ID           string         `gorm:"column:id;primaryKey"`
	Strategy     string         `gorm:"column:strategy;index"`
	Symbol       string         `gorm:"column:symbol;index"`
	Timeframe    string         `gorm:"column:timeframe"`
	Mode         string         `gorm:"column:mode"`
	Status       RunStatus      `gorm:"column:status;index"`
	ConfigJSON   datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	ResultJSON   datatypes.JSON `gorm:"column:result_json;type:TEXT"`
	ArtifactJSON datatypes.JSON `gorm:"column:artifact_json;type:TEXT"`
	Error        string         `gorm:"column:error"`
	CreatedAtMs  int64          `gorm:"column:created_at;index"`
	UpdatedAtMs  int64          `gorm:"column:updated_at"`
	FinishedAtMs int64          `gorm:"column:finished_at"`
}

func (runModel) TableName() string { return "optimize_runs" }

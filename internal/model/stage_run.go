package model

import "time"

// StageRun 阶段执行记录，每次尝试一行，用于审计与排错
type StageRun struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	SessionID  string    `json:"session_id" gorm:"size:36;index;not null"`
	Stage      int       `json:"stage" gorm:"not null"`
	StageKey   string    `json:"stage_key" gorm:"size:50"`
	RawText    string    `json:"raw_text" gorm:"type:text"`
	Strategy   string    `json:"strategy" gorm:"size:20"` // 生效的 JSON 提取策略
	Streamed   bool      `json:"streamed"`
	Succeeded  bool      `json:"succeeded"`
	ErrorMsg   string    `json:"error_msg" gorm:"size:2000"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func (StageRun) TableName() string {
	return "stage_runs"
}

package model

import (
	"time"

	"github.com/dgeneration/radiance-ai/backend/internal/domain"
	"gorm.io/datatypes"
)

// 会话状态
const (
	SessionStatusInProgress = "in_progress"
	SessionStatusCompleted  = "completed"
	SessionStatusError      = "error"
)

// Responses 按阶段键保存的响应，键不存在表示该阶段尚未完成
type Responses map[string]domain.RoleResponse

// DiagnosisSession 一次诊断会话（病例档案）
type DiagnosisSession struct {
	ID           string                               `json:"id" gorm:"primaryKey;size:36"`
	UserID       string                               `json:"user_id" gorm:"size:64;index;not null"`
	UserInput    datatypes.JSONType[domain.UserInput] `json:"user_input"`
	CurrentStep  int                                  `json:"current_step" gorm:"default:0"`
	Status       string                               `json:"status" gorm:"size:20;default:in_progress"` // in_progress, completed, error
	ErrorMessage string                               `json:"error_message" gorm:"size:2000"`
	Responses    datatypes.JSONType[Responses]        `json:"responses"`
	CreatedAt    time.Time                            `json:"created_at"`
	UpdatedAt    time.Time                            `json:"updated_at"`
}

func (DiagnosisSession) TableName() string {
	return "diagnosis_sessions"
}

// Input 返回患者信息
func (s *DiagnosisSession) Input() domain.UserInput {
	return s.UserInput.Data()
}

// Response 返回某阶段的响应，未完成时返回 false
func (s *DiagnosisSession) Response(stage domain.Stage) (domain.RoleResponse, bool) {
	r, ok := s.Responses.Data()[stage.Key()]
	return r, ok
}

// IsCompleted 会话是否已全部完成
func (s *DiagnosisSession) IsCompleted() bool {
	return s.Status == SessionStatusCompleted
}

// MigrateResponses 把存储的各阶段响应迁移到当前结构版本
func (s *DiagnosisSession) MigrateResponses() {
	stored := s.Responses.Data()
	if len(stored) == 0 {
		return
	}
	migrated := make(Responses, len(stored))
	for key, resp := range stored {
		stage, err := domain.ParseStage(key)
		if err != nil {
			migrated[key] = resp
			continue
		}
		migrated[key] = domain.RoleResponse(domain.Migrate(stage, resp))
	}
	s.Responses = datatypes.NewJSONType(migrated)
}

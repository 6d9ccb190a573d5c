package repository

import (
	"errors"

	"github.com/dgeneration/radiance-ai/backend/internal/model"
)

// ErrNotFound 记录不存在错误
var ErrNotFound = errors.New("record not found")

// ErrStaleStep 条件更新未命中：会话的 current_step 已被其他调用推进
var ErrStaleStep = errors.New("session step changed concurrently")

type SessionRepository interface {
	Create(session *model.DiagnosisSession) error
	Get(id string) (*model.DiagnosisSession, error)
	ListByUser(userID string, limit int) ([]model.DiagnosisSession, error)
	// CompleteStage 写入 step 阶段的响应并把 current_step 推进到 step+1，
	// 仅当数据库中的 current_step 仍等于 step 时生效，否则返回 ErrStaleStep
	CompleteStage(id string, step int, responses model.Responses, status string) error
	// MarkError 在 current_step 仍等于 step 时把会话标记为 error
	MarkError(id string, step int, message string) error
	// TransitionStatus 条件更新状态，from 不匹配时返回 ErrStaleStep
	TransitionStatus(id string, from, to string) error
	Delete(id string) error
}

type StageRunRepository interface {
	Create(run *model.StageRun) error
	ListBySession(sessionID string) ([]model.StageRun, error)
	DeleteBySession(sessionID string) error
}

type ChatRepository interface {
	Append(msg *model.ChatMessage) error
	// ListBySession 按创建时间升序返回消息
	ListBySession(sessionID string) ([]model.ChatMessage, error)
	// Recent 返回最近 limit 条消息，按创建时间升序
	Recent(sessionID string, limit int) ([]model.ChatMessage, error)
	DeleteBySession(sessionID string) error
}

package repository

import (
	"github.com/dgeneration/radiance-ai/backend/internal/model"
	"gorm.io/gorm"
)

type chatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) Append(msg *model.ChatMessage) error {
	return r.db.Create(msg).Error
}

func (r *chatRepository) ListBySession(sessionID string) ([]model.ChatMessage, error) {
	var msgs []model.ChatMessage
	err := r.db.Where("session_id = ?", sessionID).
		Order("created_at ASC").Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}

func (r *chatRepository) Recent(sessionID string, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 {
		return r.ListBySession(sessionID)
	}
	var msgs []model.ChatMessage
	err := r.db.Where("session_id = ?", sessionID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *chatRepository) DeleteBySession(sessionID string) error {
	return r.db.Where("session_id = ?", sessionID).Delete(&model.ChatMessage{}).Error
}

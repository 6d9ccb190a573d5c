package model

import "time"

const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage "Ask Radiance" 问答消息，只追加不修改
type ChatMessage struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	SessionID string    `json:"session_id" gorm:"size:36;index;not null"`
	UserID    string    `json:"user_id" gorm:"size:64;index"`
	Role      string    `json:"role" gorm:"size:20;not null"` // user, assistant
	Content   string    `json:"content" gorm:"type:text"`
	TimedOut  bool      `json:"timed_out"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

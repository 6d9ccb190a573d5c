package eventbus

import (
	"context"
	"time"
)

type SessionEventType string

const (
	EventStageStarted   SessionEventType = "stage_started"
	EventStageDelta     SessionEventType = "stage_delta"
	EventStageCompleted SessionEventType = "stage_completed"
	EventStageFailed    SessionEventType = "stage_failed"
	EventChatMessage    SessionEventType = "chat_message"
)

// SessionEvent 会话上发生的事件，按会话 ID 分发
type SessionEvent struct {
	Type        SessionEventType `json:"type"`
	SessionID   string           `json:"session_id"`
	Stage       int              `json:"stage"`
	StageKey    string           `json:"stage_key,omitempty"`
	CurrentStep int              `json:"current_step"`
	Status      string           `json:"status,omitempty"`
	Text        string           `json:"text,omitempty"`
	Role        string           `json:"role,omitempty"` // chat_message 事件的消息角色
	Error       string           `json:"error,omitempty"`
	// Origin 发布该事件的实例，本地事件为空
	Origin string    `json:"origin,omitempty"`
	At     time.Time `json:"at"`
}

type SessionEventHandler = Handler[SessionEvent]
type SessionEventBus = Bus[string, SessionEvent]

func NewSessionEventBus() *SessionEventBus {
	return NewBus[string, SessionEvent]()
}

// PublishSession 以会话 ID 为键发布事件，未设置时间时补上当前时间
func PublishSession(ctx context.Context, bus *SessionEventBus, event SessionEvent) error {
	if bus == nil {
		return nil
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	return bus.Publish(ctx, event.SessionID, event)
}

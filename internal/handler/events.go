package handler

import (
	"context"
	"time"

	"github.com/dgeneration/radiance-ai/backend/internal/eventbus"
	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

type EventHandler struct {
	sessions  *SessionHandler
	bus       *eventbus.SessionEventBus
	heartbeat time.Duration
}

func NewEventHandler(sessions *SessionHandler, bus *eventbus.SessionEventBus) *EventHandler {
	return &EventHandler{
		sessions:  sessions,
		bus:       bus,
		heartbeat: 15 * time.Second,
	}
}

// Stream 以 SSE 推送会话事件，直到客户端断开
func (h *EventHandler) Stream(c *gin.Context) {
	session, ok := h.sessions.owned(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	events := make(chan eventbus.SessionEvent, 64)
	unsubscribe := h.bus.Subscribe(session.ID, func(_ context.Context, ev eventbus.SessionEvent) error {
		select {
		case events <- ev:
		default:
			klog.Warningf("[Events] 订阅者处理过慢，丢弃事件: sessionID=%s, type=%s", ev.SessionID, ev.Type)
		}
		return nil
	})
	defer unsubscribe()

	stream := newSSEWriter(c)
	stream.send("session", gin.H{"session_id": session.ID, "current_step": session.CurrentStep, "status": session.Status})

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			stream.send(string(ev.Type), ev)
		case <-ticker.C:
			stream.send("ping", gin.H{"at": time.Now()})
		}
	}
}

package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/dgeneration/radiance-ai/backend/internal/middleware"
	"github.com/dgeneration/radiance-ai/backend/internal/service/chat"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type ChatHandler struct {
	sessions *SessionHandler
	chat     *chat.Service
}

func NewChatHandler(sessions *SessionHandler, chatService *chat.Service) *ChatHandler {
	return &ChatHandler{
		sessions: sessions,
		chat:     chatService,
	}
}

type askRequest struct {
	Question string `json:"question"`
}

func (h *ChatHandler) History(c *gin.Context) {
	session, ok := h.sessions.owned(c)
	if !ok {
		return
	}
	messages, err := h.chat.History(c.Request.Context(), session.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// Ask 提问，?stream=true 时以 SSE 推送 delta / done / error 事件
func (h *ChatHandler) Ask(c *gin.Context) {
	session, ok := h.sessions.owned(c)
	if !ok {
		return
	}
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := middleware.UserID(c)

	if c.Query("stream") != "true" {
		msg, err := h.chat.Ask(c.Request.Context(), session.ID, userID, req.Question, nil)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, msg)
		return
	}

	stream := newSSEWriter(c)
	msg, err := h.chat.Ask(c.Request.Context(), session.ID, userID, req.Question, func(partial string, done bool) {
		if !done {
			stream.send("delta", gin.H{"text": partial})
		}
	})
	if err != nil {
		stream.send("error", gin.H{"error": err.Error(), "status": statusOf(err)})
		return
	}
	stream.send("done", msg)
}

type wsFrame struct {
	Type    string `json:"type"` // delta, done, error
	Text    string `json:"text,omitempty"`
	Message any    `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WebSocket 问答：客户端每发送一个 {"question": "..."}，服务端推送若干 delta 帧与一个 done 帧
func (h *ChatHandler) WebSocket(c *gin.Context) {
	session, ok := h.sessions.owned(c)
	if !ok {
		return
	}
	userID := middleware.UserID(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		klog.Errorf("[Chat] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	send := newFrameSender(conn)

	for {
		var req askRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				klog.Warningf("[Chat] websocket read error: sessionID=%s, error=%v", session.ID, err)
			}
			return
		}

		msg, err := h.chat.Ask(ctx, session.ID, userID, req.Question, func(partial string, done bool) {
			if !done {
				send(wsFrame{Type: "delta", Text: partial})
			}
		})
		if err != nil {
			send(wsFrame{Type: "error", Error: err.Error()})
			continue
		}
		send(wsFrame{Type: "done", Message: msg})
	}
}

func newFrameSender(conn *websocket.Conn) func(wsFrame) {
	var mu sync.Mutex
	return func(f wsFrame) {
		mu.Lock()
		defer mu.Unlock()
		if err := conn.WriteJSON(f); err != nil {
			klog.V(6).Infof("[Chat] websocket write error: %v", err)
		}
	}
}

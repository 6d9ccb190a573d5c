package handler

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// sseWriter 串行写入 SSE 事件，首次写入时发送响应头
type sseWriter struct {
	mu      sync.Mutex
	c       *gin.Context
	started bool
}

func newSSEWriter(c *gin.Context) *sseWriter {
	return &sseWriter{c: c}
}

func (w *sseWriter) send(event string, data any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		h := w.c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.c.Writer.WriteHeader(http.StatusOK)
		w.started = true
	}
	w.c.SSEvent(event, data)
	w.c.Writer.Flush()
}

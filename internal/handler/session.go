package handler

import (
	"net/http"
	"strconv"

	"github.com/dgeneration/radiance-ai/backend/internal/domain"
	"github.com/dgeneration/radiance-ai/backend/internal/middleware"
	"github.com/dgeneration/radiance-ai/backend/internal/model"
	"github.com/dgeneration/radiance-ai/backend/internal/service/diagnosis"
	"github.com/gin-gonic/gin"
)

// BackgroundRunner 后台执行会话剩余阶段
type BackgroundRunner interface {
	Enqueue(sessionID string) error
}

type SessionHandler struct {
	runner     *diagnosis.Runner
	background BackgroundRunner
}

func NewSessionHandler(runner *diagnosis.Runner, background BackgroundRunner) *SessionHandler {
	return &SessionHandler{
		runner:     runner,
		background: background,
	}
}

// owned 读取会话并校验归属，不属于当前用户的会话按不存在处理
func (h *SessionHandler) owned(c *gin.Context) (*model.DiagnosisSession, bool) {
	session, err := h.runner.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if session.UserID != middleware.UserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return session, true
}

func (h *SessionHandler) Create(c *gin.Context) {
	var input domain.UserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.runner.CreateSession(c.Request.Context(), middleware.UserID(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *SessionHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sessions, err := h.runner.ListByUser(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *SessionHandler) Get(c *gin.Context) {
	session, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session)
}

// RunStage 执行指定阶段，?stream=true 时以 SSE 推送 delta / done / error 事件
func (h *SessionHandler) RunStage(c *gin.Context) {
	stage, err := domain.ParseStage(c.Param("stage"))
	if err != nil {
		respondError(c, err)
		return
	}
	if _, ok := h.owned(c); !ok {
		return
	}
	h.run(c, stage)
}

// Next 执行会话的当前阶段
func (h *SessionHandler) Next(c *gin.Context) {
	session, ok := h.owned(c)
	if !ok {
		return
	}
	if session.IsCompleted() || session.CurrentStep >= domain.StageCount {
		respondError(c, diagnosis.ErrSessionCompleted)
		return
	}
	h.run(c, domain.Stage(session.CurrentStep))
}

func (h *SessionHandler) run(c *gin.Context, stage domain.Stage) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	if c.Query("stream") != "true" {
		resp, err := h.runner.RunStage(ctx, sessionID, stage, nil)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"stage": stage.Key(), "response": resp})
		return
	}

	stream := newSSEWriter(c)
	resp, err := h.runner.RunStage(ctx, sessionID, stage, func(partial string, done bool) {
		if !done {
			stream.send("delta", gin.H{"stage": stage.Key(), "text": partial})
		}
	})
	if err != nil {
		stream.send("error", gin.H{"stage": stage.Key(), "error": err.Error(), "status": statusOf(err)})
		return
	}
	stream.send("done", gin.H{"stage": stage.Key(), "response": resp})
}

// RunAll 提交后台任务，依次执行剩余的全部阶段
func (h *SessionHandler) RunAll(c *gin.Context) {
	session, ok := h.owned(c)
	if !ok {
		return
	}
	if session.IsCompleted() {
		respondError(c, diagnosis.ErrSessionCompleted)
		return
	}
	if err := h.background.Enqueue(session.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "run enqueued", "session_id": session.ID})
}

// Runs 阶段执行记录
func (h *SessionHandler) Runs(c *gin.Context) {
	session, ok := h.owned(c)
	if !ok {
		return
	}
	runs, err := h.runner.Runs(c.Request.Context(), session.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

type stageInfo struct {
	Index           int      `json:"index"`
	Key             string   `json:"key"`
	Name            string   `json:"name"`
	RequiresRouting bool     `json:"requires_routing"`
	UsesReport      bool     `json:"uses_report"`
	Fields          []string `json:"fields"`
}

// Stages 阶段目录
func (h *SessionHandler) Stages(c *gin.Context) {
	defs := domain.Definitions()
	out := make([]stageInfo, 0, len(defs))
	for _, d := range defs {
		fields := make([]string, 0, len(d.Schema.Fields))
		for _, f := range d.Schema.Fields {
			fields = append(fields, f.Name)
		}
		out = append(out, stageInfo{
			Index:           int(d.Stage),
			Key:             d.Key(),
			Name:            d.Name(),
			RequiresRouting: d.RequiresRouting,
			UsesReport:      d.UsesReport,
			Fields:          fields,
		})
	}
	c.JSON(http.StatusOK, out)
}

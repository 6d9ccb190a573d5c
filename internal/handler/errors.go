package handler

import (
	"errors"
	"net/http"

	"github.com/dgeneration/radiance-ai/backend/internal/domain"
	"github.com/dgeneration/radiance-ai/backend/internal/pkg/llm"
	"github.com/dgeneration/radiance-ai/backend/internal/service/chat"
	"github.com/dgeneration/radiance-ai/backend/internal/service/diagnosis"
	"github.com/dgeneration/radiance-ai/backend/internal/service/orchestrator"
	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

// statusOf 把服务层错误映射为 HTTP 状态码
func statusOf(err error) int {
	var stageErr *diagnosis.StageError
	var statusErr *llm.StatusError
	switch {
	case errors.Is(err, diagnosis.ErrSessionNotFound), errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, diagnosis.ErrStageOutOfOrder),
		errors.Is(err, diagnosis.ErrSessionCompleted),
		errors.Is(err, diagnosis.ErrStageInFlight),
		errors.Is(err, orchestrator.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, diagnosis.ErrMissingSpecialistType):
		return http.StatusUnprocessableEntity
	case errors.As(err, &stageErr), errors.As(err, &statusErr):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrUnknownStage),
		errors.Is(err, chat.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrQueueFull), errors.Is(err, orchestrator.ErrOrchestratorStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		klog.Errorf("[Handler] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

package diagnosis

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgeneration/radiance-ai/backend/internal/domain"
	"github.com/dgeneration/radiance-ai/backend/internal/pkg/llm"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionCompleted = errors.New("session already completed")

	// ErrStageOutOfOrder 请求的阶段不是会话的当前阶段，或该阶段已有响应
	ErrStageOutOfOrder = errors.New("stage out of order")

	// ErrMissingSpecialistType 专科医生阶段缺少全科医生给出的专科类型
	ErrMissingSpecialistType = errors.New("missing recommended specialist type")

	// ErrStageInFlight 同一会话已有阶段正在执行
	ErrStageInFlight = errors.New("a stage is already running for this session")
)

// StageError 补全服务调用失败（网络错误、非 2xx、流格式错误、超时）
type StageError struct {
	SessionID string
	Stage     domain.Stage
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed for session %s: %v", e.Stage.Key(), e.SessionID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// errorType 用于指标标签
func errorType(err error) string {
	var statusErr *llm.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case llm.IsRateLimitError(err):
		return "rate_limited"
	case errors.As(err, &statusErr):
		return "status"
	default:
		return "transport"
	}
}

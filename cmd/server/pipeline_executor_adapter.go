package main

import (
	"context"

	"github.com/dgeneration/radiance-ai/backend/internal/service/diagnosis"
	"github.com/dgeneration/radiance-ai/backend/internal/service/orchestrator"
)

// pipelineExecutorAdapter 将 diagnosis.Runner 适配为 SessionExecutor 接口
// 避免 orchestrator 和 diagnosis 之间的循环依赖
type pipelineExecutorAdapter struct {
	runner *diagnosis.Runner
}

func newPipelineExecutor(runner *diagnosis.Runner) orchestrator.SessionExecutor {
	return &pipelineExecutorAdapter{runner: runner}
}

// ExecuteSession 依次执行会话剩余的全部阶段
// 实现 orchestrator.SessionExecutor 接口
func (a *pipelineExecutorAdapter) ExecuteSession(ctx context.Context, sessionID string) error {
	_, err := a.runner.RunRemaining(ctx, sessionID)
	return err
}

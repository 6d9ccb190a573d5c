// Package app 组装服务依赖，main 中构建一次并向下传递
package app

import (
	"context"
	"fmt"

	"github.com/dgeneration/radiance-ai/backend/config"
	"github.com/dgeneration/radiance-ai/backend/internal/domain"
	"github.com/dgeneration/radiance-ai/backend/internal/eventbus"
	"github.com/dgeneration/radiance-ai/backend/internal/handler"
	"github.com/dgeneration/radiance-ai/backend/internal/middleware"
	"github.com/dgeneration/radiance-ai/backend/internal/pkg/database"
	"github.com/dgeneration/radiance-ai/backend/internal/pkg/llm"
	"github.com/dgeneration/radiance-ai/backend/internal/repository"
	"github.com/dgeneration/radiance-ai/backend/internal/router"
	"github.com/dgeneration/radiance-ai/backend/internal/service/chat"
	"github.com/dgeneration/radiance-ai/backend/internal/service/diagnosis"
	"github.com/dgeneration/radiance-ai/backend/internal/service/orchestrator"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"k8s.io/klog/v2"
)

// ExecutorFactory 为后台编排器构造执行器，由 main 提供以避免 orchestrator 依赖 diagnosis
type ExecutorFactory func(runner *diagnosis.Runner) orchestrator.SessionExecutor

type App struct {
	Config       *config.Config
	DB           *gorm.DB
	Bus          *eventbus.SessionEventBus
	Relay        *eventbus.RedisRelay
	Runner       *diagnosis.Runner
	Chat         *chat.Service
	Orchestrator *orchestrator.Orchestrator
	Auth         *middleware.Authenticator

	detachRelay func()
}

func New(ctx context.Context, cfg *config.Config, executorFor ExecutorFactory) (*App, error) {
	db, err := database.InitDB(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	prompts := domain.DefaultPrompts()
	if cfg.Pipeline.PromptFile != "" {
		if prompts, err = domain.LoadPrompts(cfg.Pipeline.PromptFile); err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
	}

	cm, err := llm.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}

	bus := eventbus.NewSessionEventBus()
	relay, err := eventbus.NewRedisRelay(ctx, cfg.Redis, bus)
	if err != nil {
		return nil, fmt.Errorf("init redis relay: %w", err)
	}

	sessionRepo := repository.NewSessionRepository(db)
	runner := diagnosis.NewRunner(sessionRepo, repository.NewStageRunRepository(db), cm, prompts, bus, diagnosis.Options{
		StageTimeout: cfg.Pipeline.StageTimeout,
		Stream:       cfg.Pipeline.Stream,
		RawTextLimit: cfg.Pipeline.RawTextLimit,
	})
	chatService := chat.NewService(sessionRepo, repository.NewChatRepository(db), cm, prompts, bus, chat.Options{
		Timeout:      cfg.Chat.Timeout,
		HistoryLimit: cfg.Chat.HistoryLimit,
	})

	orch, err := orchestrator.NewOrchestrator(orchestrator.Options{
		Workers:     cfg.Pipeline.Workers,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		JobTimeout:  cfg.Pipeline.JobTimeout,
	}, executorFor(runner))
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	a := &App{
		Config:       cfg,
		DB:           db,
		Bus:          bus,
		Relay:        relay,
		Runner:       runner,
		Chat:         chatService,
		Orchestrator: orch,
		Auth:         middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
	}
	if relay != nil {
		a.detachRelay = relay.Attach()
	}
	klog.V(6).Infof("[App] 初始化完成: db=%s, provider=%s, model=%s, workers=%d",
		cfg.Database.Type, cfg.LLM.Provider, cfg.LLM.Model, cfg.Pipeline.Workers)
	return a, nil
}

// Router 构造 HTTP 路由
func (a *App) Router() *gin.Engine {
	sessionHandler := handler.NewSessionHandler(a.Runner, a.Orchestrator)
	return router.Setup(
		a.Config,
		a.Auth,
		sessionHandler,
		handler.NewEventHandler(sessionHandler, a.Bus),
		handler.NewChatHandler(sessionHandler, a.Chat),
	)
}

// Close 停止后台任务并释放连接
func (a *App) Close() {
	a.Orchestrator.Stop()
	if a.detachRelay != nil {
		a.detachRelay()
	}
	if err := a.Relay.Close(); err != nil {
		klog.Warningf("[App] 关闭 Redis 连接失败: %v", err)
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

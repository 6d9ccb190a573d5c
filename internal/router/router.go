package router

import (
	"net/http"

	"github.com/dgeneration/radiance-ai/backend/config"
	"github.com/dgeneration/radiance-ai/backend/internal/handler"
	"github.com/dgeneration/radiance-ai/backend/internal/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Setup(
	cfg *config.Config,
	auth *middleware.Authenticator,
	sessionHandler *handler.SessionHandler,
	eventHandler *handler.EventHandler,
	chatHandler *handler.ChatHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.DevUserHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", auth.RequireAuth())
	{
		// 只读的 JSON 接口启用 gzip；SSE 与 WebSocket 接口需要逐条刷新，不压缩
		read := api.Group("", gzip.Gzip(gzip.DefaultCompression))
		{
			read.GET("/stages", sessionHandler.Stages)
			read.GET("/sessions", sessionHandler.List)
			read.GET("/sessions/:id", sessionHandler.Get)
			read.GET("/sessions/:id/runs", sessionHandler.Runs)
			read.GET("/sessions/:id/chat", chatHandler.History)
		}

		sessions := api.Group("/sessions")
		{
			sessions.POST("", sessionHandler.Create)
			sessions.POST("/:id/stages/:stage/run", sessionHandler.RunStage)
			sessions.POST("/:id/next", sessionHandler.Next)
			sessions.POST("/:id/run-all", sessionHandler.RunAll)
			sessions.GET("/:id/events", eventHandler.Stream)
			sessions.POST("/:id/chat", chatHandler.Ask)
			sessions.GET("/:id/chat/ws", chatHandler.WebSocket)
		}
	}

	return r
}

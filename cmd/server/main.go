package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/dgeneration/radiance-ai/backend/config"
	"github.com/dgeneration/radiance-ai/backend/internal/app"
)

func main() {
	// 初始化 klog
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	klog.V(6).Info("服务启动中...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.GetConfig()

	a, err := app.New(ctx, cfg, newPipelineExecutor)
	if err != nil {
		klog.Fatalf("Failed to initialize application: %v", err)
	}
	defer a.Close()

	a.Orchestrator.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		klog.Infof("Server starting on port %s...", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.Relay != nil {
		g.Go(func() error {
			return a.Relay.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		klog.Infof("Server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		klog.Errorf("Server exited with error: %v", err)
	}
}

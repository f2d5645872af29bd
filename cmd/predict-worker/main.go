package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/predictflow"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := predictflow.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "predict-worker: %v\n", err)
		return 1
	}

	logger, err := predictflow.NewLogger(predictflow.LogOptions{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "predict-worker: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := predictflow.NewService(ctx, &cfg, logger, predictflow.ServiceDependencies{})
	if err != nil {
		logger.Error("Startup failed", err, predictflow.LogFields{"kind": string(predictflow.KindOf(err))})
		return 1
	}

	logger.Info("Waiting for prediction requests", predictflow.LogFields{"queue": cfg.RequestQueue})
	if err := svc.Start(ctx); err != nil {
		logger.Error("Worker stopped", err, predictflow.LogFields{"kind": string(predictflow.KindOf(err))})
		return 1
	}
	logger.Info("Worker stopped", nil)
	return 0
}

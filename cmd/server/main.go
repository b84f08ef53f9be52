package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"lunar-bazi/backend/internal/app"
	"lunar-bazi/backend/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	cfg.ConfigureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logrus.Fatalf("failed to initialise: %v", err)
	}
	defer application.Close()

	if err := application.ListenAndServe(ctx); err != nil {
		logrus.Errorf("server exited: %v", err)
	}
}

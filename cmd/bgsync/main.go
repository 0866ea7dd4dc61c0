package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"salesync/internal/app"
	"salesync/internal/background"
	"salesync/internal/connectivity"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := app.LoadConfigAndLogger(app.ConfigPath(), "bgsync")
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	// отдельное соединение с тем же файлом SQLite
	db, err := app.OpenStore(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := app.InitRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	registry := app.NewTaskRegistry(redisClient, logger)

	authoritative, err := app.NewAuthoritative(cfg)
	if err != nil {
		return err
	}

	if cfg.Monitoring.PrometheusEnabled {
		app.StartMetrics(ctx, cfg.Monitoring.BackgroundPrometheusPort, logger)
	}

	prober := connectivity.NewProber(cfg.Connectivity)
	handler := background.NewHandler(db, authoritative, logger)
	runner := background.NewRunner(handler, registry, prober.Probe, cfg.Background.Tag, cfg.Background.PollInterval, logger)

	runner.Start(ctx)
	return nil
}

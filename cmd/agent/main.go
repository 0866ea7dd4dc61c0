package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salesync/internal/api"
	"salesync/internal/app"
	"salesync/internal/bot"
	"salesync/internal/config"
	"salesync/internal/connectivity"
	"salesync/internal/database"
	"salesync/internal/events"
	"salesync/internal/export"
	"salesync/internal/logging"
	"salesync/internal/notify"
	"salesync/internal/service"
	"salesync/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := app.LoadConfigAndLogger(app.ConfigPath(), "agent")
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

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

	eventBus := events.NewEventBus()
	recorder := &events.StatusRecorder{}
	recorder.Attach(eventBus)
	telegram := attachNotifiers(cfg, eventBus, redisClient, logger)

	synchronizer, err := buildSynchronizer(ctx, cfg, db, eventBus, logger)
	if err != nil {
		return err
	}

	var grpcServer *api.GRPCServer
	if cfg.API.Enabled && cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, logger)
		if err != nil {
			return err
		}
	}

	// планировщик читает состояние сети через монитор
	var monitor *connectivity.Monitor
	scheduler := worker.NewScheduler(synchronizer, worker.PolicyFromConfig(cfg.Retry), logger,
		worker.WithOnlineGate(func() bool { return monitor.Online() }))
	defer scheduler.Dispose()

	monitorOpts := []connectivity.Option{
		connectivity.WithTaskRegistry(registry, cfg.Background.Tag),
		connectivity.WithStatusPublisher(eventBus),
	}
	if grpcServer != nil {
		monitorOpts = append(monitorOpts, connectivity.WithTransitionHook(grpcServer.SetOnline))
	}
	monitor = connectivity.NewMonitor(scheduler, db, logger, monitorOpts...)
	defer monitor.Wait()

	saleService := service.NewSaleService(db, cfg.Tenant, cfg.Sale.IDPrefix, logger,
		service.WithEventPublisher(eventBus),
		service.WithDrainTrigger(scheduler, monitor.Online))
	defer saleService.Wait()

	if cfg.Monitoring.PrometheusEnabled {
		app.StartMetrics(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, logger)
		go backupService.Start(ctx)
	}

	if cfg.Connectivity.ProbeURL != "" {
		prober := connectivity.NewProber(cfg.Connectivity)
		go prober.Watch(ctx, cfg.Connectivity.ProbeInterval, monitor, logger)
	}

	// остатки очереди после перезапуска
	go func() {
		if _, err := scheduler.TriggerNow(ctx); err != nil {
			logger.Warn().Err(err).Msg("Startup drain failed")
		}
	}()

	if telegram != nil && cfg.Telegram.Commands {
		var botMetrics *bot.Metrics
		if cfg.Monitoring.PrometheusEnabled {
			botMetrics = bot.NewMetrics()
		}
		operatorBot := bot.NewBot(telegram, cfg.Telegram.ChatIDs, bot.Deps{
			Sync:   scheduler,
			Store:  db,
			Status: recorder,
			Export: export.NewExporter(db, cfg.Exports.Path, logger),
			Online: monitor.Online,
		}, botMetrics, logging.Component(logger, "bot"))
		go operatorBot.Start(ctx)
	}

	var httpServer *api.HTTPServer
	if cfg.API.Enabled && cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, api.Deps{
			Sales:        saleService,
			Sync:         scheduler,
			Connectivity: monitor,
			Status:       recorder,
			Health:       db.HealthCheck,
		}, logger)
	}

	return serve(ctx, grpcServer, httpServer, logger)
}

func buildSynchronizer(ctx context.Context, cfg *config.Config, db *database.DB, bus *events.EventBus, logger *zerolog.Logger) (*worker.Synchronizer, error) {
	authoritative, err := app.NewAuthoritative(cfg)
	if err != nil {
		return nil, err
	}
	mirror, err := app.NewMirror(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init mirror: %w", err)
	}
	ingestion, err := app.NewIngestion(cfg)
	if err != nil {
		return nil, err
	}

	opts := []worker.SynchronizerOption{worker.WithStatusPublisher(bus)}
	if ingestion != nil {
		opts = append(opts, worker.WithIngestion(ingestion))
	}
	logger.Info().
		Str("authoritative", cfg.Authoritative.BaseURL).
		Str("mirror", cfg.Mirror.Backend).
		Bool("ingestion", ingestion != nil).
		Msg("sync channels ready")

	return worker.NewSynchronizer(db, authoritative, mirror, logger, opts...), nil
}

// attachNotifiers returns the Telegram client when alerts are enabled.
func attachNotifiers(cfg *config.Config, bus *events.EventBus, redisClient *redis.Client, logger *zerolog.Logger) *bot.APIClient {
	if redisClient != nil {
		notify.NewRedisStatusPublisher(redisClient, "", logger).Attach(bus)
	}

	if cfg.Telegram.BotToken == "" || len(cfg.Telegram.ChatIDs) == 0 {
		return nil
	}
	client, err := bot.NewAPIClient(cfg.Telegram.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without alerts")
		return nil
	}
	notify.NewTelegramNotifier(client, cfg.Telegram.ChatIDs, logger).Attach(bus)
	logger.Info().Int("chats", len(cfg.Telegram.ChatIDs)).Msg("telegram alerts enabled")
	return client
}

func serve(ctx context.Context, grpcServer *api.GRPCServer, httpServer *api.HTTPServer, logger *zerolog.Logger) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}
	if httpServer != nil {
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().Msg("sales agent started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("sales agent stopped")
	return nil
}

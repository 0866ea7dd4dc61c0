// Package app wires the salesync components from configuration. It is
// shared by the agent, the background runner and the operator CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"salesync/internal/channel"
	"salesync/internal/config"
	"salesync/internal/database"
	"salesync/internal/domain"
	"salesync/internal/google"
	"salesync/internal/logging"
	"salesync/internal/repository"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ConfigPath returns CONFIG_PATH or the default location.
func ConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

func LoadConfigAndLogger(configPath, component string) (*config.Config, *zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App, cfg.Tenant)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, component), closer, nil
}

func OpenStore(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger, database.WithBusyTimeout(cfg.Database.BusyTimeout))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}
	return db, nil
}

// InitRedis returns nil when Redis is not configured or unreachable.
func InitRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(client)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// NewTaskRegistry prefers Redis, so both processes see the same tags, and
// falls back to memory.
func NewTaskRegistry(client *redis.Client, logger *zerolog.Logger) domain.TaskRegistry {
	memory := repository.NewMemoryTaskRegistry()
	if client == nil {
		logger.Warn().Msg("no redis, background task registry is process-local")
		return memory
	}
	return repository.NewFailoverTaskRegistry(repository.NewRedisTaskRegistry(client, ""), memory, logger)
}

func NewAuthoritative(cfg *config.Config) (*channel.AuthoritativeChannel, error) {
	return channel.NewAuthoritativeChannel(cfg.Authoritative)
}

// NewMirror builds the configured mirror backend. The Sheets mirror starts
// its cache refresher on ctx.
func NewMirror(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (channel.SyncChannel, error) {
	switch cfg.Mirror.Backend {
	case config.MirrorBackendSheets:
		m, err := google.NewSheetsMirror(ctx, cfg.Mirror.Sheets.CredentialsFile, cfg.Mirror.Sheets.SpreadsheetID)
		if err != nil {
			return nil, err
		}
		if err := m.TestConnection(ctx); err != nil {
			logger.Warn().Err(err).Msg("Google Sheets connection test failed")
		}
		go m.Start(ctx)
		return m, nil
	default:
		m, err := channel.NewS3MirrorChannel(ctx, cfg.Mirror.S3)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// NewIngestion returns nil when no ingestion URL is configured.
func NewIngestion(cfg *config.Config) (channel.SyncChannel, error) {
	if cfg.Ingestion.URL == "" {
		return nil, nil
	}
	f, err := channel.NewIngestionForwarder(cfg.Ingestion)
	if err != nil {
		return nil, err
	}
	return f, nil
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"salesync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Tenant        string              `yaml:"tenant"`
	Sale          SaleConfig          `yaml:"sale"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Authoritative AuthoritativeConfig `yaml:"authoritative"`
	Mirror        MirrorConfig        `yaml:"mirror"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Retry         RetryConfig         `yaml:"retry"`
	Connectivity  ConnectivityConfig  `yaml:"connectivity"`
	Background    BackgroundConfig    `yaml:"background"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	Exports       ExportConfig        `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type SaleConfig struct {
	IDPrefix string `yaml:"id_prefix"`
}

type DatabaseConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout_ms"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type AuthoritativeConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	APIKeyHeader string        `yaml:"api_key_header"`
	Timeout      time.Duration `yaml:"timeout"`
	RPS          float64       `yaml:"rps"`
	Burst        int           `yaml:"burst"`
}

// Mirror backends.
const (
	MirrorBackendS3     = "s3"
	MirrorBackendSheets = "sheets"
)

type MirrorConfig struct {
	Backend string       `yaml:"backend"`
	S3      S3Config     `yaml:"s3"`
	Sheets  SheetsConfig `yaml:"sheets"`
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

type SheetsConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
}

type IngestionConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	FloorDelay time.Duration `yaml:"floor_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Factor     float64       `yaml:"factor"`
}

type ConnectivityConfig struct {
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

type BackgroundConfig struct {
	Tag          string        `yaml:"tag"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled        bool `yaml:"prometheus_enabled"`
	PrometheusPort           int  `yaml:"prometheus_port"`
	// bgsync runs beside the agent and needs its own listener
	BackgroundPrometheusPort int  `yaml:"background_prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type TelegramConfig struct {
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
	Commands bool    `yaml:"commands"` // answer /status, /pending, /sync, /export in ChatIDs
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Authoritative.BaseURL == "" {
		return errors.New("authoritative base_url is required")
	}
	if _, err := url.ParseRequestURI(c.Authoritative.BaseURL); err != nil {
		return fmt.Errorf("invalid authoritative base_url: %w", err)
	}

	switch c.Mirror.Backend {
	case MirrorBackendS3:
		if c.Mirror.S3.Bucket == "" {
			return errors.New("mirror s3 bucket is required")
		}
	case MirrorBackendSheets:
		if c.Mirror.Sheets.SpreadsheetID == "" {
			return errors.New("mirror sheets spreadsheet_id is required")
		}
	default:
		return fmt.Errorf("unknown mirror backend %q", c.Mirror.Backend)
	}

	return ValidateRetry(c.Retry)
}

// ValidateRetry checks backoff bounds.
func ValidateRetry(r RetryConfig) error {
	if r.FloorDelay <= 0 {
		return errors.New("retry floor_delay must be positive")
	}
	if r.MaxDelay < r.FloorDelay {
		return fmt.Errorf("retry max_delay %s is below floor_delay %s", r.MaxDelay, r.FloorDelay)
	}
	if r.Factor < 1 {
		return fmt.Errorf("retry factor %.2f must be >= 1", r.Factor)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "salesync"
	}
	if c.Sale.IDPrefix == "" {
		c.Sale.IDPrefix = models.DefaultSaleIDPrefix
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5000
	}
	if c.Mirror.Backend == "" {
		c.Mirror.Backend = MirrorBackendS3
	}
	if c.Mirror.S3.Region == "" {
		c.Mirror.S3.Region = "us-east-1"
	}
	if c.Authoritative.APIKeyHeader == "" {
		c.Authoritative.APIKeyHeader = "x-api-key"
	}
	if c.Authoritative.Timeout == 0 {
		c.Authoritative.Timeout = 15 * time.Second
	}
	if c.Ingestion.Timeout == 0 {
		c.Ingestion.Timeout = 10 * time.Second
	}

	// Retry defaults
	if c.Retry.FloorDelay == 0 {
		c.Retry.FloorDelay = models.RetryFloorDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = models.RetryMaxDelay
	}
	if c.Retry.Factor == 0 {
		c.Retry.Factor = models.RetryBackoffFactor
	}

	if c.Connectivity.ProbeInterval == 0 {
		c.Connectivity.ProbeInterval = models.DefaultProbeInterval
	}
	if c.Connectivity.ProbeTimeout == 0 {
		c.Connectivity.ProbeTimeout = 3 * time.Second
	}
	if c.Background.Tag == "" {
		c.Background.Tag = models.BackgroundSyncTag
	}
	if c.Background.PollInterval == 0 {
		c.Background.PollInterval = models.DefaultBackgroundPoll
	}
	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}

	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.BackgroundPrometheusPort == 0 {
		c.Monitoring.BackgroundPrometheusPort = c.Monitoring.PrometheusPort + 1
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

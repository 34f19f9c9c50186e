package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Review     ReviewConfig     `yaml:"review"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Exports    ExportConfig     `yaml:"exports"`
	Google     GoogleConfig     `yaml:"google"`
}

type APIConfig struct {
	Enabled         bool               `yaml:"enabled"`
	HTTP            APIHTTPConfig      `yaml:"http"`
	GRPC            APIGRPCConfig      `yaml:"grpc"`
	Auth            APIAuthConfig      `yaml:"auth"`
	RateLimit       APIRateLimitConfig `yaml:"rate_limit"`
	ShutdownTimeout time.Duration      `yaml:"shutdown_timeout"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled         bool               `yaml:"enabled"`
	Port            int                `yaml:"port"`
	Reflection      bool               `yaml:"reflection"`
	MaxRecvMsgBytes int                `yaml:"max_recv_msg_bytes"`
	Keepalive       APIKeepaliveConfig `yaml:"keepalive"`
	TLS             APITLSConfig       `yaml:"tls"`
}

// APIKeepaliveConfig is passed to keepalive.ServerParameters.
type APIKeepaliveConfig struct {
	Time    time.Duration `yaml:"time"`
	Timeout time.Duration `yaml:"timeout"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	HeaderUserID string         `yaml:"header_user_id"`
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

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotToken    string `yaml:"bot_token"`
	AdminChatID int64  `yaml:"admin_chat_id"`
	Debug       bool   `yaml:"debug"`
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	// KeepLast newest snapshots survive retention cleanup regardless of age.
	KeepLast    int    `yaml:"keep_last"`
	StoragePath string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	HealthCheckPort   int    `yaml:"health_check_port"`
	LogLevel          string `yaml:"log_level"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type GoogleConfig struct {
	Enabled               bool   `yaml:"enabled"`
	GoogleCredentialsFile string `yaml:"credentials_file"`
	LedgerSpreadSheetID   string `yaml:"ledger_spreadsheet_id"`
	LedgerSheetName       string `yaml:"ledger_sheet_name"`
}

type SchedulingConfig struct {
	DefaultTimezone string             `yaml:"default_timezone"`
	LockTTL         time.Duration      `yaml:"lock_ttl"`
	StorageRetry    StorageRetryConfig `yaml:"storage_retry"`
}

type StorageRetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type ReviewConfig struct {
	FastTrackSpecializations []string `yaml:"fast_track_specializations"`
	DefaultSessionPrice      string   `yaml:"default_session_price"`
}

type LedgerConfig struct {
	// Period is the window for this_period_earnings; only "month" is supported.
	Period string `yaml:"period"`
}

func Load(configPath string) (*Config, error) {
	// .env необязателен
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
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

	if _, err := time.LoadLocation(c.Scheduling.DefaultTimezone); err != nil {
		return fmt.Errorf("unknown default timezone %q: %w", c.Scheduling.DefaultTimezone, err)
	}

	if c.Scheduling.StorageRetry.MaxAttempts < 0 || c.Scheduling.StorageRetry.InitialDelay < 0 {
		return errors.New("storage retry settings must not be negative")
	}

	if c.Review.DefaultSessionPrice != "" {
		price, err := decimal.NewFromString(c.Review.DefaultSessionPrice)
		if err != nil {
			return fmt.Errorf("invalid default session price: %w", err)
		}
		if price.IsNegative() {
			return errors.New("default session price must not be negative")
		}
	}

	if c.Ledger.Period != "month" {
		return fmt.Errorf("unsupported ledger period %q", c.Ledger.Period)
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return errors.New("telegram bot token is required when telegram is enabled")
	}

	if c.Google.Enabled && (c.Google.GoogleCredentialsFile == "" || c.Google.LedgerSpreadSheetID == "") {
		return errors.New("google credentials file and ledger spreadsheet id are required")
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if k.Key == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client: %s", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

// SessionPrice returns the configured default price for new providers.
func (c *Config) SessionPrice() decimal.Decimal {
	if c.Review.DefaultSessionPrice == "" {
		return decimal.Zero
	}
	price, err := decimal.NewFromString(c.Review.DefaultSessionPrice)
	if err != nil {
		return decimal.Zero
	}
	return price
}

func (c *Config) applyDefaults() {
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.MaxRecvMsgBytes == 0 {
		c.API.GRPC.MaxRecvMsgBytes = 4 << 20
	}
	if c.API.GRPC.Keepalive.Time == 0 {
		c.API.GRPC.Keepalive.Time = 2 * time.Minute
	}
	if c.API.GRPC.Keepalive.Timeout == 0 {
		c.API.GRPC.Keepalive.Timeout = 20 * time.Second
	}
	if c.API.ShutdownTimeout == 0 {
		c.API.ShutdownTimeout = 10 * time.Second
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
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
	if c.API.Auth.HeaderUserID == "" {
		c.API.Auth.HeaderUserID = "x-user-id"
	}

	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5 * time.Second
	}

	if c.Scheduling.DefaultTimezone == "" {
		c.Scheduling.DefaultTimezone = "UTC"
	}
	if c.Scheduling.LockTTL == 0 {
		c.Scheduling.LockTTL = 10 * time.Second
	}
	if c.Scheduling.StorageRetry.MaxAttempts == 0 {
		c.Scheduling.StorageRetry.MaxAttempts = 3
	}
	if c.Scheduling.StorageRetry.InitialDelay == 0 {
		c.Scheduling.StorageRetry.InitialDelay = 50 * time.Millisecond
	}
	if c.Scheduling.StorageRetry.MaxDelay == 0 {
		c.Scheduling.StorageRetry.MaxDelay = time.Second
	}

	if c.Ledger.Period == "" {
		c.Ledger.Period = "month"
	}
	if c.Google.LedgerSheetName == "" {
		c.Google.LedgerSheetName = "Ledger"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

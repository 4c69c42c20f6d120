package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Scheduler   SchedulerConfig
	TLS         TLSConfig
	Telemetry   TelemetryConfig
	Logging     LoggingConfig
	Manual      ManualConfig
	OpenFinance OpenFinanceConfig
	LiveSync    LiveSyncConfig
	Aggregation AggregationConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	Secret string
}

type SchedulerConfig struct {
	Enabled       bool
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	JobTimeout    time.Duration
	QueueSize     int
	RunOnStartup  bool
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

type LoggingConfig struct {
	Level    string
	Encoding string
}

// ManualConfig locates the manual-account endpoint. An empty URL means this
// process serves it itself.
type ManualConfig struct {
	URL    string
	APIKey string
}

type OpenFinanceConfig struct {
	BaseURL string
	APIKey  string
}

// LiveSyncConfig configures the push channel. It is disabled when URL is empty.
type LiveSyncConfig struct {
	URL         string
	Token       string
	BaseDelay   time.Duration
	MaxAttempts int
}

// Enabled reports whether a live sync endpoint is configured.
func (c LiveSyncConfig) Enabled() bool {
	return c.URL != ""
}

type AggregationConfig struct {
	FetchTimeout time.Duration
}

func Load() (*Config, error) {

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	// Parse scheduler configuration
	schedulerEnabled := getBoolEnv("SCHEDULER_ENABLED", true)
	schedulerTimes := splitList(getEnv("SCHEDULER_TIMES", "05:00,10:00,14:00,20:00"))
	schedulerWorkers, err := strconv.Atoi(getEnv("SCHEDULER_WORKERS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	schedulerJobDelay, err := time.ParseDuration(getEnv("SCHEDULER_JOB_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_JOB_DELAY: %w", err)
	}
	schedulerJobTimeout, err := time.ParseDuration(getEnv("SCHEDULER_JOB_TIMEOUT", "2m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_JOB_TIMEOUT: %w", err)
	}
	schedulerQueueSize, err := strconv.Atoi(getEnv("SCHEDULER_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_QUEUE_SIZE: %w", err)
	}
	schedulerRunOnStartup := getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false)

	// Parse live sync configuration
	liveSyncBaseDelay, err := time.ParseDuration(getEnv("LIVESYNC_BASE_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid LIVESYNC_BASE_DELAY: %w", err)
	}
	liveSyncMaxAttempts, err := strconv.Atoi(getEnv("LIVESYNC_MAX_ATTEMPTS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid LIVESYNC_MAX_ATTEMPTS: %w", err)
	}

	fetchTimeout, err := time.ParseDuration(getEnv("AGGREGATION_FETCH_TIMEOUT", "20s"))
	if err != nil {
		return nil, fmt.Errorf("invalid AGGREGATION_FETCH_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: splitList(getEnv("ALLOWED_HOSTS", "")),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "networth"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "networth"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:       schedulerEnabled,
			ScheduleTimes: schedulerTimes,
			WorkerCount:   schedulerWorkers,
			JobDelay:      schedulerJobDelay,
			JobTimeout:    schedulerJobTimeout,
			QueueSize:     schedulerQueueSize,
			RunOnStartup:  schedulerRunOnStartup,
		},
		TLS: TLSConfig{
			Enabled:      getBoolEnv("TLS_ENABLED", false),
			CertPath:     getEnv("TLS_CERT_PATH", ""),
			KeyPath:      getEnv("TLS_KEY_PATH", ""),
			RedirectHTTP: getBoolEnv("TLS_REDIRECT_HTTP", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "networth-api"),
			Environment:  getEnv("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9090"),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
		Manual: ManualConfig{
			URL:    strings.TrimRight(getEnv("MANUAL_API_URL", ""), "/"),
			APIKey: getEnv("MANUAL_API_KEY", ""),
		},
		OpenFinance: OpenFinanceConfig{
			BaseURL: strings.TrimRight(getEnv("OPENFINANCE_BASE_URL", ""), "/"),
			APIKey:  getEnv("OPENFINANCE_API_KEY", ""),
		},
		LiveSync: LiveSyncConfig{
			URL:         getEnv("LIVESYNC_URL", ""),
			Token:       getEnv("LIVESYNC_TOKEN", ""),
			BaseDelay:   liveSyncBaseDelay,
			MaxAttempts: liveSyncMaxAttempts,
		},
		Aggregation: AggregationConfig{
			FetchTimeout: fetchTimeout,
		},
	}

	// Validate required fields
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return nil, fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if cfg.TLS.KeyPath == "" {
			return nil, fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	// Validate live sync configuration
	if cfg.LiveSync.Enabled() {
		if _, err := url.ParseRequestURI(cfg.LiveSync.URL); err != nil {
			return nil, fmt.Errorf("invalid LIVESYNC_URL: %w", err)
		}
		if cfg.LiveSync.Token == "" {
			return nil, fmt.Errorf("LIVESYNC_TOKEN is required when LIVESYNC_URL is set")
		}
	}
	if cfg.LiveSync.MaxAttempts < 1 {
		return nil, fmt.Errorf("LIVESYNC_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

// ManualURL returns the manual-account base URL, defaulting to this server.
func (c *Config) ManualURL() string {
	if c.Manual.URL != "" {
		return c.Manual.URL
	}
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	scheme := "http"
	if c.TLS.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%s/api", scheme, host, c.Server.Port)
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

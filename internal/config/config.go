// Package config loads kchart configuration from flags, environment variables
// and .env files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kchartio/kchart/internal/validation"
)

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Data      DataConfig
	Server    ServerConfig
	Cache     CacheConfig
	Fetch     FetchConfig
	Vendor    VendorConfig
	Scheduler SchedulerConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string `validate:"required,oneof=development staging production"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string `validate:"required,oneof=debug info warn error"`
}

// DataConfig locates on-disk state: the sqlite database, the badger cache
// and the search index all live under BasePath.
type DataConfig struct {
	BasePath string `validate:"required"`
}

// DatabasePath is the sqlite file.
func (d DataConfig) DatabasePath() string { return filepath.Join(d.BasePath, "kchart.db") }

// CachePath is the badger directory.
func (d DataConfig) CachePath() string { return filepath.Join(d.BasePath, "cache") }

// SearchPath is the bleve index directory.
func (d DataConfig) SearchPath() string { return filepath.Join(d.BasePath, "search") }

// ServerConfig holds read API settings.
type ServerConfig struct {
	Port         string `validate:"required,numeric"`
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

// Cache backends.
const (
	CacheBadger = "badger"
	CacheRedis  = "redis"
)

// CacheConfig selects the aggregate cache backend.
type CacheConfig struct {
	Backend  string `validate:"required,oneof=badger redis"`
	RedisURL string `validate:"required_if=Backend redis"`
}

// FetchConfig controls outbound vendor requests.
type FetchConfig struct {
	Timeout            time.Duration `validate:"gt=0"`
	ProxyURL           string        `validate:"omitempty,url"`
	ProxyTimeoutFactor int           `validate:"gte=1"`
	UserAgents         []string
	RequestsPerSecond  float64 `validate:"gt=0"`
}

// EffectiveTimeout stretches the timeout when requests go through a proxy.
func (f FetchConfig) EffectiveTimeout() time.Duration {
	if f.ProxyURL == "" {
		return f.Timeout
	}
	return f.Timeout * time.Duration(f.ProxyTimeoutFactor)
}

// VendorConfig holds vendor endpoints. Tests point these at httptest servers.
type VendorConfig struct {
	MelonAPIURL string `validate:"required,url"`
	MelonAppKey string
	GenieURL    string `validate:"required,url"`
	MnetURL     string `validate:"required,url"`
	BugsURL     string `validate:"required,url"`
}

// SchedulerConfig controls the task queue.
type SchedulerConfig struct {
	Workers             int           `validate:"gte=1"`
	RetryBackoff        time.Duration `validate:"gt=0"`
	HourlyMaxRetries    int           `validate:"gte=0"`
	AggregateMaxRetries int           `validate:"gte=0"`
	BacklogSpacing      time.Duration `validate:"gte=0"`
	// BacklogFloor is the oldest hour the backlog walker may reach. Zero
	// means unbounded.
	BacklogFloor time.Time
	PollInterval time.Duration `validate:"gt=0"`
	// HourlyOffset is how long after the top of the hour the hourly batch fires.
	HourlyOffset time.Duration `validate:"gte=0"`
}

// Flags carries command-line values. Empty strings mean "not set".
type Flags struct {
	EnvFile      string
	Env          string
	LogLevel     string
	DataPath     string
	Port         string
	CacheBackend string
	RedisURL     string
	ProxyURL     string
	Workers      string
}

// Default vendor endpoints.
const (
	DefaultMelonAPIURL = "http://apis.skplanetx.com/melon"
	DefaultGenieURL    = "http://www.genie.co.kr/chart/top100"
	DefaultMnetURL     = "http://www.mnet.com/chart/top100/"
	DefaultBugsURL     = "http://music.bugs.co.kr/chart/track/realtime/total"
)

// LoadConfig loads configuration with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig(flags Flags) (*Config, error) {
	envFile := flags.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv.Load never overrides variables that are already set.
	_ = godotenv.Load(envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(flags.Env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: strings.ToLower(getConfigValue(flags.LogLevel, "LOG_LEVEL", "info")),
		},
		Data: DataConfig{
			BasePath: getConfigValue(flags.DataPath, "DATA_PATH", ""),
		},
		Server: ServerConfig{
			Port:        getConfigValue(flags.Port, "SERVER_PORT", "8080"),
			CORSOrigins: getListConfigValue("CORS_ORIGINS", []string{"*"}),
		},
		Cache: CacheConfig{
			Backend:  getConfigValue(flags.CacheBackend, "CACHE_BACKEND", CacheBadger),
			RedisURL: getConfigValue(flags.RedisURL, "REDIS_URL", ""),
		},
		Fetch: FetchConfig{
			ProxyURL:   getConfigValue(flags.ProxyURL, "FETCH_PROXY_URL", ""),
			UserAgents: getListConfigValue("FETCH_USER_AGENTS", nil),
		},
		Vendor: VendorConfig{
			MelonAPIURL: getConfigValue("", "MELON_API_URL", DefaultMelonAPIURL),
			MelonAppKey: getConfigValue("", "MELON_APP_KEY", ""),
			GenieURL:    getConfigValue("", "GENIE_URL", DefaultGenieURL),
			MnetURL:     getConfigValue("", "MNET_URL", DefaultMnetURL),
			BugsURL:     getConfigValue("", "BUGS_URL", DefaultBugsURL),
		},
	}

	var err error
	if cfg.Fetch.ProxyTimeoutFactor, err = getIntConfigValue("", "FETCH_PROXY_TIMEOUT_FACTOR", 10); err != nil {
		return nil, err
	}
	if cfg.Fetch.RequestsPerSecond, err = getFloatConfigValue("FETCH_RPS", 1); err != nil {
		return nil, err
	}
	if cfg.Scheduler.Workers, err = getIntConfigValue(flags.Workers, "SCHEDULER_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.Scheduler.HourlyMaxRetries, err = getIntConfigValue("", "SCHEDULER_HOURLY_MAX_RETRIES", 5); err != nil {
		return nil, err
	}
	if cfg.Scheduler.AggregateMaxRetries, err = getIntConfigValue("", "SCHEDULER_AGGREGATE_MAX_RETRIES", 2); err != nil {
		return nil, err
	}

	durations := []struct {
		dst      *time.Duration
		envKey   string
		fallback string
	}{
		{&cfg.Server.ReadTimeout, "SERVER_READ_TIMEOUT", "15s"},
		{&cfg.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT", "15s"},
		{&cfg.Server.IdleTimeout, "SERVER_IDLE_TIMEOUT", "60s"},
		{&cfg.Fetch.Timeout, "FETCH_TIMEOUT", "6.05s"},
		{&cfg.Scheduler.RetryBackoff, "SCHEDULER_RETRY_BACKOFF", "5m"},
		{&cfg.Scheduler.BacklogSpacing, "SCHEDULER_BACKLOG_SPACING", "30s"},
		{&cfg.Scheduler.PollInterval, "SCHEDULER_POLL_INTERVAL", "5s"},
		{&cfg.Scheduler.HourlyOffset, "SCHEDULER_HOURLY_OFFSET", "2m"},
	}
	for _, d := range durations {
		raw := getConfigValue("", d.envKey, d.fallback)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.envKey, raw, err)
		}
		*d.dst = parsed
	}

	if floor := getConfigValue("", "SCHEDULER_BACKLOG_FLOOR", ""); floor != "" {
		t, err := time.Parse(time.RFC3339, floor)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_BACKLOG_FLOOR %q: %w", floor, err)
		}
		cfg.Scheduler.BacklogFloor = t.UTC()
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validation.New()
	sections := []any{c.App, c.Logger, c.Data, c.Server, c.Cache, c.Fetch, c.Vendor, c.Scheduler}
	for _, s := range sections {
		if err := v.Validate(s); err != nil {
			return err
		}
	}
	if !c.Scheduler.BacklogFloor.IsZero() && c.Scheduler.BacklogFloor.After(time.Now()) {
		return fmt.Errorf("backlog floor %s is in the future", c.Scheduler.BacklogFloor.Format(time.RFC3339))
	}
	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty the default is returned unchanged.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	expanded, err := expandPath(c.Data.BasePath, filepath.Join(homeDir, ".kchart"))
	if err != nil {
		return err
	}
	c.Data.BasePath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

func getIntConfigValue(flagValue, envKey string, defaultValue int) (int, error) {
	raw := getConfigValue(flagValue, envKey, "")
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, raw, err)
	}
	return n, nil
}

func getFloatConfigValue(envKey string, defaultValue float64) (float64, error) {
	raw := os.Getenv(envKey)
	if raw == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, raw, err)
	}
	return f, nil
}

// getListConfigValue splits a comma-separated variable.
func getListConfigValue(envKey string, defaultValue []string) []string {
	raw := os.Getenv(envKey)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

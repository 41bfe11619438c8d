package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App:    AppConfig{Environment: "development"},
		Logger: LoggerConfig{Level: "info"},
		Data:   DataConfig{BasePath: "/var/lib/kchart"},
		Server: ServerConfig{Port: "8080"},
		Cache:  CacheConfig{Backend: CacheBadger},
		Fetch: FetchConfig{
			Timeout:            6050 * time.Millisecond,
			ProxyTimeoutFactor: 10,
			RequestsPerSecond:  1,
		},
		Vendor: VendorConfig{
			MelonAPIURL: DefaultMelonAPIURL,
			GenieURL:    DefaultGenieURL,
			MnetURL:     DefaultMnetURL,
			BugsURL:     DefaultBugsURL,
		},
		Scheduler: SchedulerConfig{
			Workers:      2,
			RetryBackoff: 5 * time.Minute,
			PollInterval: time.Second,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_AllEnvironments(t *testing.T) {
	tests := []struct {
		env   string
		valid bool
	}{
		{"development", true},
		{"staging", true},
		{"production", true},
		{"test", false},
		{"", false},
		{"DEVELOPMENT", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := validConfig()
			cfg.App.Environment = tt.env
			if tt.valid {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestValidate_CacheBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.Backend = "memcached"
	assert.Error(t, cfg.Validate())

	cfg.Cache.Backend = CacheRedis
	assert.Error(t, cfg.Validate(), "redis requires a URL")

	cfg.Cache.RedisURL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_SchedulerBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Scheduler.BacklogFloor = time.Now().Add(48 * time.Hour)
	assert.Error(t, cfg.Validate())
}

func TestFetchConfig_EffectiveTimeout(t *testing.T) {
	f := FetchConfig{Timeout: 6050 * time.Millisecond, ProxyTimeoutFactor: 10}
	assert.Equal(t, 6050*time.Millisecond, f.EffectiveTimeout())

	f.ProxyURL = "http://proxy.local:3128"
	assert.Equal(t, 60500*time.Millisecond, f.EffectiveTimeout())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandPath("~/charts", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "charts"), got)

	got, err = expandPath("", "/default")
	require.NoError(t, err)
	assert.Equal(t, "/default", got)

	got, err = expandPath("/a/b/../c", "")
	require.NoError(t, err)
	assert.Equal(t, "/a/c", got)
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LOG_LEVEL=debug\nSERVER_PORT=9000\nSCHEDULER_WORKERS=3\n"), 0o600))

	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("DATA_PATH", dir)

	cfg, err := LoadConfig(Flags{EnvFile: envFile, Workers: "7"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level, ".env value used when unset elsewhere")
	assert.Equal(t, "9100", cfg.Server.Port, "environment wins over .env")
	assert.Equal(t, 7, cfg.Scheduler.Workers, "flag wins over .env")
	assert.Equal(t, dir, cfg.Data.BasePath)
	assert.Equal(t, 6050*time.Millisecond, cfg.Fetch.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RetryBackoff)
	assert.Equal(t, filepath.Join(dir, "kchart.db"), cfg.Data.DatabasePath())

	// godotenv exports what it loads; clear it for other tests.
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("SCHEDULER_WORKERS")
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	t.Setenv("DATA_PATH", t.TempDir())
	t.Setenv("FETCH_TIMEOUT", "soon")

	_, err := LoadConfig(Flags{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	assert.ErrorContains(t, err, "FETCH_TIMEOUT")
}

func TestGetListConfigValue(t *testing.T) {
	t.Setenv("FETCH_USER_AGENTS", " a , b,,c ")
	assert.Equal(t, []string{"a", "b", "c"}, getListConfigValue("FETCH_USER_AGENTS", nil))
	assert.Equal(t, []string{"*"}, getListConfigValue("UNSET_LIST_KEY", []string{"*"}))
}

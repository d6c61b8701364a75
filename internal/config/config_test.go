package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func noEnvFile(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
}

func TestLoadDefaults(t *testing.T) {
	noEnvFile(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreDriver != "memory" || cfg.OracleProvider != "none" {
		t.Errorf("driver = %s, oracle = %s", cfg.StoreDriver, cfg.OracleProvider)
	}
	if cfg.SessionTTL != 24*time.Hour || cfg.DefaultTopK != 5 {
		t.Errorf("session ttl = %v, top k = %d", cfg.SessionTTL, cfg.DefaultTopK)
	}
	if cfg.FeedRefreshSchedule != "@every 30m" {
		t.Errorf("schedule = %q", cfg.FeedRefreshSchedule)
	}
}

func TestLoadFromEnv(t *testing.T) {
	noEnvFile(t)
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("ORACLE_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ORACLE_TIMEOUT", "5s")
	t.Setenv("SUMMARIES_ENABLED", "true")
	t.Setenv("DEFAULT_TOP_K", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreDriver != "sqlite" || cfg.OpenAIAPIKey != "sk-test" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.OracleTimeout != 5*time.Second || !cfg.SummariesEnabled {
		t.Errorf("timeout = %v, summaries = %v", cfg.OracleTimeout, cfg.SummariesEnabled)
	}
	if cfg.DefaultTopK != 5 {
		t.Errorf("unparsable DEFAULT_TOP_K gave %d, want default", cfg.DefaultTopK)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("HTTP_PORT=9191\nLOG_FORMAT=json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", path)
	// Registered so the values gotenv sets are cleared after the test.
	t.Setenv("HTTP_PORT", "")
	t.Setenv("LOG_FORMAT", "")
	os.Unsetenv("HTTP_PORT")
	os.Unsetenv("LOG_FORMAT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != "9191" || cfg.LogFormat != "json" {
		t.Errorf("port = %s, format = %s", cfg.HTTPPort, cfg.LogFormat)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			StoreDriver:         "memory",
			ViewHistory:         "store",
			OracleProvider:      "none",
			OracleRetryAttempts: 1,
			OracleConcurrency:   1,
			DefaultTopK:         5,
			Timezone:            "UTC",
			LogFormat:           "text",
		}
	}
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad driver", func(c *Config) { c.StoreDriver = "mongo" }, "STORE_DRIVER"},
		{"postgres without url", func(c *Config) { c.StoreDriver = "postgres" }, "DATABASE_URL"},
		{"gemini without key", func(c *Config) { c.OracleProvider = "gemini" }, "GEMINI_API_KEY"},
		{"unknown oracle", func(c *Config) { c.OracleProvider = "claude" }, "ORACLE_PROVIDER"},
		{"bad view history", func(c *Config) { c.ViewHistory = "redis" }, "VIEW_HISTORY"},
		{"zero top k", func(c *Config) { c.DefaultTopK = 0 }, "DEFAULT_TOP_K"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "TIMEZONE"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.modify(c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/subosito/gotenv"
)

type Config struct {
	// Profile store
	StoreDriver         string // memory | file | postgres | sqlite | dynamodb
	ProfileFilePath     string
	DatabaseURL         string
	SQLitePath          string
	DynamoTable         string
	DynamoViewsTable    string
	DynamoFeedbackTable string
	AWSRegion           string
	AWSEndpoint         string
	ViewHistory         string // store | valkey
	ValkeyInitAddress   string
	ValkeyPassword      string
	ValkeyTLS           bool
	ViewHistoryTTL      time.Duration

	// Oracle
	OracleProvider      string // none | gemini | openai
	GeminiAPIKey        string
	GeminiModel         string
	OpenAIAPIKey        string
	OpenAIModel         string
	OpenAIBaseURL       string
	OracleTimeout       time.Duration
	OracleRetryAttempts int
	OracleRetryDelay    time.Duration
	MaxOracleRequests   int // per day, 0 = unlimited
	OracleConcurrency   int
	OracleCacheTTL      time.Duration
	SummariesEnabled    bool

	// Sources
	VocabularyPath      string
	FeedsConfigPath     string
	HackerNewsEnabled   bool
	HackerNewsLimit     int
	ScrapeEnabled       bool
	ScrapeConcurrency   int // parallel fetches for full article extraction
	ScrapeMaxArticles   int // cap of articles to extract per refresh
	FeedRefreshSchedule string
	Timezone            string

	// Service
	HTTPPort       string
	DefaultTopK    int
	SessionTTL     time.Duration
	RequestTimeout time.Duration
	Debug          bool
	LogFormat      string // text | json | tint
}

// Load reads an optional env file (ENV_FILE, default .env) and then the
// environment. Variables already set win over the file.
func Load() (*Config, error) {
	envFile := getEnvOrDefault("ENV_FILE", ".env")
	if err := gotenv.Load(envFile); err != nil {
		slog.Debug("no env file, using OS environment", "path", envFile)
	}

	cfg := &Config{
		StoreDriver:         getEnvOrDefault("STORE_DRIVER", "memory"),
		ProfileFilePath:     getEnvOrDefault("PROFILE_FILE_PATH", "profiles.json"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		SQLitePath:          getEnvOrDefault("SQLITE_PATH", "newsprefs.db"),
		DynamoTable:         getEnvOrDefault("DYNAMODB_TABLE", "newsprefs-profiles"),
		DynamoViewsTable:    getEnvOrDefault("DYNAMODB_VIEWS_TABLE", "newsprefs-views"),
		DynamoFeedbackTable: getEnvOrDefault("DYNAMODB_FEEDBACK_TABLE", "newsprefs-feedback"),
		AWSRegion:           getEnvOrDefault("AWS_REGION", "us-east-1"),
		AWSEndpoint:         os.Getenv("AWS_ENDPOINT"),
		ViewHistory:         getEnvOrDefault("VIEW_HISTORY", "store"),
		ValkeyInitAddress:   getEnvOrDefault("VALKEY_INIT_ADDRESS", "localhost:6379"),
		ValkeyPassword:      os.Getenv("VALKEY_PASSWORD"),
		ValkeyTLS:           getEnvBoolOrDefault("VALKEY_TLS", false),
		ViewHistoryTTL:      getEnvDurationOrDefault("VIEW_HISTORY_TTL", 0),

		OracleProvider:      getEnvOrDefault("ORACLE_PROVIDER", "none"),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiModel:         os.Getenv("GEMINI_MODEL"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:       os.Getenv("OPENAI_BASE_URL"),
		OracleTimeout:       getEnvDurationOrDefault("ORACLE_TIMEOUT", 20*time.Second),
		OracleRetryAttempts: getEnvIntOrDefault("ORACLE_RETRY_ATTEMPTS", 3),
		OracleRetryDelay:    getEnvDurationOrDefault("ORACLE_RETRY_DELAY", 2*time.Second),
		MaxOracleRequests:   getEnvIntOrDefault("MAX_ORACLE_REQUESTS", 0),
		OracleConcurrency:   getEnvIntOrDefault("ORACLE_CONCURRENCY", 4),
		OracleCacheTTL:      getEnvDurationOrDefault("ORACLE_CACHE_TTL", time.Hour),
		SummariesEnabled:    getEnvBoolOrDefault("SUMMARIES_ENABLED", false),

		VocabularyPath:      os.Getenv("VOCABULARY_PATH"),
		FeedsConfigPath:     getEnvOrDefault("FEEDS_CONFIG_PATH", "configs/feeds.yaml"),
		HackerNewsEnabled:   getEnvBoolOrDefault("HACKERNEWS_ENABLED", true),
		HackerNewsLimit:     getEnvIntOrDefault("HACKERNEWS_LIMIT", 30),
		ScrapeEnabled:       getEnvBoolOrDefault("SCRAPE_ENABLED", false),
		ScrapeConcurrency:   getEnvIntOrDefault("SCRAPE_CONCURRENCY", 8),
		ScrapeMaxArticles:   getEnvIntOrDefault("SCRAPE_MAX_ARTICLES", 10),
		FeedRefreshSchedule: getEnvOrDefault("FEED_REFRESH_SCHEDULE", "@every 30m"),
		Timezone:            getEnvOrDefault("TIMEZONE", "UTC"),

		HTTPPort:       getEnvOrDefault("HTTP_PORT", "8080"),
		DefaultTopK:    getEnvIntOrDefault("DEFAULT_TOP_K", 5),
		SessionTTL:     getEnvDurationOrDefault("SESSION_TTL", 24*time.Hour),
		RequestTimeout: getEnvDurationOrDefault("REQUEST_TIMEOUT", 60*time.Second),
		Debug:          getEnvBoolOrDefault("DEBUG", false),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "text"),
	}

	return cfg, cfg.Validate()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if !slices.Contains([]string{"memory", "file", "postgres", "sqlite", "dynamodb"}, c.StoreDriver) {
		return fmt.Errorf("STORE_DRIVER must be one of memory, file, postgres, sqlite, dynamodb")
	}
	if c.StoreDriver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres store")
	}
	if c.ViewHistory != "store" && c.ViewHistory != "valkey" {
		return fmt.Errorf("VIEW_HISTORY must be 'store' or 'valkey'")
	}

	switch c.OracleProvider {
	case "none":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini oracle")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai oracle")
		}
	default:
		return fmt.Errorf("ORACLE_PROVIDER must be one of none, gemini, openai")
	}
	if c.OracleRetryAttempts < 1 {
		return fmt.Errorf("ORACLE_RETRY_ATTEMPTS must be at least 1")
	}
	if c.OracleConcurrency < 1 {
		return fmt.Errorf("ORACLE_CONCURRENCY must be at least 1")
	}
	if c.DefaultTopK < 1 {
		return fmt.Errorf("DEFAULT_TOP_K must be at least 1")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	if !slices.Contains([]string{"text", "json", "tint"}, c.LogFormat) {
		return fmt.Errorf("LOG_FORMAT must be one of text, json, tint")
	}
	return nil
}

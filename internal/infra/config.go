package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	StoragePath    string
	StorageBaseURL string

	RunwayAPIKey     string
	RunwayBaseURL    string
	RunwayAPIVersion string

	DescriptionProvider string
	OpenAIAPIKey        string
	OpenAIModel         string
	OpenAIBaseURL       string
	GeminiAPIKey        string
	GeminiModel         string

	PollInterval    time.Duration
	MaxPollAttempts int
	PromptLimit     int
	WebPQuality     int

	RedisAddr     string
	RedisPassword string
	RedisChannel  string

	BalanceRefreshSpec string
	DefaultLocale      string
	CORSAllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		Port:                getEnv("PORT", "8080"),
		StoreDriver:         strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		SQLitePath:          getEnv("SQLITE_PATH", "genstudio.db"),
		StoragePath:         getEnv("STORAGE_PATH", "./data"),
		StorageBaseURL:      getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		RunwayAPIKey:        os.Getenv("RUNWAY_API_KEY"),
		RunwayBaseURL:       getEnv("RUNWAY_BASE_URL", "https://api.dev.runwayml.com/v1"),
		RunwayAPIVersion:    getEnv("RUNWAY_API_VERSION", "2024-11-06"),
		DescriptionProvider: strings.ToLower(getEnv("DESCRIPTION_PROVIDER", "openai")),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:       os.Getenv("OPENAI_BASE_URL"),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		PollInterval:        time.Millisecond * time.Duration(getEnvInt("POLL_INTERVAL_MS", 2000)),
		MaxPollAttempts:     getEnvInt("MAX_POLL_ATTEMPTS", 0),
		PromptLimit:         getEnvInt("PROMPT_LIMIT", 1000),
		WebPQuality:         getEnvInt("WEBP_QUALITY", 0),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisChannel:        getEnv("REDIS_CHANNEL", "genstudio:jobs"),
		BalanceRefreshSpec:  getEnv("BALANCE_REFRESH_SPEC", "@every 60s"),
		DefaultLocale:       getEnv("DEFAULT_LOCALE", "en"),
		CORSAllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS"),
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	switch cfg.StoreDriver {
	case StoreSQLite:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreSQLite, StorePostgres, cfg.StoreDriver)
	}

	switch cfg.DescriptionProvider {
	case "openai", "gemini":
	default:
		return nil, fmt.Errorf("DESCRIPTION_PROVIDER must be openai or gemini, got %q", cfg.DescriptionProvider)
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if cfg.WebPQuality < 0 || cfg.WebPQuality > 100 {
		return nil, fmt.Errorf("WEBP_QUALITY must be between 0 and 100")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

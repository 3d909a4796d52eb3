package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	YouTube   YouTubeConfig
	Gemini    GeminiConfig
	OpenAI    OpenAIConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Wikipedia WikipediaConfig
	Research  ResearchConfig
	Auth      AuthConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// YouTubeConfig holds the process-wide default key. Per-user keys override it.
type YouTubeConfig struct {
	APIKey string
}

type GeminiConfig struct {
	APIKey         string
	DefaultModel   string
	QuestionModels []string
}

type OpenAIConfig struct {
	APIKey         string
	Model          string
	EnableFallback bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type PostgresConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

type WikipediaConfig struct {
	BaseURL string
}

type ResearchConfig struct {
	MaxConcurrentRuns int
	RunTimeout        time.Duration
}

type AuthConfig struct {
	// StaticTokens maps bearer token to user id when Postgres is disabled.
	StaticTokens map[string]string
}

type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8080),
			AllowedOrigins:  parseCommaSeparated(getEnv("ALLOWED_ORIGINS", "*")),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		YouTube: YouTubeConfig{
			APIKey: getEnv("YOUTUBE_API_KEY", ""),
		},
		Gemini: GeminiConfig{
			APIKey:         getEnv("GEMINI_API_KEY", ""),
			DefaultModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			QuestionModels: parseCommaSeparated(getEnv("QUESTION_MODELS", "gemini-2.5-pro,gemini-2.5-flash,gemini-2.0-flash")),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			Model:          getEnv("OPENAI_MODEL", "gpt-4.1-mini"),
			EnableFallback: getEnvBool("OPENAI_ENABLE_FALLBACK", true),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Enabled:  getEnvBool("POSTGRES_ENABLED", true),
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "research"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DB", "guest_research"),
		},
		Wikipedia: WikipediaConfig{
			BaseURL: getEnv("WIKIPEDIA_BASE_URL", "https://en.wikipedia.org"),
		},
		Research: ResearchConfig{
			MaxConcurrentRuns: getEnvInt("MAX_CONCURRENT_RUNS", 4),
			RunTimeout:        getEnvDuration("RUN_TIMEOUT", 20*time.Minute),
		},
		Auth: AuthConfig{
			StaticTokens: parseTokenPairs(getEnv("AUTH_STATIC_TOKENS", "")),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
			File:   getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks structural settings. Provider keys are optional here because
// users may bring their own; a missing key surfaces per run.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if c.Research.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_RUNS must be positive")
	}
	if len(c.Gemini.QuestionModels) == 0 {
		return fmt.Errorf("QUESTION_MODELS must list at least one model")
	}
	if !c.Postgres.Enabled && len(c.Auth.StaticTokens) == 0 {
		return fmt.Errorf("AUTH_STATIC_TOKENS is required when POSTGRES_ENABLED=false")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseCommaSeparated(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseTokenPairs reads "token:userId,token2:userId2".
func parseTokenPairs(value string) map[string]string {
	result := make(map[string]string)
	for _, pair := range parseCommaSeparated(value) {
		token, userID, ok := strings.Cut(pair, ":")
		token = strings.TrimSpace(token)
		userID = strings.TrimSpace(userID)
		if !ok || token == "" || userID == "" {
			continue
		}
		result[token] = userID
	}
	return result
}

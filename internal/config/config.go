package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string // "development", "testing" or "production"
	MongoURI    string

	// Auth
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	CookieName         string
	CookieDomain       string

	// LLM endpoint (OpenAI-compatible chat completions)
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	LLMTemperature float64
	LLMTopP        float64
	LLMTimeout     time.Duration
	LLMRequestsPerMinute int

	// Prompt overrides file (optional, hot-reloaded)
	PromptsPath string

	// Redis (optional - phase event fanout)
	RedisURL string

	// Cleanup jobs
	CleanupCron   string // cron expression, validated at startup
	RetentionDays int    // conversations of sessions ended this long ago are removed
	StaleSessionAfter time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3001"),
		Environment: getEnv("ENVIRONMENT", "development"),
		MongoURI:    getEnv("MONGODB_URI", "mongodb://localhost:27017/discourse"),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		AccessTokenExpiry:  getDurationEnv("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
		RefreshTokenExpiry: getDurationEnv("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
		CookieName:         getEnv("AUTH_COOKIE_NAME", "discourse_token"),
		CookieDomain:       getEnv("AUTH_COOKIE_DOMAIN", ""),

		LLMBaseURL:           getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:            getEnv("LLM_API_KEY", ""),
		LLMModel:             getEnv("LLM_MODEL", "gpt-4.1-mini"),
		LLMTemperature:       getFloatEnv("LLM_TEMPERATURE", 0.7),
		LLMTopP:              getFloatEnv("LLM_TOP_P", 1.0),
		LLMTimeout:           getDurationEnv("LLM_TIMEOUT", 120*time.Second),
		LLMRequestsPerMinute: getIntEnv("LLM_REQUESTS_PER_MINUTE", 120),

		PromptsPath: getEnv("PROMPTS_PATH", ""),

		RedisURL: getEnv("REDIS_URL", ""),

		CleanupCron:       getEnv("CLEANUP_CRON", "0 4 * * *"),
		RetentionDays:     getIntEnv("RETENTION_DAYS", 90),
		StaleSessionAfter: getDurationEnv("STALE_SESSION_AFTER", 24*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

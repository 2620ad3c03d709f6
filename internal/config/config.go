package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// AI providers
	AIProvider           string
	AIConcurrentReqs     int
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	ChatModel            string
	ImageModel           string
	GeminiAPIKey         string
	GeminiModel          string
	ChatMaxSteps         int
	ChatMaxDuration      time.Duration
	ImageRequestDuration time.Duration

	// Personas
	PersonaFile string

	// Tools
	HanRiverAPIURL string
	ToolCacheTTL   time.Duration

	// Storage
	StoragePath string

	// Workers
	WorkerCount int

	// Rate limiting
	RateLimitPerMinute int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		DatabaseURL:          mustGetEnv("DATABASE_URL"),
		RedisURL:             mustGetEnv("REDIS_URL"),
		JWTSecret:            mustGetEnv("JWT_SECRET"),
		AIProvider:           getEnvOrDefault("AI_PROVIDER", "openai"),
		AIConcurrentReqs:     getEnvAsIntOrDefault("AI_CONCURRENT_REQUESTS", 5),
		OpenAIAPIKey:         mustGetEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:        getEnvOrDefault("OPENAI_BASE_URL", ""),
		ChatModel:            getEnvOrDefault("CHAT_MODEL", "gpt-4o"),
		ImageModel:           getEnvOrDefault("IMAGE_MODEL", "gpt-image-1"),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		ChatMaxSteps:         getEnvAsIntOrDefault("CHAT_MAX_STEPS", 10),
		ChatMaxDuration:      getEnvAsDurationOrDefault("CHAT_MAX_DURATION", 30*time.Second),
		ImageRequestDuration: getEnvAsDurationOrDefault("IMAGE_REQUEST_DURATION", 2*time.Minute),
		PersonaFile:          getEnvOrDefault("PERSONA_FILE", ""),
		HanRiverAPIURL:       getEnvOrDefault("HANRIVER_API_URL", "https://api.hangang.life/"),
		ToolCacheTTL:         getEnvAsDurationOrDefault("TOOL_CACHE_TTL", 5*time.Minute),
		StoragePath:          getEnvOrDefault("STORAGE_PATH", "./uploads"),
		WorkerCount:          getEnvAsIntOrDefault("WORKER_COUNT", 3),
		RateLimitPerMinute:   getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 30),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}

	if cfg.AIProvider == "gemini" {
		cfg.GeminiAPIKey = mustGetEnv("GEMINI_API_KEY")
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsDurationOrDefault accepts Go duration strings ("30s", "5m") or a bare
// number of seconds.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

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
	// Server
	Port    string
	Env     string
	LogMode string

	// Storage backend for projects: "postgres" or "memory"
	Store string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Generation
	AIProvider           string
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int
	GenerationTimeout    time.Duration
	SimulatedDelay       time.Duration
	WorkerCount          int

	// Ingestion
	MaxUploadBytes int64

	// SMTP
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		LogMode:              getEnvOrDefault("LOG_MODE", "development"),
		Store:                strings.ToLower(getEnvOrDefault("STORE", "postgres")),
		RedisURL:             mustGetEnv("REDIS_URL"),
		JWTSecret:            mustGetEnv("JWT_SECRET"),
		AIProvider:           strings.ToLower(getEnvOrDefault("AI_PROVIDER", "simulated")),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		GenerationTimeout:    getEnvAsDurationOrDefault("GENERATION_TIMEOUT", 90*time.Second),
		SimulatedDelay:       getEnvAsDurationOrDefault("SIMULATED_DELAY", time.Second),
		WorkerCount:          getEnvAsIntOrDefault("WORKER_COUNT", 4),
		MaxUploadBytes:       int64(getEnvAsIntOrDefault("MAX_UPLOAD_BYTES", 10*1024*1024)),
		SMTPHost:             getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:             getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser:             getEnvOrDefault("SMTP_USER", ""),
		SMTPPass:             getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom:             getEnvOrDefault("SMTP_FROM", "noreply@kairon.app"),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	// Users and jobs always live in Postgres; the memory store only replaces projects.
	cfg.DatabaseURL = mustGetEnv("DATABASE_URL")

	if cfg.AIProvider == "gemini" {
		cfg.GeminiAPIKey = mustGetEnv("GEMINI_API_KEY")
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
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

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

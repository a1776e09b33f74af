package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the client.
type Config struct {
	Backend     string // "postgres", "sqlite" or "memory"
	DatabaseURL string
	SQLitePath  string
	Profile     string
	LogPath     string
	Debug       bool
}

// Load reads configuration from environment variables, falling back to
// a .env file in development.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Backend:     getEnv("VERDANT_BACKEND", ""),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  os.Getenv("VERDANT_SQLITE_PATH"),
		Profile:     getEnv("VERDANT_PROFILE", "default"),
		LogPath:     os.Getenv("VERDANT_LOG"),
		Debug:       os.Getenv("VERDANT_DEBUG") == "1",
	}

	// Unset, the backend follows what is configured: hosted Postgres
	// when DATABASE_URL is present, a local SQLite file otherwise.
	if cfg.Backend == "" {
		if cfg.DatabaseURL != "" {
			cfg.Backend = "postgres"
		} else {
			cfg.Backend = "sqlite"
		}
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

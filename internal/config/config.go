// Package config loads the engine's runtime configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration of the track engine daemon.
type Config struct {
	HTTPAddr            string
	DatabaseURL         string
	RedisAddr           string
	RedisPassword       string
	LogLevel            string
	LogFormat           string
	CheckRoundsSchedule string
	MigrationsPath      string
	SurveySourceURL     string
	SurveySourceKey     string
	RateLimitPerSecond  int
	RateLimitBurst      int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:            getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		LogFormat:           getenv("LOG_FORMAT", "json"),
		CheckRoundsSchedule: getenv("CHECK_ROUNDS_SCHEDULE", "0 3 * * *"),
		MigrationsPath:      getenv("MIGRATIONS_PATH", "migrations"),
		SurveySourceURL:     os.Getenv("SURVEY_SOURCE_URL"),
		SurveySourceKey:     os.Getenv("SURVEY_SOURCE_KEY"),
	}

	var err error
	if cfg.RateLimitPerSecond, err = getenvInt("RATE_LIMIT_PER_SECOND", 50); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = getenvInt("RATE_LIMIT_BURST", 100); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

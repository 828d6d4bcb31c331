// Package config loads process configuration from the environment, with
// the same fallback-and-log discipline as the teacher's internal/server/config.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"connectline/internal/db"
	redisClient "connectline/internal/redis"
)

// GetEnv returns an environment variable value or a fallback, exactly as
// the teacher's helper of the same name.
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("[CONFIG] invalid %s=%q, using default %d", key, raw, fallback)
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		log.Printf("[CONFIG] invalid %s=%q, using default %v", key, raw, fallback)
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// AllowedOrigins loads the WebSocket CORS allow-list the way the teacher's
// getAllowedOrigins does.
func AllowedOrigins() []string {
	originsEnv := os.Getenv("ALLOWED_ORIGINS")
	if originsEnv == "" {
		log.Println("[SECURITY] WARNING: ALLOWED_ORIGINS not set, defaulting to localhost:3000")
		return []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	parts := strings.Split(originsEnv, ",")
	trimmed := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed = append(trimmed, strings.TrimSpace(p))
	}
	return trimmed
}

// Config is the fully resolved process configuration.
type Config struct {
	ServerPort  string
	Environment string
	JWTSecret   string

	DB    db.Config
	Redis redisClient.Config

	// Session timing (spec.md §6.3 Defaults).
	MultiplayerDeadline time.Duration
	Countdown           time.Duration

	// Pathfinder / endpoint picker tuning (spec.md §4.2, §4.3).
	PathfinderDepth    int
	SolutionFanout     int
	EndpointAttempts   int

	// SPEC_FULL.md ambient additions.
	WaitingReadyTimeout time.Duration
	QueueEntryTTL       time.Duration
	RateLimitRPS        float64
	RateLimitBurst      int
}

// Load builds a Config from the environment, applying the same
// fallback-with-warning pattern used throughout the teacher's config code.
func Load() Config {
	driver := db.Driver(GetEnv("DB_DRIVER", "mysql"))

	return Config{
		ServerPort:  GetEnv("SERVER_PORT", "8080"),
		Environment: GetEnv("ENVIRONMENT", "development"),
		JWTSecret:   GetEnv("JWT_SECRET", "dev-secret-change-me"),

		DB: db.Config{
			Driver:   driver,
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "3306"),
			User:     GetEnv("DB_USER", "connectline"),
			Password: GetEnv("DB_PASSWORD", ""),
			DBName:   GetEnv("DB_NAME", "connectline"),
			DSN:      os.Getenv("DB_DSN"),
		},
		Redis: redisClient.Config{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},

		MultiplayerDeadline: getEnvDuration("GAME_DURATION_SECONDS", 60*time.Second),
		Countdown:           getEnvDuration("COUNTDOWN_SECONDS", 3*time.Second),

		PathfinderDepth:  getEnvInt("PATHFINDER_MAX_DEPTH", 5),
		SolutionFanout:   getEnvInt("SOLUTION_PATH_FANOUT", 3),
		EndpointAttempts: getEnvInt("ENDPOINT_PICK_ATTEMPTS", 50),

		WaitingReadyTimeout: getEnvDuration("WAITING_READY_TIMEOUT_SECONDS", 30*time.Second),
		QueueEntryTTL:       getEnvDuration("QUEUE_ENTRY_TTL_SECONDS", 120*time.Second),
		RateLimitRPS:        10.0,
		RateLimitBurst:      20,
	}
}

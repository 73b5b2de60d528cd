package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv         string
	Port           string
	AllowedOrigins string

	DatabaseURL string
	RedisURL    string

	JWTSecret string
	JWTTTL    time.Duration

	// Presence grace window before a user is reported offline.
	PresenceGrace time.Duration

	// Message send throttle (token bucket).
	SendBurst  int
	SendRefill time.Duration
}

func Load() (*Config, error) {
	// Don't fail if .env doesn't exist (might be prod env vars)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:5173"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		JWTSecret: getEnv("JWT_ACCESS_SECRET", "change-me"),
	}

	ttlMinutes, err := strconv.Atoi(getEnv("JWT_TTL_MINUTES", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL_MINUTES: %w", err)
	}
	cfg.JWTTTL = time.Duration(ttlMinutes) * time.Minute

	cfg.PresenceGrace, err = time.ParseDuration(getEnv("PRESENCE_GRACE", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRESENCE_GRACE: %w", err)
	}

	cfg.SendBurst, err = strconv.Atoi(getEnv("SEND_BURST", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid SEND_BURST: %w", err)
	}
	cfg.SendRefill, err = time.ParseDuration(getEnv("SEND_REFILL", "500ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid SEND_REFILL: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

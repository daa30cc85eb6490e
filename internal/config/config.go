// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all server configuration.
type Config struct {
	Port           string
	GRPCPort       string
	StoreBackend   string
	DBPath         string
	Redis          RedisConfig
	AllowedOrigins []string
	Room           RoomConfig
	Live           LiveConfig
}

// RedisConfig locates the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RoomConfig tunes room actors.
type RoomConfig struct {
	IdleTimeout      time.Duration
	EvictionInterval time.Duration
	MailboxSize      int
}

// LiveConfig tunes live sessions.
type LiveConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
	RateLimit    float64
	RateBurst    int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		GRPCPort:     getEnv("GRPC_PORT", "9090"),
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
		DBPath:       getEnv("DB_PATH", "./data/velocity.db"),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		Room: RoomConfig{
			IdleTimeout:      getEnvDuration("ROOM_IDLE_TIMEOUT", 10*time.Minute),
			EvictionInterval: getEnvDuration("ROOM_EVICTION_INTERVAL", time.Minute),
			MailboxSize:      getEnvInt("ROOM_MAILBOX_SIZE", 256),
		},
		Live: LiveConfig{
			SendBuffer:   getEnvInt("SESSION_BUFFER", 64),
			WriteTimeout: getEnvDuration("SESSION_WRITE_TIMEOUT", 5*time.Second),
			RateLimit:    getEnvFloat("WS_RATE_LIMIT", 10),
			RateBurst:    getEnvInt("WS_RATE_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be memory, sqlite or redis, got %q", c.StoreBackend)
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("CORS_ALLOWED_ORIGINS cannot be empty")
	}
	if c.Room.IdleTimeout <= 0 || c.Room.EvictionInterval <= 0 {
		return fmt.Errorf("ROOM_IDLE_TIMEOUT and ROOM_EVICTION_INTERVAL must be > 0")
	}
	if c.Room.MailboxSize <= 0 {
		return fmt.Errorf("ROOM_MAILBOX_SIZE must be > 0")
	}
	if c.Live.SendBuffer <= 0 {
		return fmt.Errorf("SESSION_BUFFER must be > 0")
	}
	if c.Live.WriteTimeout <= 0 {
		return fmt.Errorf("SESSION_WRITE_TIMEOUT must be > 0")
	}
	if c.Live.RateLimit <= 0 || c.Live.RateBurst <= 0 {
		return fmt.Errorf("WS_RATE_LIMIT and WS_RATE_BURST must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

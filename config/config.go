package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddr      string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration

	DatabaseURL      string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string

	JWTSecret string

	BroadcastCapacity int
	SearchThreshold   float64
	MaxMessageLength  int

	RedisURL         string
	IdentityCacheTTL time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, which has the signature of os.LookupEnv.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := &Config{
		ServerAddr:       get("SERVER_ADDR", ":3001"),
		AllowedOrigins:   splitCSV(get("ALLOWED_ORIGINS", "http://localhost:3000")),
		DatabaseURL:      get("DATABASE_URL", ""),
		DatabaseHost:     get("DATABASE_HOST", "localhost"),
		DatabasePort:     get("DATABASE_PORT", "5432"),
		DatabaseUser:     get("DATABASE_USER", "postgres"),
		DatabasePassword: get("DATABASE_PASSWORD", ""),
		DatabaseName:     get("DATABASE_NAME", "chat_server"),
		JWTSecret:        get("JWT_SECRET", ""),
		RedisURL:         get("REDIS_URL", ""),
	}

	var err error
	if cfg.BroadcastCapacity, err = strconv.Atoi(get("BROADCAST_CAPACITY", "1024")); err != nil || cfg.BroadcastCapacity < 1 {
		return nil, fmt.Errorf("invalid BROADCAST_CAPACITY: %q", get("BROADCAST_CAPACITY", ""))
	}
	if cfg.MaxMessageLength, err = strconv.Atoi(get("MAX_MESSAGE_LENGTH", "5000")); err != nil || cfg.MaxMessageLength < 1 {
		return nil, fmt.Errorf("invalid MAX_MESSAGE_LENGTH: %q", get("MAX_MESSAGE_LENGTH", ""))
	}
	if cfg.SearchThreshold, err = strconv.ParseFloat(get("CHAT_SEARCH_THRESHOLD", "0.2"), 64); err != nil || cfg.SearchThreshold < 0 || cfg.SearchThreshold > 1 {
		return nil, fmt.Errorf("invalid CHAT_SEARCH_THRESHOLD: %q", get("CHAT_SEARCH_THRESHOLD", ""))
	}
	if cfg.IdentityCacheTTL, err = time.ParseDuration(get("IDENTITY_CACHE_TTL", "5m")); err != nil {
		return nil, fmt.Errorf("invalid IDENTITY_CACHE_TTL: %v", err)
	}
	if cfg.ShutdownTimeout, err = time.ParseDuration(get("SHUTDOWN_TIMEOUT", "10s")); err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %v", err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}

	return cfg, nil
}

// DSN returns DATABASE_URL when set, otherwise a keyword/value connection
// string built from the DATABASE_* variables.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return "host=" + c.DatabaseHost + " port=" + c.DatabasePort + " user=" + c.DatabaseUser +
		" password=" + c.DatabasePassword + " database=" + c.DatabaseName
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

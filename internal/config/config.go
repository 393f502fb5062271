package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the planner service.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Cache  CacheConfig
	LLM    LLMConfig
	Auth   AuthConfig
	CORS   CORSConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

type StoreConfig struct {
	Backend     string // "memory" or "postgres"
	DSN         string
	MaxConns    int
	MaxLifetime time.Duration
	AutoMigrate bool
}

type CacheConfig struct {
	Backend   string // "memory" or "redis"
	RedisAddr string
	Prefix    string
	TTL       time.Duration
	// CleanupInterval is the memory backend's expiry sweep period.
	CleanupInterval time.Duration
	// LockTTL bounds the in-flight generation marker. Zero disables it.
	LockTTL  time.Duration
	LockWait time.Duration
}

type LLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration
	MaxRetries     int
	DefaultHeaders map[string]string
}

type AuthConfig struct {
	JWTSecret string
}

type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
}

// Load reads configuration from the environment, loading .env first when present.
func Load() (*Config, error) {
	// A missing .env is fine; real deployments inject env directly.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
			IdleTimeout:     getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout:  getDurationEnv("REQUEST_TIMEOUT", 110*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxBodyBytes:    int64(getIntEnv("MAX_BODY_BYTES", 512*1024)),
		},
		Store: StoreConfig{
			Backend:     strings.ToLower(getEnv("STORE_BACKEND", "memory")),
			DSN:         os.Getenv("DATABASE_URL"),
			MaxConns:    getIntEnv("DB_MAX_CONNS", 10),
			MaxLifetime: getDurationEnv("DB_MAX_LIFETIME", time.Hour),
			AutoMigrate: getBoolEnv("DB_AUTO_MIGRATE", true),
		},
		Cache: CacheConfig{
			Backend:         strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
			RedisAddr:       getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Prefix:          getEnv("CACHE_PREFIX", "wayfarer"),
			TTL:             getDurationEnv("CACHE_TTL", 10*time.Minute),
			CleanupInterval: getDurationEnv("CACHE_CLEANUP_INTERVAL", 5*time.Minute),
			LockTTL:         getDurationEnv("GENERATION_LOCK_TTL", 0),
			LockWait:        getDurationEnv("GENERATION_LOCK_WAIT", 45*time.Second),
		},
		LLM: LLMConfig{
			BaseURL:        getEnv("LLM_BASE_URL", "https://api.openai.com"),
			APIKey:         os.Getenv("LLM_API_KEY"),
			Model:          getEnv("LLM_MODEL", "gpt-4o-mini"),
			Temperature:    float32(getFloatEnv("LLM_TEMPERATURE", 0.7)),
			MaxTokens:      getIntEnv("LLM_MAX_TOKENS", 4000),
			Timeout:        getDurationEnv("LLM_TIMEOUT", 90*time.Second),
			MaxRetries:     getIntEnv("LLM_MAX_RETRIES", 0),
			DefaultHeaders: getHeadersEnv("LLM_DEFAULT_HEADERS"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("AUTH_JWT_SECRET"),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getStringSliceEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowCredentials: getBoolEnv("CORS_ALLOW_CREDENTIALS", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks combinations that cannot work at runtime.
// A missing LLM_API_KEY is not an error here: cache hits keep working and misses report it per request.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("LLM_TEMPERATURE must be between 0 and 2")
	}
	if c.LLM.MaxTokens <= 0 {
		return errors.New("LLM_MAX_TOKENS must be positive")
	}
	return nil
}

// LLMConfigured reports whether an upstream credential is present.
func (c *Config) LLMConfigured() bool {
	return c.LLM.APIKey != ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getStringSliceEnv(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// getHeadersEnv parses "Name: value; Other: value".
func getHeadersEnv(key string) map[string]string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(v, ";") {
		name, value, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers
}

package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	API      APIConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Mock     MockConfig
	Debug    bool
}

// APIConfig holds the backend endpoints and client-side request limits.
type APIConfig struct {
	BaseURL        string
	WSURL          string
	Timeout        time.Duration
	RateLimit      float64
	RateBurst      int
	MaxUploadBytes int64
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// DatabaseConfig holds the development backend's PostgreSQL settings. An
// empty URL keeps everything in memory.
type DatabaseConfig struct {
	URL      string
	MaxConns int
}

// Enabled reports whether a database URL was configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// MockConfig holds settings for the development backend.
type MockConfig struct {
	Addr         string
	CORSOrigins  []string
	StreamDelay  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Enabled reports whether a Redis address was configured.
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Load reads configuration from environment variables.
// Defaults target a backend running on localhost.
func Load() (*Config, error) {
	timeout, err := getEnvDuration("TOWD_HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateLimit, err := getEnvFloat("TOWD_RATE_LIMIT", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("TOWD_RATE_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxUpload, err := getEnvInt("TOWD_UPLOAD_MAX_BYTES", 10<<20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("TOWD_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("TOWD_DATABASE_MAX_CONNS", 4)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	debug, err := getEnvBool("TOWD_DEBUG", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	streamDelay, err := getEnvDuration("TOWD_MOCK_STREAM_DELAY", 40*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("TOWD_MOCK_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("TOWD_MOCK_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	baseURL := strings.TrimRight(getEnv("TOWD_API_URL", "http://localhost:8000"), "/")

	cfg := &Config{
		API: APIConfig{
			BaseURL:        baseURL,
			WSURL:          strings.TrimRight(getEnv("TOWD_WS_URL", ""), "/"),
			Timeout:        timeout,
			RateLimit:      rateLimit,
			RateBurst:      rateBurst,
			MaxUploadBytes: int64(maxUpload),
		},
		Redis: RedisConfig{
			Addr:     getEnv("TOWD_REDIS_ADDR", ""),
			Password: getEnv("TOWD_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Database: DatabaseConfig{
			URL:      getEnv("TOWD_DATABASE_URL", ""),
			MaxConns: dbMaxConns,
		},
		Mock: MockConfig{
			Addr:         getEnv("TOWD_MOCK_ADDR", ":8000"),
			CORSOrigins:  getEnvList("TOWD_MOCK_CORS_ORIGINS", []string{"http://localhost:5173"}),
			StreamDelay:  streamDelay,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		Debug: debug,
	}

	if cfg.API.WSURL == "" {
		cfg.API.WSURL = WebSocketURL(cfg.API.BaseURL)
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("TOWD_API_URL must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	w, err := url.Parse(c.API.WSURL)
	if err != nil || (w.Scheme != "ws" && w.Scheme != "wss") || w.Host == "" {
		return fmt.Errorf("TOWD_WS_URL must be an absolute ws(s) URL, got %q", c.API.WSURL)
	}

	// Bounds checks.
	if c.API.Timeout <= 0 {
		return fmt.Errorf("TOWD_HTTP_TIMEOUT must be positive, got %s", c.API.Timeout)
	}
	if c.API.RateLimit <= 0 {
		return fmt.Errorf("TOWD_RATE_LIMIT must be positive, got %g", c.API.RateLimit)
	}
	if c.API.RateBurst < 1 {
		return fmt.Errorf("TOWD_RATE_BURST must be >= 1, got %d", c.API.RateBurst)
	}
	if c.API.MaxUploadBytes < 1 {
		return errors.New("TOWD_UPLOAD_MAX_BYTES must be positive")
	}
	if c.Database.MaxConns < 1 || c.Database.MaxConns > math.MaxInt32 {
		return fmt.Errorf("TOWD_DATABASE_MAX_CONNS must be 1-%d, got %d", math.MaxInt32, c.Database.MaxConns)
	}
	if c.Mock.StreamDelay < 0 {
		return fmt.Errorf("TOWD_MOCK_STREAM_DELAY must not be negative, got %s", c.Mock.StreamDelay)
	}
	if c.Mock.ReadTimeout <= 0 {
		return fmt.Errorf("TOWD_MOCK_READ_TIMEOUT must be positive, got %s", c.Mock.ReadTimeout)
	}
	if c.Mock.WriteTimeout <= 0 {
		return fmt.Errorf("TOWD_MOCK_WRITE_TIMEOUT must be positive, got %s", c.Mock.WriteTimeout)
	}

	return nil
}

// WebSocketURL derives the push-channel base URL from an HTTP base URL.
func WebSocketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return httpURL
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Package config loads gateway settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Cache backends accepted in CACHE_BACKEND.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds every setting the gateway binary reads. Defaults come from
// the struct tags.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR,default=:8080"`

	WordPressURL         string        `env:"WORDPRESS_URL,required"`
	WordPressUsername    string        `env:"WORDPRESS_USERNAME,required"`
	WordPressAppPassword string        `env:"WORDPRESS_APP_PASSWORD,required"`
	WordPressInsecureTLS bool          `env:"WORDPRESS_INSECURE_SKIP_VERIFY,default=false"`
	WordPressTimeout     time.Duration `env:"WORDPRESS_TIMEOUT,default=20s"`
	CallTimeout          time.Duration `env:"CALL_TIMEOUT,default=30s"`
	SessionIdleTTL       time.Duration `env:"SESSION_IDLE_TTL,default=30m"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD,default=10s"`
	StreamKeepAlive      time.Duration `env:"STREAM_KEEPALIVE,default=25s"`

	CacheBackend string        `env:"CACHE_BACKEND,default=none"`
	CacheTTL     time.Duration `env:"CACHE_TTL,default=1m"`
	CacheSize    int           `env:"CACHE_SIZE,default=1024"`
	RedisAddr    string        `env:"REDIS_ADDR,default=localhost:6379"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

// LoadDotEnv loads variables from path without overriding ones already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load decodes the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.CacheBackend {
	case CacheNone, CacheMemory, CacheRedis:
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be one of none, memory, redis (got %q)", c.CacheBackend))
	}
	if c.CacheBackend == CacheMemory && c.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_SIZE must be positive (got %d)", c.CacheSize))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text (got %q)", c.LogFormat))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CALL_TIMEOUT must be positive (got %s)", c.CallTimeout))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	return lvl, nil
}

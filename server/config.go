package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	PublicURL string `yaml:"public_url"`
}

func (c S3Config) enabled() bool { return c.Endpoint != "" && c.Bucket != "" }

type Config struct {
	Addr            string        `yaml:"addr"`
	DatabaseURL     string        `yaml:"database_url"`
	LogLevel        string        `yaml:"log_level"`
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	CookieName      string        `yaml:"cookie_name"`
	CookieSecure    bool          `yaml:"cookie_secure"`
	CookieSameSite  string        `yaml:"cookie_same_site"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReorderMode     string        `yaml:"reorder_mode"`
	ReorderTimeout  time.Duration `yaml:"reorder_timeout"`
	CursorRate      float64       `yaml:"cursor_rate"`
	CursorBurst     int           `yaml:"cursor_burst"`
	RedisURL        string        `yaml:"redis_url"`
	ActivityBackend string        `yaml:"activity_backend"`
	MongoURL        string        `yaml:"mongo_url"`
	MongoDatabase   string        `yaml:"mongo_database"`
	S3              S3Config      `yaml:"s3"`
}

func defaultConfig() Config {
	return Config{
		Addr:            ":8080",
		DatabaseURL:     "postgres://postgres:postgres@db:5432/epitrello?sslmode=disable",
		LogLevel:        "info",
		JWTSecret:       "dev-secret-change-me",
		TokenTTL:        7 * 24 * time.Hour,
		CookieName:      "epitrello_token",
		CookieSameSite:  "lax",
		ReorderMode:     string(reindexStaged),
		ReorderTimeout:  10 * time.Second,
		CursorRate:      20,
		CursorBurst:     10,
		ActivityBackend: "postgres",
		MongoDatabase:   "epitrello",
	}
}

// LoadConfig layers defaults, then the YAML file at path (if any), then the
// environment.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.Addr = getenv("ADDR", c.Addr)
	c.DatabaseURL = getenv("DATABASE_URL", c.DatabaseURL)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.JWTSecret = getenv("JWT_SECRET", c.JWTSecret)
	c.CookieName = getenv("SESSION_COOKIE_NAME", c.CookieName)
	c.CookieSameSite = getenv("COOKIE_SAMESITE", c.CookieSameSite)
	c.ReorderMode = getenv("REORDER_MODE", c.ReorderMode)
	c.RedisURL = getenv("REDIS_URL", c.RedisURL)
	c.ActivityBackend = getenv("ACTIVITY_BACKEND", c.ActivityBackend)
	c.MongoURL = getenv("MONGO_URL", c.MongoURL)
	c.MongoDatabase = getenv("MONGO_DATABASE", c.MongoDatabase)
	c.S3.Endpoint = getenv("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKey = getenv("S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = getenv("S3_SECRET_KEY", c.S3.SecretKey)
	c.S3.Bucket = getenv("S3_BUCKET", c.S3.Bucket)
	c.S3.PublicURL = getenv("S3_PUBLIC_URL", c.S3.PublicURL)
	if v := getenv("CORS_ORIGINS", ""); v != "" {
		c.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}

	var errs []error
	envDuration := func(key string, dst *time.Duration) {
		if v := getenv(key, ""); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	envBool := func(key string, dst *bool) {
		if v := getenv(key, ""); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	envDuration("TOKEN_TTL", &c.TokenTTL)
	envDuration("REORDER_TIMEOUT", &c.ReorderTimeout)
	envBool("COOKIE_SECURE", &c.CookieSecure)
	envBool("S3_USE_SSL", &c.S3.UseSSL)
	if v := getenv("CURSOR_RATE", ""); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CURSOR_RATE: %w", err))
		} else {
			c.CursorRate = f
		}
	}
	if v := getenv("CURSOR_BURST", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CURSOR_BURST: %w", err))
		} else {
			c.CursorBurst = n
		}
	}
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	switch reindexMode(c.ReorderMode) {
	case reindexStaged, reindexTx:
	default:
		errs = append(errs, fmt.Errorf("reorder_mode must be staged or tx, got %q", c.ReorderMode))
	}
	switch c.ActivityBackend {
	case "postgres":
	case "mongo":
		if c.MongoURL == "" {
			errs = append(errs, errors.New("activity_backend mongo requires mongo_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("activity_backend must be postgres or mongo, got %q", c.ActivityBackend))
	}
	if c.ReorderTimeout <= 0 {
		errs = append(errs, errors.New("reorder_timeout must be positive"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token_ttl must be positive"))
	}
	if c.CursorRate <= 0 {
		errs = append(errs, errors.New("cursor_rate must be positive"))
	}
	if c.CursorBurst <= 0 {
		errs = append(errs, errors.New("cursor_burst must be positive"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	return errors.Join(errs...)
}

func (c Config) slogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

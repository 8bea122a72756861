// Package config reads the server's settings from the environment, after
// loading a .env file when one is present.
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

type Config struct {
	Environment    string
	Port           string
	DatabaseURL    string
	JWTSecret      string
	AllowedOrigins []string

	GeminiAPIKey      string
	GeminiModel       string
	GenerationTimeout time.Duration
	MessageCacheSize  int

	LifecycleWorkers int
	LifecyclePacing  float64
	RequestIDPrefix  string

	RedisURL string

	FirebaseCredentialsBase64 string
	FirebaseCredentialsFile   string
	FirebaseStorageBucket     string

	GoogleMapsAPIKey string
}

// Load reads .env (if present) and the process environment. The returned
// bool reports whether a .env file was loaded.
func Load() (*Config, bool, error) {
	loaded := godotenv.Load() == nil
	cfg, err := FromEnv(os.Getenv)
	return cfg, loaded, err
}

// FromEnv builds a Config from getenv. All parse errors are reported together.
func FromEnv(getenv func(string) string) (*Config, error) {
	var errs []error
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	getInt := func(key string, def int) int {
		v := get(key, "")
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return n
	}
	getFloat := func(key string, def float64) float64 {
		v := get(key, "")
		if v == "" {
			return def
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return f
	}
	getDuration := func(key string, def time.Duration) time.Duration {
		v := get(key, "")
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			// plain seconds are accepted too
			secs, ferr := strconv.ParseFloat(v, 64)
			if ferr != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return def
			}
			d = time.Duration(secs * float64(time.Second))
		}
		return d
	}

	cfg := &Config{
		Environment:               get("ENVIRONMENT", "production"),
		Port:                      get("PORT", "8080"),
		DatabaseURL:               get("DATABASE_URL", ""),
		JWTSecret:                 get("APP_JWT_SECRET", ""),
		AllowedOrigins:            splitList(get("ALLOWED_ORIGINS", "*")),
		GeminiAPIKey:              get("GEMINI_API_KEY", ""),
		GeminiModel:               get("GEMINI_MODEL", ""),
		GenerationTimeout:         getDuration("GENERATION_TIMEOUT", 12*time.Second),
		MessageCacheSize:          getInt("MESSAGE_CACHE_SIZE", 512),
		LifecycleWorkers:          getInt("LIFECYCLE_WORKERS", 4),
		LifecyclePacing:           getFloat("LIFECYCLE_PACING", 1.0),
		RequestIDPrefix:           get("REQUEST_ID_PREFIX", "WR"),
		RedisURL:                  get("REDIS_URL", ""),
		FirebaseCredentialsBase64: get("FIREBASE_CREDENTIALS_BASE64", ""),
		FirebaseCredentialsFile:   get("FIREBASE_CREDENTIALS_FILE", ""),
		FirebaseStorageBucket:     get("FIREBASE_STORAGE_BUCKET", ""),
		GoogleMapsAPIKey:          get("GOOGLE_MAPS_API_KEY", ""),
	}

	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL environment variable is required"))
	}
	if cfg.JWTSecret == "" && !cfg.IsDevelopment() {
		errs = append(errs, errors.New("APP_JWT_SECRET environment variable is required"))
	}
	if cfg.LifecycleWorkers < 1 {
		errs = append(errs, fmt.Errorf("LIFECYCLE_WORKERS must be at least 1, got %d", cfg.LifecycleWorkers))
	}
	if cfg.LifecyclePacing < 0 {
		errs = append(errs, fmt.Errorf("LIFECYCLE_PACING must not be negative, got %g", cfg.LifecyclePacing))
	}
	if cfg.GenerationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("GENERATION_TIMEOUT must be positive, got %s", cfg.GenerationTimeout))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dharani-development-secret"
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

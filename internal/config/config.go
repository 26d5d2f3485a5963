// Package config reads the server's settings from the environment.
//
// Values come from process environment variables. A .env file in the working
// directory (or one of its two parents) is loaded first if present; variables
// already set in the environment win over the file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPort           = 7000
	DefaultDBPath         = "data/users.db"
	DefaultTemplateDir    = "web/templates"
	DefaultStaticDir      = "web/static"
	DefaultCookieTTL      = 24 * time.Hour
	DefaultBcryptCost     = 12
	DefaultMaxUploadBytes = 10 << 20

	minCookieSecretLen = 16
	minBcryptCost      = 4
	maxBcryptCost      = 31
)

// Config is everything cmd/server needs to build the server.
type Config struct {
	Port        int
	DatabaseURL string // postgres DSN; empty selects sqlite
	DBPath      string
	TemplateDir string
	StaticDir   string

	CookieSecret          string
	CookieSecretGenerated bool // true when COOKIE_SECRET was unset
	CookieTTL             time.Duration
	CookieSecure          bool

	BcryptCost         int
	CORSAllowedOrigins []string
	LogLevel           slog.Level
	MaxUploadBytes     int64
}

// UsesPostgres reports whether the postgres store should be used.
func (c Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

// LoadDotenv loads the first .env file found in the working directory or its
// two parents. A missing file is not an error.
func LoadDotenv() (string, error) {
	for _, p := range []string{".env", filepath.Join("..", ".env"), filepath.Join("..", "..", ".env")} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return "", fmt.Errorf("config: loading %s: %w", p, err)
		}
		return p, nil
	}
	return "", nil
}

// Load builds a Config from the environment. It does not read .env files;
// call LoadDotenv first for that.
func Load() (Config, error) {
	cfg := Config{
		Port:           DefaultPort,
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBPath:         envOr("DB_PATH", DefaultDBPath),
		TemplateDir:    envOr("TEMPLATE_DIR", DefaultTemplateDir),
		StaticDir:      envOr("STATIC_DIR", DefaultStaticDir),
		CookieSecret:   os.Getenv("COOKIE_SECRET"),
		CookieTTL:      DefaultCookieTTL,
		BcryptCost:     DefaultBcryptCost,
		LogLevel:       slog.LevelInfo,
		MaxUploadBytes: DefaultMaxUploadBytes,
	}

	var errs []error

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("PORT: invalid value %q", v))
		} else {
			cfg.Port = port
		}
	}

	if v := os.Getenv("COOKIE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			errs = append(errs, fmt.Errorf("COOKIE_TTL: invalid duration %q", v))
		} else {
			cfg.CookieTTL = ttl
		}
	}

	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("COOKIE_SECURE: invalid bool %q", v))
		} else {
			cfg.CookieSecure = secure
		}
	}

	if v := os.Getenv("BCRYPT_COST"); v != "" {
		cost, err := strconv.Atoi(v)
		if err != nil || cost < minBcryptCost || cost > maxBcryptCost {
			errs = append(errs, fmt.Errorf("BCRYPT_COST: must be an integer in [%d, %d], got %q",
				minBcryptCost, maxBcryptCost, v))
		} else {
			cfg.BcryptCost = cost
		}
	}

	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES: invalid value %q", v))
		} else {
			cfg.MaxUploadBytes = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("LOG_LEVEL: invalid level %q", v))
		}
	}

	for _, origin := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}

	switch {
	case cfg.CookieSecret == "":
		secret, err := randomSecret()
		if err != nil {
			errs = append(errs, err)
		}
		cfg.CookieSecret = secret
		cfg.CookieSecretGenerated = true
	case len(cfg.CookieSecret) < minCookieSecretLen:
		errs = append(errs, fmt.Errorf("COOKIE_SECRET: must be at least %d characters", minCookieSecretLen))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// randomSecret is used when no COOKIE_SECRET is configured. Cookies signed
// with it stop validating when the process restarts.
func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("COOKIE_SECRET: generating random secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"loginguard/internal/throttle"
)

const (
	AuditSinkLog      = "log"
	AuditSinkPostgres = "postgres"
	AuditSinkSQLite   = "sqlite"
	AuditSinkRedis    = "redis"
)

type Config struct {
	Env          string
	Addr         string
	PublicURL    *url.URL
	DBDSN        string
	CookieSecret string
	SessionTTL   time.Duration
	LogLevel     string
	AdminEmails  []string
	CORSOrigins  []string

	ThrottleWindow        time.Duration
	ThrottleMaxAttempts   int
	ThrottleSweepInterval time.Duration

	AuditSinks       []string
	AuditSQLitePath  string
	AuditRetention   time.Duration
	AuditRedisStream string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	GoogleWebClientID string
	AppleServiceID    string

	AdminBootstrapEmail    string
	AdminBootstrapUsername string
	AdminBootstrapPassword string
}

// Load reads .env from the working directory (if present) and then the
// process environment. Variables already set in the environment win.
func Load() (Config, error) {
	if err := loadDotEnvFile(".env", os.Setenv, os.Getenv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf(".env: %w", err)
	}
	return LoadFromEnv(os.Getenv)
}

func LoadFromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Env:          getenv("APP_ENV"),
		Addr:         getenv("APP_ADDR"),
		DBDSN:        getenv("APP_DB_DSN"),
		LogLevel:     getenv("APP_LOG_LEVEL"),
		CookieSecret: getenv("APP_COOKIE_SECRET"),
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}

	publicURLRaw := getenv("APP_PUBLIC_URL")
	if publicURLRaw != "" {
		parsed, err := url.Parse(publicURLRaw)
		if err != nil {
			return Config{}, fmt.Errorf("APP_PUBLIC_URL: %w", err)
		}
		if !parsed.IsAbs() || parsed.Host == "" {
			return Config{}, errors.New("APP_PUBLIC_URL: must be an absolute URL")
		}
		switch parsed.Scheme {
		case "http", "https":
		default:
			return Config{}, errors.New("APP_PUBLIC_URL: scheme must be http or https")
		}
		cfg.PublicURL = parsed
	}

	ttl, err := durationEnv(getenv, "APP_SESSION_TTL", 30*24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	if ttl <= 0 {
		return Config{}, errors.New("APP_SESSION_TTL: must be > 0")
	}
	cfg.SessionTTL = ttl

	switch cfg.Env {
	case "dev", "prod", "test":
	default:
		return Config{}, errors.New("APP_ENV: must be one of dev, test, prod")
	}

	cfg.ThrottleWindow, err = durationEnv(getenv, "APP_THROTTLE_WINDOW", throttle.DefaultWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.ThrottleMaxAttempts, err = intEnv(getenv, "APP_THROTTLE_MAX_ATTEMPTS", throttle.DefaultMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ThrottleConfig().Validate(); err != nil {
		return Config{}, fmt.Errorf("APP_THROTTLE_*: %w", err)
	}
	cfg.ThrottleSweepInterval, err = durationEnv(getenv, "APP_THROTTLE_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	if cfg.ThrottleSweepInterval < 0 {
		return Config{}, errors.New("APP_THROTTLE_SWEEP_INTERVAL: must be >= 0")
	}

	cfg.AuditSinks = parseCSV(getenv("APP_AUDIT_SINKS"))
	if len(cfg.AuditSinks) == 0 {
		cfg.AuditSinks = []string{AuditSinkLog}
	}
	for _, s := range cfg.AuditSinks {
		switch s {
		case AuditSinkLog, AuditSinkPostgres, AuditSinkSQLite, AuditSinkRedis:
		default:
			return Config{}, fmt.Errorf("APP_AUDIT_SINKS: unknown sink %q", s)
		}
	}
	cfg.AuditSQLitePath = getenv("APP_AUDIT_SQLITE_PATH")
	if cfg.AuditSQLitePath == "" {
		cfg.AuditSQLitePath = "data/audit.db"
	}
	cfg.AuditRetention, err = durationEnv(getenv, "APP_AUDIT_RETENTION", 90*24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	if cfg.AuditRetention < 0 {
		return Config{}, errors.New("APP_AUDIT_RETENTION: must be >= 0")
	}
	cfg.AuditRedisStream = getenv("APP_AUDIT_REDIS_STREAM")
	if cfg.AuditRedisStream == "" {
		cfg.AuditRedisStream = "loginguard:security"
	}
	cfg.RedisAddr = strings.TrimSpace(getenv("APP_REDIS_ADDR"))
	cfg.RedisPassword = getenv("APP_REDIS_PASSWORD")
	cfg.RedisDB, err = intEnv(getenv, "APP_REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	if cfg.HasAuditSink(AuditSinkRedis) && cfg.RedisAddr == "" {
		return Config{}, errors.New("APP_REDIS_ADDR: required when APP_AUDIT_SINKS includes redis")
	}
	if cfg.HasAuditSink(AuditSinkPostgres) && cfg.DBDSN == "" {
		return Config{}, errors.New("APP_DB_DSN: required when APP_AUDIT_SINKS includes postgres")
	}

	cfg.CORSOrigins = parseCSV(getenv("APP_CORS_ORIGINS"))
	cfg.GoogleWebClientID = strings.TrimSpace(getenv("APP_GOOGLE_CLIENT_ID"))
	cfg.AppleServiceID = strings.TrimSpace(getenv("APP_APPLE_SERVICE_ID"))

	cfg.AdminEmails = parseCSV(getenv("APP_ADMIN_EMAILS"))
	cfg.AdminBootstrapEmail = strings.TrimSpace(strings.ToLower(getenv("APP_ADMIN_BOOTSTRAP_EMAIL")))
	cfg.AdminBootstrapUsername = strings.TrimSpace(getenv("APP_ADMIN_BOOTSTRAP_USERNAME"))
	cfg.AdminBootstrapPassword = getenv("APP_ADMIN_BOOTSTRAP_PASSWORD")

	if cfg.AdminBootstrapPassword != "" && cfg.AdminBootstrapEmail == "" {
		return Config{}, errors.New("APP_ADMIN_BOOTSTRAP_EMAIL: required when APP_ADMIN_BOOTSTRAP_PASSWORD is set")
	}
	if cfg.AdminBootstrapPassword != "" && cfg.AdminBootstrapUsername == "" {
		cfg.AdminBootstrapUsername = "admin"
	}
	if cfg.AdminBootstrapEmail != "" && !contains(cfg.AdminEmails, cfg.AdminBootstrapEmail) {
		cfg.AdminEmails = append(cfg.AdminEmails, cfg.AdminBootstrapEmail)
	}

	if cfg.IsProd() {
		if cfg.PublicURL == nil {
			return Config{}, errors.New("APP_PUBLIC_URL: required in prod")
		}
		if cfg.DBDSN == "" {
			return Config{}, errors.New("APP_DB_DSN: required in prod")
		}
		if len(cfg.CookieSecret) < 32 {
			return Config{}, errors.New("APP_COOKIE_SECRET: must be at least 32 bytes in prod")
		}
	}

	return cfg, nil
}

func (c Config) IsProd() bool { return c.Env == "prod" }

func (c Config) CookieSecure() bool {
	if c.PublicURL != nil {
		return c.PublicURL.Scheme == "https"
	}
	return c.IsProd()
}

func (c Config) ThrottleConfig() throttle.Config {
	return throttle.Config{Window: c.ThrottleWindow, MaxAttempts: c.ThrottleMaxAttempts}
}

func (c Config) HasAuditSink(name string) bool {
	return contains(c.AuditSinks, name)
}

// loadDotEnvFile applies KEY=VALUE lines from path without overriding
// variables that are already set.
func loadDotEnvFile(path string, setenv func(string, string) error, getenv func(string) string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		if key == "" || value == "" {
			continue
		}
		if getenv(key) != "" {
			continue
		}
		if err := setenv(key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return sc.Err()
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func durationEnv(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(getenv func(string) string, key string, def int) (int, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func parseCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func contains(ss []string, needle string) bool {
	for _, s := range ss {
		if s == needle {
			return true
		}
	}
	return false
}

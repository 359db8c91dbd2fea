package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string

	DocstoreDriver    string
	DocstoreDSN       string
	DBPath            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	MigrationsDir     string

	SessionCookieName   string
	SessionIdleMinutes  int
	SessionAbsoluteHour int
	CSRFCookieName      string
	CookieSecure        bool
	TrustProxy          bool
	CORSAllowedOrigins  []string

	PasswordMinLength  int
	PasswordMaxLength  int
	LoginMaxFailures   int
	LoginFailureWindow time.Duration
	SignupDisabled     bool

	LocalStateBackend string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	LocalStateTTL     time.Duration

	GateRecheckInterval time.Duration
	LoginPages          []string

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int

	BootstrapAdminEmail    string
	BootstrapAdminPassword string

	PasswordResetSender  string
	PasswordResetFrom    string
	PasswordResetBaseURL string
	SMTPHost             string
	SMTPPort             int

	OTLPEndpoint string
	OTLPInsecure bool
	ServiceName  string
}

func Load() (Config, error) {
	cfg := Config{
		ListenAddr:               env("LISTEN_ADDR", ":8080"),
		DocstoreDriver:           strings.ToLower(env("DOCSTORE_DRIVER", "sqlite")),
		DocstoreDSN:              env("DOCSTORE_DSN", ""),
		DBPath:                   env("APP_DB_PATH", "./data/app.db"),
		DBMaxOpenConns:           envInt("APP_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           envInt("APP_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(envInt("APP_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		MigrationsDir:            env("MIGRATIONS_DIR", "./migrations"),
		SessionCookieName:        env("SESSION_COOKIE_NAME", "quotegate_session"),
		SessionIdleMinutes:       envInt("SESSION_IDLE_MINUTES", 30),
		SessionAbsoluteHour:      envInt("SESSION_ABSOLUTE_HOURS", 24),
		CSRFCookieName:           env("CSRF_COOKIE_NAME", "quotegate_csrf"),
		CookieSecure:             envBool("COOKIE_SECURE", false),
		TrustProxy:               envBool("TRUST_PROXY", false),
		CORSAllowedOrigins:       envCSV("CORS_ALLOWED_ORIGINS"),
		PasswordMinLength:        envInt("PASSWORD_MIN_LENGTH", 6),
		PasswordMaxLength:        envInt("PASSWORD_MAX_LENGTH", 128),
		LoginMaxFailures:         envInt("LOGIN_MAX_FAILURES", 5),
		LoginFailureWindow:       envDuration("LOGIN_FAILURE_WINDOW", 15*time.Minute),
		SignupDisabled:           envBool("SIGNUP_DISABLED", false),
		LocalStateBackend:        strings.ToLower(env("LOCAL_STATE_BACKEND", "sql")),
		RedisAddr:                env("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:            env("REDIS_PASSWORD", ""),
		RedisDB:                  envInt("REDIS_DB", 0),
		LocalStateTTL:            envDuration("LOCAL_STATE_TTL", 7*24*time.Hour),
		GateRecheckInterval:      envDuration("GATE_RECHECK_INTERVAL", 5*time.Second),
		LoginPages:               envCSV("LOGIN_PAGES"),
		HTTPReadTimeoutSec:       envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      envInt("HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:       envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
		BootstrapAdminEmail:      env("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword:   env("BOOTSTRAP_ADMIN_PASSWORD", ""),
		PasswordResetSender:      strings.ToLower(env("PASSWORD_RESET_SENDER", "log")),
		PasswordResetFrom:        env("PASSWORD_RESET_FROM", "noreply@example.com"),
		PasswordResetBaseURL:     env("PASSWORD_RESET_BASE_URL", ""),
		SMTPHost:                 env("SMTP_HOST", "127.0.0.1"),
		SMTPPort:                 envInt("SMTP_PORT", 587),
		OTLPEndpoint:             env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:             envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:              env("OTEL_SERVICE_NAME", "quotegate"),
	}

	if cfg.SessionIdleMinutes <= 0 || cfg.SessionAbsoluteHour <= 0 {
		return Config{}, fmt.Errorf("session timeouts must be positive")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	switch cfg.DocstoreDriver {
	case "sqlite", "memory":
	case "mysql", "pgx", "postgres":
		if strings.TrimSpace(cfg.DocstoreDSN) == "" {
			return Config{}, fmt.Errorf("DOCSTORE_DSN is required for DOCSTORE_DRIVER=%s", cfg.DocstoreDriver)
		}
	default:
		return Config{}, fmt.Errorf("DOCSTORE_DRIVER must be one of: sqlite, mysql, pgx, memory")
	}
	switch cfg.LocalStateBackend {
	case "sql", "memory":
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return Config{}, fmt.Errorf("REDIS_ADDR is required when LOCAL_STATE_BACKEND=redis")
		}
	default:
		return Config{}, fmt.Errorf("LOCAL_STATE_BACKEND must be one of: sql, redis, memory")
	}
	if cfg.PasswordMinLength < 6 {
		return Config{}, fmt.Errorf("password min length must be >= 6")
	}
	if cfg.PasswordMaxLength < cfg.PasswordMinLength {
		return Config{}, fmt.Errorf("password max length must be >= min length")
	}
	if cfg.LoginMaxFailures <= 0 || cfg.LoginFailureWindow <= 0 {
		return Config{}, fmt.Errorf("login throttling values must be positive")
	}
	if cfg.GateRecheckInterval <= 0 {
		return Config{}, fmt.Errorf("GATE_RECHECK_INTERVAL must be positive")
	}
	if cfg.SMTPPort <= 0 {
		return Config{}, fmt.Errorf("invalid SMTP port")
	}
	if !cfg.CookieSecure && !isLocalListen(cfg.ListenAddr) {
		return Config{}, fmt.Errorf("COOKIE_SECURE=false is allowed only for local listen addresses")
	}
	return cfg, nil
}

func (c Config) SessionIdleDuration() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

func (c Config) SessionAbsoluteDuration() time.Duration {
	return time.Duration(c.SessionAbsoluteHour) * time.Hour
}

// DocstoreTarget returns the driver and dsn for the SQL database. sqlite
// and memory both use the APP_DB_PATH file for accounts and local state.
func (c Config) DocstoreTarget() (driver, dsn string) {
	switch c.DocstoreDriver {
	case "mysql":
		return "mysql", c.DocstoreDSN
	case "pgx", "postgres":
		return "pgx", c.DocstoreDSN
	default:
		if c.DocstoreDSN != "" {
			return "sqlite", c.DocstoreDSN
		}
		return "sqlite", c.DBPath
	}
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

// envDuration accepts Go durations ("5s") or bare seconds ("5").
func envDuration(k string, d time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return d
	}
	return dur
}

func envCSV(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isLocalListen(addr string) bool {
	a := strings.ToLower(strings.TrimSpace(addr))
	return strings.Contains(a, "127.0.0.1") || strings.Contains(a, "localhost") || strings.Contains(a, "[::1]") || strings.HasPrefix(a, ":")
}

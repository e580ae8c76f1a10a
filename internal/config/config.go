package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string

	DirectoryBaseURL       string
	DirectoryTimeoutSec    int
	DirectorySessionCookie string
	DirectorySessionToken  string
	LoginPath              string

	QueryGCTimeSec       int
	QueryFetchTimeoutSec int

	PasswordMinLength  int
	DefaultDisplayName string

	DBDriver          string
	DBDSN             string
	DBPath            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	CORSAllowedOrigins []string
	TrustProxy         bool

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int

	LogLevel  string
	LogFormat string
}

func Load() (Config, error) {
	cfg := Config{
		ListenAddr:               env("LISTEN_ADDR", "127.0.0.1:8090"),
		DirectoryBaseURL:         strings.TrimRight(env("DIRECTORY_BASE_URL", "http://127.0.0.1:3000"), "/"),
		DirectoryTimeoutSec:      envInt("DIRECTORY_TIMEOUT_SEC", 15),
		DirectorySessionCookie:   env("DIRECTORY_SESSION_COOKIE", "next-auth.session-token"),
		DirectorySessionToken:    env("DIRECTORY_SESSION_TOKEN", ""),
		LoginPath:                env("LOGIN_PATH", "/"),
		QueryGCTimeSec:           envInt("QUERY_GC_TIME_SEC", 300),
		QueryFetchTimeoutSec:     envInt("QUERY_FETCH_TIMEOUT_SEC", 20),
		PasswordMinLength:        envInt("PASSWORD_MIN_LENGTH", 6),
		DefaultDisplayName:       env("DEFAULT_DISPLAY_NAME", "Admin User"),
		DBDriver:                 strings.ToLower(env("APP_DB_DRIVER", "sqlite")),
		DBDSN:                    env("APP_DB_DSN", ""),
		DBPath:                   env("APP_DB_PATH", "./data/console.db"),
		DBMaxOpenConns:           envInt("APP_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           envInt("APP_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(envInt("APP_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		CORSAllowedOrigins:       envCSV("CORS_ALLOWED_ORIGINS"),
		TrustProxy:               envBool("TRUST_PROXY", false),
		HTTPReadTimeoutSec:       envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      envInt("HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:       envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
		LogLevel:                 strings.ToLower(env("LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(env("LOG_FORMAT", "json")),
	}

	u, err := url.Parse(cfg.DirectoryBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("DIRECTORY_BASE_URL must be an absolute http(s) URL")
	}
	if cfg.DirectoryTimeoutSec <= 0 || cfg.QueryFetchTimeoutSec <= 0 {
		return Config{}, fmt.Errorf("directory and fetch timeouts must be positive")
	}
	if cfg.QueryGCTimeSec < 0 {
		return Config{}, fmt.Errorf("QUERY_GC_TIME_SEC must not be negative")
	}
	if cfg.PasswordMinLength < 1 {
		return Config{}, fmt.Errorf("password min length must be >= 1")
	}
	if !strings.HasPrefix(cfg.LoginPath, "/") {
		return Config{}, fmt.Errorf("LOGIN_PATH must start with /")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	switch cfg.DBDriver {
	case "sqlite":
	case "pgx", "postgres", "mysql":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return Config{}, fmt.Errorf("APP_DB_DSN is required when APP_DB_DRIVER=%s", cfg.DBDriver)
		}
	default:
		return Config{}, fmt.Errorf("APP_DB_DRIVER must be one of: sqlite, pgx, postgres, mysql")
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	if strings.TrimSpace(cfg.DefaultDisplayName) == "" {
		cfg.DefaultDisplayName = "Admin User"
	}
	return cfg, nil
}

func (c Config) DirectoryTimeout() time.Duration {
	return time.Duration(c.DirectoryTimeoutSec) * time.Second
}

func (c Config) QueryGCTime() time.Duration {
	return time.Duration(c.QueryGCTimeSec) * time.Second
}

func (c Config) QueryFetchTimeout() time.Duration {
	return time.Duration(c.QueryFetchTimeoutSec) * time.Second
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

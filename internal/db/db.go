package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// Dialect maps a configured driver name to the SQL dialect it speaks.
func Dialect(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "pgx", "postgres", "postgresql":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	}
	return "", fmt.Errorf("unsupported db driver %q", driver)
}

// Open connects to the preference store. sqlitePath is used only for the
// sqlite dialect; dsn for the others.
func Open(ctx context.Context, driver, dsn, sqlitePath string, pool Pool) (*sql.DB, string, error) {
	dialect, err := Dialect(driver)
	if err != nil {
		return nil, "", err
	}
	var db *sql.DB
	switch dialect {
	case DialectSQLite:
		db, err = openSQLite(sqlitePath)
	case DialectPostgres:
		db, err = openPostgres(dsn)
	case DialectMySQL:
		db, err = openMySQL(dsn)
	}
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", dialect, err)
	}
	return db, dialect, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	return sql.Open("sqlite", dsn)
}

func openPostgres(dsn string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	return stdlib.OpenDB(*cfg), nil
}

// openMySQL forces parseTime so timestamp columns scan into time.Time.
func openMySQL(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return sql.Open("mysql", cfg.FormatDSN())
}

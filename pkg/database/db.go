package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

type Config struct {
	Path        string
	Timeout     time.Duration
	BusyTimeout time.Duration
}

// ConfigFromEnv reads DB config from environment variables
func ConfigFromEnv() Config {
	path := os.Getenv("DATABASE_FILE")
	if path == "" {
		// default local
		path = "data/werkzeugverleih.db"
	}
	return Config{Path: path, Timeout: 5 * time.Second, BusyTimeout: 5 * time.Second}
}

// DSN builds the sqlite connection string for the configured file.
func (c Config) DSN() string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + c.Path + "?" + q.Encode()
}

// Connect opens a *sql.DB on the sqlite file and verifies it with a ping.
// The pool is pinned to one connection: sqlite allows a single writer and
// backups must see the same connection state as the request path.
func Connect(cfg Config) (*sql.DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open(DriverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

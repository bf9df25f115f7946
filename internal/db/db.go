package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id UUID PRIMARY KEY,
	status TEXT NOT NULL,
	spec JSONB NOT NULL,
	segment_count INTEGER NOT NULL DEFAULT 0,
	fallback_count INTEGER NOT NULL DEFAULT 0,
	stats JSONB,
	manifest_path TEXT,
	audio_path TEXT,
	duration_ms INTEGER,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE TABLE IF NOT EXISTS run_clips (
	id UUID PRIMARY KEY,
	run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	segment_index INTEGER NOT NULL,
	kind TEXT NOT NULL,
	text TEXT NOT NULL,
	query TEXT,
	source_url TEXT,
	provider TEXT,
	storage_path TEXT,
	color TEXT,
	duration_ms INTEGER NOT NULL,
	fallback BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_clips_run ON run_clips(run_id, segment_index);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	spec TEXT NOT NULL,
	segment_count INTEGER NOT NULL DEFAULT 0,
	fallback_count INTEGER NOT NULL DEFAULT 0,
	stats TEXT,
	manifest_path TEXT,
	audio_path TEXT,
	duration_ms INTEGER,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE TABLE IF NOT EXISTS run_clips (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	segment_index INTEGER NOT NULL,
	kind TEXT NOT NULL,
	text TEXT NOT NULL,
	query TEXT,
	source_url TEXT,
	provider TEXT,
	storage_path TEXT,
	color TEXT,
	duration_ms INTEGER NOT NULL,
	fallback BOOLEAN NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_clips_run ON run_clips(run_id, segment_index);
`

var placeholder = regexp.MustCompile(`\$(\d+)`)

// DB is run history: Postgres for the service, SQLite for local runs.
// Queries are written with $N placeholders and rebound for SQLite.
type DB struct {
	*sql.DB
	driver string
}

// New opens the database named by dsn. postgres:// and postgresql:// use
// lib/pq; sqlite://path, file: URIs and *.db paths use go-sqlite3.
func New(dsn string) (*DB, error) {
	driver, source, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if driver == "sqlite3" && !strings.HasPrefix(source, "file:") && source != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(source), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite3" {
		// one writer at a time; also keeps :memory: databases on one connection
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: conn, driver: driver}
	if driver == "sqlite3" {
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL"} {
			if _, err := conn.ExecContext(ctx, pragma); err != nil {
				conn.Close()
				return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
			}
		}
	}
	return db, nil
}

func parseDSN(dsn string) (driver, source string, err error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:", strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return "sqlite3", dsn, nil
	case dsn == "":
		return "", "", fmt.Errorf("empty database url")
	default:
		return "", "", fmt.Errorf("unsupported database url %q", dsn)
	}
}

// Driver returns "postgres" or "sqlite3".
func (db *DB) Driver() string { return db.driver }

// Migrate creates the tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if db.driver == "sqlite3" {
		schema = sqliteSchema
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	log.Debugf("[DB] Schema ready (%s)", db.driver)
	return nil
}

// rebind turns $N placeholders into SQLite's ?N.
func (db *DB) rebind(query string) string {
	if db.driver != "sqlite3" {
		return query
	}
	return placeholder.ReplaceAllString(query, "?$1")
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLBackend keeps every record in a single table keyed by (user_id, kind).
// It runs on SQLite or PostgreSQL.
type SQLBackend struct {
	db       *sql.DB
	postgres bool
}

func NewSQLiteBackend(path string) (*SQLBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return newSQLBackend("sqlite3", path, false)
}

func NewPostgresBackend(dsn string) (*SQLBackend, error) {
	return newSQLBackend("postgres", dsn, true)
}

func newSQLBackend(driverName, dataSourceName string, postgres bool) (*SQLBackend, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if !postgres {
		// SQLite serializes writers anyway; one connection avoids "database is locked".
		db.SetMaxOpenConns(1)
	}

	b := &SQLBackend{db: db, postgres: postgres}
	if err = b.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}

func (b *SQLBackend) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS records (
        user_id TEXT NOT NULL,
        kind TEXT NOT NULL,
        value TEXT NOT NULL,
        updated_at TIMESTAMP NOT NULL,
        PRIMARY KEY (user_id, kind)
    );
    `
	_, err := b.db.Exec(schema)
	return err
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (b *SQLBackend) rebind(query string) string {
	if !b.postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *SQLBackend) Get(ctx context.Context, key Key) (string, bool, error) {
	var value string
	err := b.db.QueryRowContext(ctx, b.rebind("SELECT value FROM records WHERE user_id = ? AND kind = ?"), key.UserID, string(key.Kind)).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query record: %w", err)
	}
	return value, true, nil
}

func (b *SQLBackend) Put(ctx context.Context, key Key, value string) error {
	query := `
        INSERT INTO records (user_id, kind, value, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (user_id, kind) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
    `
	_, err := b.db.ExecContext(ctx, b.rebind(query), key.UserID, string(key.Kind), value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func (b *SQLBackend) Delete(ctx context.Context, key Key) error {
	_, err := b.db.ExecContext(ctx, b.rebind("DELETE FROM records WHERE user_id = ? AND kind = ?"), key.UserID, string(key.Kind))
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

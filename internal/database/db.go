package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const sqliteBusyTimeout = 5 * time.Second

type DB struct {
	SQL     *sql.DB
	Dialect Dialect
}

// New opens the database named by uri. postgres:// and postgresql:// URIs use
// pgx; anything else is treated as a SQLite file (optionally prefixed with
// sqlite:// or file:).
func New(ctx context.Context, uri string) (*DB, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("database uri is empty")
	}

	var db *DB
	var err error
	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		db, err = openPostgres(uri)
	} else {
		db, err = openSQLite(ctx, uri)
	}
	if err != nil {
		return nil, err
	}

	if err := db.SQL.PingContext(ctx); err != nil {
		db.SQL.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", db.Dialect, err)
	}
	return db, nil
}

func openPostgres(uri string) (*DB, error) {
	sqlDB, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return &DB{SQL: sqlDB, Dialect: DialectPostgres}, nil
}

func openSQLite(ctx context.Context, uri string) (*DB, error) {
	path := strings.TrimPrefix(uri, "sqlite://")
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	_, _ = sqlDB.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeout.Milliseconds()))
	if path != ":memory:" && !strings.Contains(path, "mode=memory") {
		_, _ = sqlDB.ExecContext(ctx, "PRAGMA journal_mode = WAL")
		_, _ = sqlDB.ExecContext(ctx, "PRAGMA synchronous = NORMAL")
	}
	return &DB{SQL: sqlDB, Dialect: DialectSQLite}, nil
}

func (db *DB) Close() error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Close()
}

// WithConn runs fn on a connection acquired from the pool and releases it
// when fn returns.
func (db *DB) WithConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := db.SQL.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

// Rebind rewrites ? placeholders into the dialect's native form.
func (db *DB) Rebind(query string) string {
	if db.Dialect != DialectPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			sb.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Package sqlite opens an embedded, pure-Go SQLite database carrying the
// same schema as the MySQL store. It backs local runs (STORE_DRIVER=sqlite)
// and tests that need real SQL without a server.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Open opens path (":memory:" for a private in-memory database) and applies
// the schema. Connections are capped at one: SQLite serializes writers and
// an in-memory database is per connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := dsnFor(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the agencies and properties tables if missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}

func dsnFor(path string) string {
	const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == "" || path == ":memory:" {
		return "file::memory:?" + pragmas
	}
	if strings.Contains(path, "?") {
		return path + "&" + pragmas
	}
	return "file:" + path + "?" + pragmas
}

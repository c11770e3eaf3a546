// ABOUTME: SQLite implementation of the Vault interface using modernc.org/sqlite.
// ABOUTME: Single-table key/value storage with automatic schema creation.

package keyvault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteVault implements Vault backed by a SQLite database file.
type SQLiteVault struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteVault opens (or creates) the vault database at the given path.
// Parent directories are created if needed.
func NewSQLiteVault(path string) (*SQLiteVault, error) {
	logger := slog.Default().With("component", "keyvault")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating vault directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening vault database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	v := &SQLiteVault{db: db, logger: logger}
	if err := v.createSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return v, nil
}

func (v *SQLiteVault) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vault (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`

	if _, err := v.db.Exec(schema); err != nil {
		return fmt.Errorf("creating vault schema: %w", err)
	}
	return nil
}

// Get implements Vault.
func (v *SQLiteVault) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := v.db.QueryRowContext(ctx, "SELECT value FROM vault WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading vault key %q: %w", key, err)
	}
	return value, nil
}

// Put implements Vault.
func (v *SQLiteVault) Put(ctx context.Context, key string, value []byte) error {
	_, err := v.db.ExecContext(ctx,
		`INSERT INTO vault (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing vault key %q: %w", key, err)
	}
	return nil
}

// Delete implements Vault.
func (v *SQLiteVault) Delete(ctx context.Context, key string) error {
	if _, err := v.db.ExecContext(ctx, "DELETE FROM vault WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting vault key %q: %w", key, err)
	}
	return nil
}

// List implements Vault.
func (v *SQLiteVault) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := v.db.QueryContext(ctx,
		"SELECT key FROM vault WHERE key LIKE ? || '%' ORDER BY key", prefix)
	if err != nil {
		return nil, fmt.Errorf("listing vault keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning vault key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vault keys: %w", err)
	}
	return keys, nil
}

// Close closes the underlying database.
func (v *SQLiteVault) Close() error {
	return v.db.Close()
}

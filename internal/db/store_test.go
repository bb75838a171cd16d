package db

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestStore creates a migrated Store backed by a real SQLite database in
// a temporary directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewSqliteStore(&SqliteConfig{
		DatabaseFileName: filepath.Join(t.TempDir(), "test.db"),
	}, slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// TestMigrationsApply verifies that a fresh database comes up at the latest
// migration version with all pipeline tables present.
func TestMigrationsApply(t *testing.T) {
	store := newTestStore(t)

	tables := []string{
		"credit_accounts", "artifacts", "jobs", "cache_entries",
	}
	for _, table := range tables {
		var name string
		err := store.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' "+
				"AND name = ?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
		require.Equal(t, table, name)
	}
}

// TestMigrationsIdempotent verifies that re-opening an already migrated
// database succeeds.
func TestMigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSqliteStore(&SqliteConfig{
		DatabaseFileName: dbPath,
	}, slog.Default())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewSqliteStore(&SqliteConfig{
		DatabaseFileName: dbPath,
	}, slog.Default())
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

// TestWithTxRollback verifies that an error returned from the transaction
// callback rolls back any writes made inside it.
func TestWithTxRollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sentinel := sql.ErrNoRows
	err := store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO credit_accounts (user_id, balance, "+
				"updated_at) VALUES (?, ?, ?)",
			"user-1", 10, 0,
		)
		require.NoError(t, err)

		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	var count int
	err = store.DB().QueryRow(
		"SELECT COUNT(*) FROM credit_accounts",
	).Scan(&count)
	require.NoError(t, err)
	require.Zero(t, count)
}

// TestWithTxCommit verifies that a successful callback commits.
func TestWithTxCommit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO credit_accounts (user_id, balance, "+
				"updated_at) VALUES (?, ?, ?)",
			"user-1", 10, 0,
		)
		return err
	})
	require.NoError(t, err)

	var balance int
	err = store.WithReadTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			"SELECT balance FROM credit_accounts WHERE user_id = ?",
			"user-1",
		).Scan(&balance)
	})
	require.NoError(t, err)
	require.Equal(t, 10, balance)
}

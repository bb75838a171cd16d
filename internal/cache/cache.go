// Package cache implements the content-addressed summary cache. A hit
// means the exact same user already had the exact same content summarized
// recently, so the stored artifact can be returned without debiting
// credits or re-running the remote summarizer.
//
// The cache is strictly best-effort: callers treat every cache failure as
// a miss and never surface cache errors to the submitter.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/condenser-ai/condenser/internal/artifact"
	"github.com/condenser-ai/condenser/internal/db"
)

// DefaultTTL is how long a cache entry remains valid.
const DefaultTTL = 24 * time.Hour

// ErrCacheMiss is returned when no live entry exists for a key.
var ErrCacheMiss = errors.New("cache miss")

// Entry is a cache hit: the stored artifact plus cache metadata.
type Entry struct {
	// Artifact is the cached summarization result.
	Artifact artifact.Artifact

	// CachedAt is when the entry was written.
	CachedAt time.Time

	// RetrievedAt is when this lookup happened. Refreshed on every
	// hit so callers can present a current timestamp.
	RetrievedAt time.Time
}

// Store is the SQLite backed content cache. Entries are immutable once
// written; a re-store of the same key replaces the previous entry.
type Store struct {
	dbStore   *db.Store
	artifacts *artifact.Store
}

// NewStore creates a cache store sharing the given database.
func NewStore(dbStore *db.Store, artifacts *artifact.Store) *Store {
	return &Store{
		dbStore:   dbStore,
		artifacts: artifacts,
	}
}

// Lookup returns the cached artifact for (userID, content) if a live entry
// exists. Expired entries are treated as misses.
func (s *Store) Lookup(
	ctx context.Context, userID, content string,
) (Entry, error) {

	key := Key(userID, content)
	now := time.Now()

	var entry Entry
	err := s.dbStore.WithReadTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		row := tx.QueryRowContext(ctx, `
			SELECT a.id, a.summary_text, a.original_word_count,
				a.summary_word_count, a.compression_ratio,
				a.processing_time_ms, a.model, a.is_fallback,
				a.created_at, c.created_at
			FROM cache_entries c
			JOIN artifacts a ON a.id = c.artifact_id
			WHERE c.cache_key = ? AND c.expires_at > ?`,
			key, now.UnixMilli(),
		)

		var (
			cachedAt int64
			scanErr  error
		)
		entry.Artifact, scanErr = scanJoinedArtifact(row, &cachedAt)
		if scanErr != nil {
			return scanErr
		}

		entry.CachedAt = time.UnixMilli(cachedAt)
		return nil
	})
	if err != nil {
		return Entry{}, err
	}

	entry.RetrievedAt = now
	return entry, nil
}

// Put writes a cache entry pointing at an already persisted artifact. Any
// previous entry under the same key is replaced.
func (s *Store) Put(
	ctx context.Context, userID, content string, artifactID int64,
	ttl time.Duration,
) error {

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	key := Key(userID, content)
	now := time.Now()

	return s.dbStore.WithTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cache_entries (
				cache_key, user_id, artifact_id, created_at,
				expires_at
			) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(cache_key) DO UPDATE SET
				artifact_id = excluded.artifact_id,
				created_at = excluded.created_at,
				expires_at = excluded.expires_at`,
			key, userID, artifactID, now.UnixMilli(),
			now.Add(ttl).UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("put cache entry: %w", err)
		}

		return nil
	})
}

// InvalidateUser deletes all cache entries belonging to a user. Returns the
// number of deleted entries. This is an administrative operation, not on
// the submission critical path.
func (s *Store) InvalidateUser(
	ctx context.Context, userID string,
) (int64, error) {

	var deleted int64

	err := s.dbStore.WithTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM cache_entries WHERE user_id = ?", userID,
		)
		if err != nil {
			return fmt.Errorf("invalidate user cache: %w", err)
		}

		deleted, err = res.RowsAffected()
		return err
	})

	return deleted, err
}

// PurgeExpired removes entries past their expiry. Returns the number of
// purged rows.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	var purged int64

	err := s.dbStore.WithTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM cache_entries WHERE expires_at <= ?",
			time.Now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("purge expired cache entries: %w",
				err)
		}

		purged, err = res.RowsAffected()
		return err
	})

	return purged, err
}

// scanJoinedArtifact decodes an artifact plus the cache entry's created_at
// from a joined row.
func scanJoinedArtifact(
	row artifact.RowScanner, cachedAt *int64,
) (artifact.Artifact, error) {

	var (
		a          artifact.Artifact
		procMs     int64
		isFallback int64
		createdAt  int64
	)

	err := row.Scan(
		&a.ID, &a.SummaryText, &a.OriginalWordCount,
		&a.SummaryWordCount, &a.CompressionRatio, &procMs,
		&a.Model, &isFallback, &createdAt, cachedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return artifact.Artifact{}, ErrCacheMiss
	}
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf(
			"scan cache entry: %w", err)
	}

	a.ProcessingTime = time.Duration(procMs) * time.Millisecond
	a.IsFallback = isFallback != 0
	a.CreatedAt = time.UnixMilli(createdAt)

	return a, nil
}

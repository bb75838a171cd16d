package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/condenser-ai/condenser/internal/db"
)

// ErrArtifactNotFound is returned when no artifact exists for an ID.
var ErrArtifactNotFound = errors.New("artifact not found")

// Store provides access to persisted artifacts.
type Store struct {
	dbStore *db.Store
}

// NewStore creates a new artifact store sharing the given database.
func NewStore(dbStore *db.Store) *Store {
	return &Store{
		dbStore: dbStore,
	}
}

// Put persists an artifact and returns it with the assigned ID and
// creation timestamp populated.
func (s *Store) Put(ctx context.Context, a Artifact) (Artifact, error) {
	now := time.Now()

	err := s.dbStore.WithTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO artifacts (
				summary_text, original_word_count,
				summary_word_count, compression_ratio,
				processing_time_ms, model, is_fallback,
				created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.SummaryText, a.OriginalWordCount,
			a.SummaryWordCount, a.CompressionRatio,
			a.ProcessingTime.Milliseconds(), a.Model,
			boolToInt(a.IsFallback), now.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}

		a.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return Artifact{}, err
	}

	a.CreatedAt = now
	return a, nil
}

// Get fetches an artifact by ID.
func (s *Store) Get(ctx context.Context, id int64) (Artifact, error) {
	var a Artifact

	err := s.dbStore.WithReadTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, summary_text, original_word_count,
				summary_word_count, compression_ratio,
				processing_time_ms, model, is_fallback,
				created_at
			FROM artifacts WHERE id = ?`, id,
		)

		var err error
		a, err = ScanArtifact(row)
		return err
	})

	return a, err
}

// RowScanner is satisfied by both *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// ScanArtifact decodes an artifact from a row that selects the full
// artifact column set. Exported for stores that join against the artifacts
// table.
func ScanArtifact(row RowScanner) (Artifact, error) {
	var (
		a          Artifact
		procMs     int64
		isFallback int64
		createdAt  int64
	)

	err := row.Scan(
		&a.ID, &a.SummaryText, &a.OriginalWordCount,
		&a.SummaryWordCount, &a.CompressionRatio, &procMs,
		&a.Model, &isFallback, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, ErrArtifactNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("scan artifact: %w", err)
	}

	a.ProcessingTime = time.Duration(procMs) * time.Millisecond
	a.IsFallback = isFallback != 0
	a.CreatedAt = time.UnixMilli(createdAt)

	return a, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

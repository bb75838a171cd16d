// Package artifact defines the durable output of a summarization job. An
// artifact is persisted independently of the job that produced it so the
// content cache and job records can both reference it without re-running
// the remote summarizer.
package artifact

import "time"

// Artifact is the durable result of one summarization.
type Artifact struct {
	// ID is the database identifier, zero until persisted.
	ID int64

	// SummaryText is the generated summary.
	SummaryText string

	// OriginalWordCount is the word count of the normalized input.
	OriginalWordCount int

	// SummaryWordCount is the word count of the summary.
	SummaryWordCount int

	// CompressionRatio is SummaryWordCount / OriginalWordCount.
	CompressionRatio float64

	// ProcessingTime is how long the remote call took.
	ProcessingTime time.Duration

	// Model is the model that produced the summary.
	Model string

	// IsFallback is true when the summary was produced by the local
	// extractive fallback rather than the remote model.
	IsFallback bool

	// CreatedAt is when the artifact was persisted.
	CreatedAt time.Time
}

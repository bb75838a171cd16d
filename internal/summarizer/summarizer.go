// Package summarizer turns submitted text into summary artifacts. The
// remote model is hidden behind the Summarizer interface so workers and
// tests can substitute doubles; everything else here (validation, word
// counting, fallback, artifact stats) is pure local computation.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/condenser-ai/condenser/internal/artifact"
)

const (
	// MinInputChars is the minimum input length for meaningful
	// summarization.
	MinInputChars = 50

	// MaxInputChars bounds the input size accepted by the pipeline.
	MaxInputChars = 50000

	// DefaultModel is the model used when the request does not
	// override it.
	DefaultModel = "claude-haiku-4-5-20251001"

	// minUsableSummaryChars is the threshold below which a model
	// response is considered unusable and the extractive fallback
	// kicks in.
	minUsableSummaryChars = 10
)

// Options carries per-request summarize options. The JSON form is what
// the queue persists alongside the job payload.
type Options struct {
	// Model overrides the default model when non-empty.
	Model string `json:"model,omitempty"`

	// CustomPrompt replaces the default system prompt when non-empty.
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

// Summarizer produces a summary for the given text. Implementations are
// expected to be safe for concurrent use; the worker pool calls Summarize
// from multiple goroutines.
type Summarizer interface {
	Summarize(ctx context.Context, text string, opts Options) (string, error)
}

// InputError reports malformed or out-of-bounds input. It is detected
// before the cache or the ledger is touched.
type InputError struct {
	Reason string
}

// Error returns the error message.
func (e *InputError) Error() string {
	return e.Reason
}

// ValidateInput checks submission bounds. The limits match what the
// remote model can usefully work with.
func ValidateInput(text string) error {
	trimmed := strings.TrimSpace(text)

	if len(trimmed) < MinInputChars {
		return &InputError{Reason: fmt.Sprintf(
			"text must be at least %d characters long for "+
				"meaningful summarization", MinInputChars,
		)}
	}
	if len(trimmed) > MaxInputChars {
		return &InputError{Reason: fmt.Sprintf(
			"text exceeds maximum length of %d characters",
			MaxInputChars,
		)}
	}

	return nil
}

// Remote error classes, used to turn raw SDK failures into operator and
// user readable failure reasons.
var (
	// ErrServiceConfig indicates a misconfigured summarizer (missing
	// or invalid API credentials). Not retryable.
	ErrServiceConfig = errors.New(
		"summarization service configuration error")

	// ErrRateLimited indicates the remote model shed load. Retryable.
	ErrRateLimited = errors.New(
		"summarization service temporarily unavailable due to " +
			"high demand")

	// ErrContentBlocked indicates the content was refused by the
	// remote safety layer. Not retryable.
	ErrContentBlocked = errors.New(
		"content cannot be summarized due to safety restrictions")
)

// ClassifyError maps a raw remote error onto one of the known error
// classes, or returns it unchanged if it doesn't match any.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key"),
		strings.Contains(msg, "authentication"):

		return fmt.Errorf("%w: %v", ErrServiceConfig, err)

	case strings.Contains(msg, "quota"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "overloaded"):

		return fmt.Errorf("%w: %v", ErrRateLimited, err)

	case strings.Contains(msg, "safety"),
		strings.Contains(msg, "blocked"):

		return fmt.Errorf("%w: %v", ErrContentBlocked, err)

	default:
		return err
	}
}

// Permanent returns true for remote errors that retrying cannot fix.
func Permanent(err error) bool {
	return errors.Is(err, ErrServiceConfig) ||
		errors.Is(err, ErrContentBlocked)
}

// BuildArtifact assembles the durable artifact for a summary, computing
// word statistics over the normalized plain text of both sides.
func BuildArtifact(
	original, summary, model string, elapsed time.Duration,
	isFallback bool,
) artifact.Artifact {

	originalWords := WordCount(original)
	summaryWords := WordCount(summary)

	var ratio float64
	if originalWords > 0 {
		ratio = float64(summaryWords) / float64(originalWords)
	}

	return artifact.Artifact{
		SummaryText:       summary,
		OriginalWordCount: originalWords,
		SummaryWordCount:  summaryWords,
		CompressionRatio:  ratio,
		ProcessingTime:    elapsed,
		Model:             model,
		IsFallback:        isFallback,
	}
}

// Usable returns true when a model response looks like a real summary
// rather than an empty or truncated reply.
func Usable(summary string) bool {
	return len(strings.TrimSpace(summary)) >= minUsableSummaryChars
}

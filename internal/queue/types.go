// Package queue implements the durable job queue at the heart of the
// summarization pipeline. Jobs are persisted in SQLite, leased by workers
// with a visibility timeout, and retried with exponential backoff until
// they reach a terminal state.
package queue

import (
	"errors"
	"time"
)

// Class identifies an isolated job queue. Classes are separate queues so
// that slow file-derived work cannot starve fast text jobs.
type Class string

const (
	// ClassText is the queue for plain text summarization jobs.
	ClassText Class = "text"

	// ClassFile is the queue for file-derived text summarization jobs.
	ClassFile Class = "file"
)

// Valid returns true for a known job class.
func (c Class) Valid() bool {
	return c == ClassText || c == ClassFile
}

// State is the lifecycle state of a job.
type State string

const (
	// StateQueued means the job is waiting for a worker (including jobs
	// waiting out a retry backoff).
	StateQueued State = "queued"

	// StateActive means a worker currently holds the lease.
	StateActive State = "active"

	// StateCompleted is the successful terminal state.
	StateCompleted State = "completed"

	// StateFailed is the unsuccessful terminal state.
	StateFailed State = "failed"
)

// Terminal returns true for the write-once terminal states.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is a queued summarization request. Mutable fields (state, progress,
// attempts, lease bookkeeping) are owned by the queue until leased, then by
// the worker holding the lease.
type Job struct {
	ID      string
	Class   Class
	OwnerID string

	// Payload is the text to summarize.
	Payload string

	// FileName is the original file name for file-derived jobs.
	FileName string

	// OptionsJSON carries per-request summarize options (model
	// override, custom prompt) as an opaque JSON blob.
	OptionsJSON string

	State    State
	Progress int
	Attempts int

	// ArtifactID references the persisted artifact once completed.
	ArtifactID int64

	// FailureReason is the user-facing reason once failed.
	FailureReason string

	// LastError records the most recent attempt error, including ones
	// that were retried.
	LastError string

	// AvailableAt is the earliest time a worker may lease the job;
	// pushed into the future by retry backoff.
	AvailableAt time.Time

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Stats holds aggregate per-class queue counts. Delayed counts queued jobs
// still waiting out a retry backoff.
type Stats struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
	Delayed   int64
}

// Total is the number of jobs in any state.
func (s Stats) Total() int64 {
	return s.Waiting + s.Active + s.Completed + s.Failed + s.Delayed
}

// Policy holds the per-class retry and timing configuration.
type Policy struct {
	// MaxAttempts is the total number of processing attempts before
	// the job fails terminally.
	MaxAttempts int

	// BackoffBase is the delay before the first retry; doubled for
	// each subsequent retry.
	BackoffBase time.Duration

	// BackoffMax caps the retry delay.
	BackoffMax time.Duration

	// Timeout bounds a single summarization attempt.
	Timeout time.Duration

	// LeaseTTL is the visibility timeout: how long a worker may hold a
	// lease before the job becomes eligible for re-lease.
	LeaseTTL time.Duration
}

// BackoffDelay returns the delay before the retry following the given
// attempt number (1-based): base * 2^(attempt-1), capped at BackoffMax.
func (p Policy) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.BackoffMax {
			return p.BackoffMax
		}
	}

	if delay > p.BackoffMax {
		return p.BackoffMax
	}

	return delay
}

// DefaultPolicy returns the retry policy for a job class. Text jobs
// retry more aggressively with a shorter backoff; file jobs get fewer
// attempts but a longer per-attempt timeout.
func DefaultPolicy(class Class) Policy {
	switch class {
	case ClassFile:
		return Policy{
			MaxAttempts: 2,
			BackoffBase: 3 * time.Second,
			BackoffMax:  time.Minute,
			Timeout:     5 * time.Minute,
			LeaseTTL:    6 * time.Minute,
		}

	default:
		return Policy{
			MaxAttempts: 3,
			BackoffBase: 2 * time.Second,
			BackoffMax:  time.Minute,
			Timeout:     2 * time.Minute,
			LeaseTTL:    3 * time.Minute,
		}
	}
}

var (
	// ErrJobNotFound is returned when a job ID is unknown or has been
	// pruned.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJobAvailable is returned by Lease when no job is ready.
	ErrNoJobAvailable = errors.New("no job available")

	// ErrNotLeaseHolder is returned when a mutation carries a lease
	// token that no longer matches the job, either because the lease
	// expired and was re-issued or because the job already reached a
	// terminal state.
	ErrNotLeaseHolder = errors.New("not the lease holder")
)

// Package pipeline is the submission facade: it ties input validation,
// the content cache, the credit ledger, and the durable queue into the
// admission sequence every summarization request goes through, and
// answers status polls for jobs in flight.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/condenser-ai/condenser/internal/artifact"
	"github.com/condenser-ai/condenser/internal/cache"
	"github.com/condenser-ai/condenser/internal/ledger"
	"github.com/condenser-ai/condenser/internal/queue"
	"github.com/condenser-ai/condenser/internal/summarizer"
	"github.com/condenser-ai/condenser/internal/worker"
)

// DefaultSubmitCost is the credit cost of admitting one job.
const DefaultSubmitCost = 1

// ValidationError reports input rejected before the cache or the ledger
// was touched. Submissions failing validation are never charged.
type ValidationError struct {
	Reason string
}

// Error returns the rejection reason.
func (e *ValidationError) Error() string {
	return e.Reason
}

// Config holds pipeline tunables.
type Config struct {
	// SubmitCost is the credit cost per admitted job. Zero means
	// DefaultSubmitCost.
	SubmitCost int64

	// CacheTTL is the lifetime of summary cache entries. Zero means
	// the cache default.
	CacheTTL time.Duration

	// RefundOnFailure returns the admission debit when a job fails
	// permanently. Off by default: the processing attempts were spent
	// whether or not they produced a summary.
	RefundOnFailure bool
}

// SubmitResult is the synchronous answer to a submission: either a cached
// artifact or a handle to the queued job.
type SubmitResult struct {
	// FromCache marks a cache hit; no job was enqueued and no credit
	// was spent.
	FromCache bool

	// Artifact is the cached summary on a cache hit.
	Artifact fn.Option[artifact.Artifact]

	// JobID is the queued job's handle on a cache miss.
	JobID fn.Option[string]

	// CreditsRemaining is the owner's balance after admission. None
	// only on a cache hit whose balance read failed; a zero balance
	// is always reported as Some(0).
	CreditsRemaining fn.Option[int64]
}

// JobStatus is the poll answer for a job.
type JobStatus struct {
	JobID    string
	Class    queue.Class
	State    queue.State
	Progress int
	Attempts int

	// Artifact is the summary once the job completed.
	Artifact fn.Option[artifact.Artifact]

	// FailureReason is the user-facing reason once the job failed.
	FailureReason fn.Option[string]

	CreatedAt  time.Time
	StartedAt  fn.Option[time.Time]
	FinishedAt fn.Option[time.Time]
}

// Service is the summarization pipeline facade.
type Service struct {
	cfg       Config
	jobs      *queue.Store
	cache     *cache.Store
	ledger    *ledger.Store
	artifacts *artifact.Store
	log       *slog.Logger
}

// NewService creates the pipeline facade.
func NewService(
	cfg Config, jobs *queue.Store, cacheStore *cache.Store,
	ledgerStore *ledger.Store, artifacts *artifact.Store,
	log *slog.Logger,
) *Service {

	if log == nil {
		log = slog.Default()
	}
	if cfg.SubmitCost <= 0 {
		cfg.SubmitCost = DefaultSubmitCost
	}

	return &Service{
		cfg:       cfg,
		jobs:      jobs,
		cache:     cacheStore,
		ledger:    ledgerStore,
		artifacts: artifacts,
		log:       log.With("component", "pipeline"),
	}
}

// Submit admits a text summarization request: validate, consult the
// cache, debit the ledger, enqueue. A cache hit returns the stored
// artifact immediately and charges nothing.
func (s *Service) Submit(
	ctx context.Context, userID, content string,
	opts summarizer.Options,
) (SubmitResult, error) {

	return s.submit(ctx, queue.ClassText, userID, content, "", opts)
}

// SubmitFile admits a file summarization request. The caller has already
// extracted plain text from the uploaded file; fileName is retained for
// status display only.
func (s *Service) SubmitFile(
	ctx context.Context, userID, extractedText, fileName string,
	opts summarizer.Options,
) (SubmitResult, error) {

	return s.submit(
		ctx, queue.ClassFile, userID, extractedText, fileName, opts,
	)
}

func (s *Service) submit(
	ctx context.Context, class queue.Class, userID, content,
	fileName string, opts summarizer.Options,
) (SubmitResult, error) {

	if userID == "" {
		return SubmitResult{}, &ValidationError{
			Reason: "user id is required",
		}
	}
	if err := summarizer.ValidateInput(content); err != nil {
		var inputErr *summarizer.InputError
		if errors.As(err, &inputErr) {
			return SubmitResult{}, &ValidationError{
				Reason: inputErr.Reason,
			}
		}
		return SubmitResult{}, err
	}

	// Cache consultation is best effort: a cache failure degrades to
	// a miss, never to a failed submission.
	entry, err := s.cache.Lookup(ctx, userID, content)
	switch {
	case err == nil:
		// The hit spends nothing, so the balance is advisory;
		// leave it unset rather than guessing when the read
		// fails.
		credits := fn.None[int64]()
		balance, balErr := s.ledger.Balance(ctx, userID)
		if balErr != nil {
			s.log.WarnContext(ctx, "balance read failed",
				"user", userID, "err", balErr)
		} else {
			credits = fn.Some(balance)
		}

		s.log.InfoContext(ctx, "cache hit",
			"user", userID,
			"artifact_id", entry.Artifact.ID)

		return SubmitResult{
			FromCache:        true,
			Artifact:         fn.Some(entry.Artifact),
			CreditsRemaining: credits,
		}, nil

	case !errors.Is(err, cache.ErrCacheMiss):
		s.log.WarnContext(ctx, "cache lookup failed",
			"user", userID, "err", err)
	}

	remaining, err := s.ledger.Debit(ctx, userID, s.cfg.SubmitCost)
	if err != nil {
		return SubmitResult{}, err
	}

	optionsJSON, err := json.Marshal(opts)
	if err != nil {
		// Marshal of a plain struct cannot fail; refund to keep
		// the invariant anyway.
		s.refund(ctx, userID)
		return SubmitResult{}, fmt.Errorf("encode options: %w", err)
	}

	job, err := s.jobs.Enqueue(ctx, queue.EnqueueParams{
		Class:       class,
		OwnerID:     userID,
		Payload:     content,
		FileName:    fileName,
		OptionsJSON: string(optionsJSON),
	})
	if err != nil {
		// The debit happened but no job exists to spend it.
		s.refund(ctx, userID)
		return SubmitResult{}, fmt.Errorf("enqueue: %w", err)
	}

	s.log.InfoContext(ctx, "job admitted",
		"job_id", job.ID,
		"class", string(class),
		"user", userID,
		"credits_remaining", remaining)

	return SubmitResult{
		JobID:            fn.Some(job.ID),
		CreditsRemaining: fn.Some(remaining),
	}, nil
}

func (s *Service) refund(ctx context.Context, userID string) {
	if err := s.ledger.Refund(
		ctx, userID, s.cfg.SubmitCost,
	); err != nil {
		s.log.ErrorContext(ctx, "refund failed",
			"user", userID, "err", err)
	}
}

// Status answers a poll for the given job. queue.ErrJobNotFound passes
// through for unknown IDs.
func (s *Service) Status(
	ctx context.Context, jobID string,
) (JobStatus, error) {

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return JobStatus{}, err
	}

	status := JobStatus{
		JobID:     job.ID,
		Class:     job.Class,
		State:     job.State,
		Progress:  job.Progress,
		Attempts:  job.Attempts,
		CreatedAt: job.CreatedAt,
	}
	if job.StartedAt != nil {
		status.StartedAt = fn.Some(*job.StartedAt)
	}
	if job.FinishedAt != nil {
		status.FinishedAt = fn.Some(*job.FinishedAt)
	}
	if job.FailureReason != "" {
		status.FailureReason = fn.Some(job.FailureReason)
	}

	if job.State == queue.StateCompleted && job.ArtifactID != 0 {
		art, err := s.artifacts.Get(ctx, job.ArtifactID)
		if err != nil {
			return JobStatus{}, fmt.Errorf(
				"load artifact for job %s: %w", jobID, err,
			)
		}
		status.Artifact = fn.Some(art)
	}

	return status, nil
}

// InvalidateCache removes all of a user's cache entries, returning how
// many were dropped.
func (s *Service) InvalidateCache(
	ctx context.Context, userID string,
) (int64, error) {

	return s.cache.InvalidateUser(ctx, userID)
}

// QueueStats returns aggregate queue counts for one class.
func (s *Service) QueueStats(
	ctx context.Context, class queue.Class,
) (queue.Stats, error) {

	return s.jobs.Stats(ctx, class)
}

// GrantCredits adds credit to a user's balance, creating the account on
// first grant, and returns the new balance.
func (s *Service) GrantCredits(
	ctx context.Context, userID string, amount int64,
) (int64, error) {

	if err := s.ledger.Grant(ctx, userID, amount); err != nil {
		return 0, err
	}

	return s.ledger.Balance(ctx, userID)
}

// CreditBalance returns the user's current balance; unknown users have
// zero.
func (s *Service) CreditBalance(
	ctx context.Context, userID string,
) (int64, error) {

	return s.ledger.Balance(ctx, userID)
}

// WorkerHooks returns the lifecycle hooks worker pools should run with:
// admission refunds on permanent failure when configured.
func (s *Service) WorkerHooks() worker.Hooks {
	if !s.cfg.RefundOnFailure {
		return worker.Hooks{}
	}

	return worker.Hooks{
		OnFail: func(job queue.Job, reason string) {
			ctx := context.Background()
			if err := s.ledger.Refund(
				ctx, job.OwnerID, s.cfg.SubmitCost,
			); err != nil {
				s.log.Error("failure refund failed",
					"job_id", job.ID,
					"user", job.OwnerID,
					"err", err)
			}
		},
	}
}

// Package worker runs the summarization worker pools. Each pool serves
// one job class; its goroutines compete for leases on the shared durable
// queue, so multiple pools (or multiple processes) never double-process
// a job.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/condenser-ai/condenser/internal/artifact"
	"github.com/condenser-ai/condenser/internal/cache"
	"github.com/condenser-ai/condenser/internal/queue"
	"github.com/condenser-ai/condenser/internal/summarizer"
)

// DefaultPollInterval is how long an idle worker waits before checking
// the queue again.
const DefaultPollInterval = 500 * time.Millisecond

// Hooks are synchronous notification callbacks for job lifecycle
// transitions. All fields are optional. They run on the worker goroutine
// after the state transition has been persisted, so a hook observing a
// completion can already read the artifact.
type Hooks struct {
	OnLease    func(job queue.Job)
	OnComplete func(job queue.Job, art artifact.Artifact)
	OnFail     func(job queue.Job, reason string)
	OnRetry    func(job queue.Job, delay time.Duration, err error)
}

// Config holds pool tunables.
type Config struct {
	// Class is the job class this pool serves.
	Class queue.Class

	// Concurrency is the number of worker goroutines.
	Concurrency int

	// PollInterval is the idle poll cadence.
	PollInterval time.Duration

	// Policy overrides the class default retry/lease policy when
	// non-zero.
	Policy queue.Policy

	// CacheTTL is the lifetime of cache entries written for completed
	// jobs. Zero means the cache default.
	CacheTTL time.Duration

	// Hooks receive lifecycle notifications.
	Hooks Hooks
}

// Pool leases jobs of a single class and processes them to a terminal
// state.
type Pool struct {
	cfg       Config
	jobs      *queue.Store
	artifacts *artifact.Store
	cache     *cache.Store
	summarize summarizer.Summarizer
	log       *slog.Logger

	// checkpoints are the progress values reported before and after
	// the remote call, in order.
	preCall  []int
	postCall []int
}

// NewPool creates a worker pool for the configured class.
func NewPool(
	cfg Config, jobs *queue.Store, artifacts *artifact.Store,
	cacheStore *cache.Store, s summarizer.Summarizer,
	log *slog.Logger,
) *Pool {

	if log == nil {
		log = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = queue.DefaultPolicy(cfg.Class)
	}

	pre, post := progressCheckpoints(cfg.Class)

	return &Pool{
		cfg:       cfg,
		jobs:      jobs,
		artifacts: artifacts,
		cache:     cacheStore,
		summarize: s,
		log: log.With(
			"component", "worker",
			"class", string(cfg.Class),
		),
		preCall:  pre,
		postCall: post,
	}
}

// progressCheckpoints returns the per-class progress sequences reported
// before and after the remote summarization call. File jobs carry extra
// early checkpoints for the parse/extract stages they went through
// upstream.
func progressCheckpoints(class queue.Class) (pre, post []int) {
	switch class {
	case queue.ClassFile:
		return []int{10, 20, 40}, []int{70, 90}
	default:
		return []int{10, 20}, []int{80}
	}
}

// Run starts the pool and blocks until ctx is cancelled and all workers
// have drained.
func (p *Pool) Run(ctx context.Context) {
	p.log.InfoContext(ctx, "worker pool starting",
		"concurrency", p.cfg.Concurrency,
		"max_attempts", p.cfg.Policy.MaxAttempts)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()

	p.log.Info("worker pool stopped")
}

// runWorker is a single lease-process loop. After finishing a job it
// immediately tries to lease another; it only sleeps when the queue is
// empty.
func (p *Pool) runWorker(ctx context.Context, worker int) {
	log := p.log.With("worker", worker)

	for {
		if ctx.Err() != nil {
			return
		}

		job, token, err := p.jobs.Lease(
			ctx, p.cfg.Class, p.cfg.Policy.LeaseTTL,
		)
		switch {
		case errors.Is(err, queue.ErrNoJobAvailable):
			select {
			case <-time.After(p.cfg.PollInterval):
			case <-ctx.Done():
				return
			}
			continue

		case err != nil:
			if ctx.Err() != nil {
				return
			}
			log.Error("lease failed", "err", err)
			select {
			case <-time.After(p.cfg.PollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}

		if p.cfg.Hooks.OnLease != nil {
			p.cfg.Hooks.OnLease(job)
		}

		p.process(ctx, log, job, token)
	}
}

// process drives one leased job to Retry or a terminal state.
func (p *Pool) process(
	ctx context.Context, log *slog.Logger, job queue.Job, token string,
) {

	log = log.With("job_id", job.ID, "attempt", job.Attempts)
	log.InfoContext(ctx, "processing job",
		"owner", job.OwnerID, "payload_chars", len(job.Payload))

	// Keep the lease alive while the remote call is in flight.
	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go p.renewLoop(renewCtx, job.ID, token)

	for _, pct := range p.preCall {
		p.reportProgress(ctx, job.ID, token, pct)
	}

	summary, err := p.runSummarize(ctx, job)
	if err != nil {
		stopRenew()
		p.handleFailure(ctx, log, job, token, err)
		return
	}

	isFallback := false
	if !summarizer.Usable(summary) {
		// The model answered with nothing useful; degrade to the
		// extractive fallback rather than burning a retry.
		summary = summarizer.FallbackSummary(job.Payload)
		isFallback = true
		log.WarnContext(ctx, "unusable model output, using fallback")
	}

	for _, pct := range p.postCall {
		p.reportProgress(ctx, job.ID, token, pct)
	}

	art := summarizer.BuildArtifact(
		job.Payload, summary, p.jobModel(job),
		time.Since(startedAt(job)), isFallback,
	)
	art, err = p.artifacts.Put(ctx, art)
	if err != nil {
		stopRenew()
		p.handleFailure(ctx, log, job, token,
			fmt.Errorf("persist artifact: %w", err))
		return
	}

	// Cache writes are best effort: a failed put costs a future
	// cache miss, not the job.
	cacheErr := p.cache.Put(
		ctx, job.OwnerID, job.Payload, art.ID, p.cfg.CacheTTL,
	)
	if cacheErr != nil {
		log.WarnContext(ctx, "cache put failed", "err", cacheErr)
	}

	stopRenew()
	if err := p.jobs.Complete(ctx, job.ID, token, art.ID); err != nil {
		log.ErrorContext(ctx, "complete failed", "err", err)
		return
	}

	log.InfoContext(ctx, "job completed",
		"artifact_id", art.ID,
		"compression", art.CompressionRatio,
		"fallback", isFallback)

	if p.cfg.Hooks.OnComplete != nil {
		p.cfg.Hooks.OnComplete(job, art)
	}
}

// runSummarize calls the summarizer under the per-attempt timeout.
func (p *Pool) runSummarize(
	ctx context.Context, job queue.Job,
) (string, error) {

	opts, err := decodeOptions(job.OptionsJSON)
	if err != nil {
		// Corrupt options are a permanent input problem.
		return "", fmt.Errorf("%w: %v",
			errBadJobOptions, err)
	}

	callCtx := ctx
	if p.cfg.Policy.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(
			ctx, p.cfg.Policy.Timeout,
		)
		defer cancel()
	}

	return p.summarize.Summarize(callCtx, job.Payload, opts)
}

var errBadJobOptions = errors.New("invalid job options")

// handleFailure retries the job if attempts remain and the error is
// transient, otherwise fails it permanently.
func (p *Pool) handleFailure(
	ctx context.Context, log *slog.Logger, job queue.Job,
	token string, cause error,
) {

	permanent := summarizer.Permanent(cause) ||
		errors.Is(cause, errBadJobOptions)

	if !permanent && job.Attempts < p.cfg.Policy.MaxAttempts {
		delay := p.cfg.Policy.BackoffDelay(job.Attempts)
		log.WarnContext(ctx, "job attempt failed, retrying",
			"err", cause, "delay", delay)

		err := p.jobs.Retry(
			ctx, job.ID, token, delay, cause.Error(),
		)
		if err != nil {
			log.ErrorContext(ctx, "retry failed", "err", err)
			return
		}

		if p.cfg.Hooks.OnRetry != nil {
			p.cfg.Hooks.OnRetry(job, delay, cause)
		}
		return
	}

	reason := failureReason(cause)
	log.ErrorContext(ctx, "job failed permanently",
		"err", cause, "reason", reason)

	if err := p.jobs.Fail(ctx, job.ID, token, reason); err != nil {
		log.ErrorContext(ctx, "fail transition failed", "err", err)
		return
	}

	if p.cfg.Hooks.OnFail != nil {
		p.cfg.Hooks.OnFail(job, reason)
	}
}

// failureReason maps an error onto the user-facing failure string stored
// on the job.
func failureReason(err error) string {
	switch {
	case errors.Is(err, summarizer.ErrServiceConfig):
		return summarizer.ErrServiceConfig.Error()
	case errors.Is(err, summarizer.ErrContentBlocked):
		return summarizer.ErrContentBlocked.Error()
	case errors.Is(err, summarizer.ErrRateLimited):
		return summarizer.ErrRateLimited.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "summarization timed out"
	default:
		return err.Error()
	}
}

// renewLoop extends the lease at half the TTL until stopped. A renewal
// rejection means the lease was lost (the worker was presumed dead), so
// any further writes for this job would be rejected too.
func (p *Pool) renewLoop(ctx context.Context, id, token string) {
	interval := p.cfg.Policy.LeaseTTL / 2
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := p.jobs.Renew(ctx, id, token, p.cfg.Policy.LeaseTTL)
		if err != nil && ctx.Err() == nil {
			p.log.Warn("lease renewal failed",
				"job_id", id, "err", err)
			return
		}
	}
}

// reportProgress publishes a checkpoint; losing one is harmless since
// progress is monotonic and Complete forces 100.
func (p *Pool) reportProgress(
	ctx context.Context, id, token string, pct int,
) {

	if err := p.jobs.ReportProgress(ctx, id, token, pct); err != nil {
		p.log.Debug("progress report dropped",
			"job_id", id, "pct", pct, "err", err)
	}
}

func (p *Pool) jobModel(job queue.Job) string {
	opts, err := decodeOptions(job.OptionsJSON)
	if err == nil && opts.Model != "" {
		return opts.Model
	}
	return summarizer.DefaultModel
}

func decodeOptions(optionsJSON string) (summarizer.Options, error) {
	var opts summarizer.Options
	if optionsJSON == "" {
		return opts, nil
	}
	if err := json.Unmarshal([]byte(optionsJSON), &opts); err != nil {
		return summarizer.Options{}, err
	}
	return opts, nil
}

func startedAt(job queue.Job) time.Time {
	if job.StartedAt != nil {
		return *job.StartedAt
	}
	return job.CreatedAt
}

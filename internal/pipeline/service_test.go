package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/condenser-ai/condenser/internal/artifact"
	"github.com/condenser-ai/condenser/internal/cache"
	"github.com/condenser-ai/condenser/internal/db"
	"github.com/condenser-ai/condenser/internal/ledger"
	"github.com/condenser-ai/condenser/internal/queue"
	"github.com/condenser-ai/condenser/internal/summarizer"
	"github.com/condenser-ai/condenser/internal/worker"
)

type testEnv struct {
	svc       *Service
	jobs      *queue.Store
	artifacts *artifact.Store
	cache     *cache.Store
	ledger    *ledger.Store
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	dbStore, err := db.NewSqliteStore(&db.SqliteConfig{
		DatabaseFileName: filepath.Join(t.TempDir(), "pipeline.db"),
	}, slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() {
		dbStore.Close()
	})

	artifacts := artifact.NewStore(dbStore)
	cacheStore := cache.NewStore(dbStore, artifacts)
	ledgerStore := ledger.NewStore(dbStore)
	jobs := queue.NewStore(dbStore)

	return &testEnv{
		svc: NewService(
			cfg, jobs, cacheStore, ledgerStore, artifacts,
			slog.Default(),
		),
		jobs:      jobs,
		artifacts: artifacts,
		cache:     cacheStore,
		ledger:    ledgerStore,
	}
}

const testContent = "The committee approved the proposal after a long " +
	"debate over funding priorities and staffing for the coming year."

// staticSummarizer always succeeds with a fixed summary.
type staticSummarizer struct {
	summary string
}

func (s staticSummarizer) Summarize(
	context.Context, string, summarizer.Options,
) (string, error) {
	return s.summary, nil
}

// failingSummarizer always fails with the given error.
type failingSummarizer struct {
	err error
}

func (s failingSummarizer) Summarize(
	context.Context, string, summarizer.Options,
) (string, error) {
	return "", s.err
}

// startWorker runs one text-class worker against the env for the duration
// of the test.
func startWorker(t *testing.T, env *testEnv, s summarizer.Summarizer) {
	t.Helper()

	pool := worker.NewPool(worker.Config{
		Class:        queue.ClassText,
		Concurrency:  1,
		PollInterval: 10 * time.Millisecond,
		Policy: queue.Policy{
			MaxAttempts: 2,
			BackoffBase: 10 * time.Millisecond,
			BackoffMax:  20 * time.Millisecond,
			Timeout:     5 * time.Second,
			LeaseTTL:    2 * time.Second,
		},
		Hooks: env.svc.WorkerHooks(),
	}, env.jobs, env.artifacts, env.cache, s, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitTerminal(
	t *testing.T, env *testEnv, jobID string,
) JobStatus {
	t.Helper()

	ctx := context.Background()
	deadline := time.After(10 * time.Second)
	for {
		status, err := env.svc.Status(ctx, jobID)
		require.NoError(t, err)
		if status.State.Terminal() {
			return status
		}

		select {
		case <-deadline:
			t.Fatalf("job %s never reached a terminal state",
				jobID)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestSubmitValidation rejects out-of-bounds input before touching the
// ledger.
func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.svc.GrantCredits(ctx, "user-1", 10)
	require.NoError(t, err)

	var valErr *ValidationError

	_, err = env.svc.Submit(ctx, "user-1", "too short",
		summarizer.Options{})
	require.ErrorAs(t, err, &valErr)

	_, err = env.svc.Submit(ctx, "user-1",
		strings.Repeat("a", summarizer.MaxInputChars+1),
		summarizer.Options{})
	require.ErrorAs(t, err, &valErr)

	_, err = env.svc.Submit(ctx, "", testContent, summarizer.Options{})
	require.ErrorAs(t, err, &valErr)

	// No charge for any of the rejected submissions.
	balance, err := env.svc.CreditBalance(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 10, balance)
}

// TestSubmitInsufficientCredit rejects admission when the balance cannot
// cover the cost.
func TestSubmitInsufficientCredit(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.svc.Submit(ctx, "broke-user", testContent,
		summarizer.Options{})
	require.ErrorIs(t, err, ledger.ErrInsufficientCredit)

	// Nothing was enqueued.
	stats, err := env.svc.QueueStats(ctx, queue.ClassText)
	require.NoError(t, err)
	require.Zero(t, stats.Total())
}

// TestSubmitEnqueuesAndDebits covers the normal admission path.
func TestSubmitEnqueuesAndDebits(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.svc.GrantCredits(ctx, "user-1", 5)
	require.NoError(t, err)

	res, err := env.svc.Submit(ctx, "user-1", testContent,
		summarizer.Options{Model: "other-model"})
	require.NoError(t, err)
	require.False(t, res.FromCache)
	require.True(t, res.JobID.IsSome())
	require.EqualValues(t, 4, res.CreditsRemaining.UnwrapOr(-1))

	status, err := env.svc.Status(ctx, res.JobID.UnwrapOr(""))
	require.NoError(t, err)
	require.Equal(t, queue.StateQueued, status.State)
	require.Equal(t, queue.ClassText, status.Class)
	require.False(t, status.Artifact.IsSome())
	require.False(t, status.StartedAt.IsSome())
}

// TestStatusUnknownJob surfaces ErrJobNotFound.
func TestStatusUnknownJob(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.svc.Status(context.Background(), "no-such-job")
	require.ErrorIs(t, err, queue.ErrJobNotFound)
}

// TestEndToEndCompletion runs submit → worker → poll → cached resubmit.
func TestEndToEndCompletion(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	startWorker(t, env, staticSummarizer{
		summary: "The committee approved the proposal.",
	})

	_, err := env.svc.GrantCredits(ctx, "user-1", 5)
	require.NoError(t, err)

	res, err := env.svc.Submit(ctx, "user-1", testContent,
		summarizer.Options{})
	require.NoError(t, err)
	require.False(t, res.FromCache)
	require.EqualValues(t, 4, res.CreditsRemaining.UnwrapOr(-1))

	status := waitTerminal(t, env, res.JobID.UnwrapOr(""))
	require.Equal(t, queue.StateCompleted, status.State)
	require.Equal(t, 100, status.Progress)
	require.True(t, status.Artifact.IsSome())
	require.True(t, status.StartedAt.IsSome())
	require.True(t, status.FinishedAt.IsSome())

	art := status.Artifact.UnwrapOr(artifact.Artifact{})
	require.Equal(t, "The committee approved the proposal.",
		art.SummaryText)

	// Resubmitting identical content hits the cache: same artifact,
	// no further charge.
	res2, err := env.svc.Submit(ctx, "user-1", testContent,
		summarizer.Options{})
	require.NoError(t, err)
	require.True(t, res2.FromCache)
	require.EqualValues(t, 4, res2.CreditsRemaining.UnwrapOr(-1))
	require.Equal(t, art.ID,
		res2.Artifact.UnwrapOr(artifact.Artifact{}).ID)

	// A different user pays for their own run even for identical
	// content.
	_, err = env.svc.GrantCredits(ctx, "user-2", 5)
	require.NoError(t, err)

	res3, err := env.svc.Submit(ctx, "user-2", testContent,
		summarizer.Options{})
	require.NoError(t, err)
	require.False(t, res3.FromCache)
	require.EqualValues(t, 4, res3.CreditsRemaining.UnwrapOr(-1))
}

// TestCacheHitReportsZeroBalance distinguishes an exhausted balance from
// an unknown one: a hit with a drained account reports Some(0), never
// None.
func TestCacheHitReportsZeroBalance(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	startWorker(t, env, staticSummarizer{summary: "A brief recap."})

	_, err := env.svc.GrantCredits(ctx, "user-1", 1)
	require.NoError(t, err)

	res, err := env.svc.Submit(ctx, "user-1", testContent,
		summarizer.Options{})
	require.NoError(t, err)
	require.EqualValues(t, 0, res.CreditsRemaining.UnwrapOr(-1))

	waitTerminal(t, env, res.JobID.UnwrapOr(""))

	res2, err := env.svc.Submit(ctx, "user-1", testContent,
		summarizer.Options{})
	require.NoError(t, err)
	require.True(t, res2.FromCache)
	require.True(t, res2.CreditsRemaining.IsSome())
	require.EqualValues(t, 0, res2.CreditsRemaining.UnwrapOr(-1))
}

// TestFailureNoRefundByDefault keeps the debit when a job fails and
// RefundOnFailure is off.
func TestFailureNoRefundByDefault(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	startWorker(t, env, failingSummarizer{
		err: errors.New("upstream unavailable"),
	})

	_, err := env.svc.GrantCredits(ctx, "user-1", 3)
	require.NoError(t, err)

	res, err := env.svc.Submit(ctx, "user-1", testContent,
		summarizer.Options{})
	require.NoError(t, err)

	status := waitTerminal(t, env, res.JobID.UnwrapOr(""))
	require.Equal(t, queue.StateFailed, status.State)
	require.True(t, status.FailureReason.IsSome())
	require.False(t, status.Artifact.IsSome())

	balance, err := env.svc.CreditBalance(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, balance)
}

// TestFailureRefundWhenEnabled returns the debit when RefundOnFailure is
// on.
func TestFailureRefundWhenEnabled(t *testing.T) {
	env := newTestEnv(t, Config{RefundOnFailure: true})
	ctx := context.Background()

	startWorker(t, env, failingSummarizer{
		err: errors.New("upstream unavailable"),
	})

	_, err := env.svc.GrantCredits(ctx, "user-1", 3)
	require.NoError(t, err)

	res, err := env.svc.Submit(ctx, "user-1", testContent,
		summarizer.Options{})
	require.NoError(t, err)

	waitTerminal(t, env, res.JobID.UnwrapOr(""))

	balance, err := env.svc.CreditBalance(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, balance)
}

// TestInvalidateCache forces the next identical submission to re-run.
func TestInvalidateCache(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	startWorker(t, env, staticSummarizer{summary: "A brief recap."})

	_, err := env.svc.GrantCredits(ctx, "user-1", 5)
	require.NoError(t, err)

	res, err := env.svc.Submit(ctx, "user-1", testContent,
		summarizer.Options{})
	require.NoError(t, err)
	waitTerminal(t, env, res.JobID.UnwrapOr(""))

	dropped, err := env.svc.InvalidateCache(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, dropped)

	res2, err := env.svc.Submit(ctx, "user-1", testContent,
		summarizer.Options{})
	require.NoError(t, err)
	require.False(t, res2.FromCache)
	require.EqualValues(t, 3, res2.CreditsRemaining.UnwrapOr(-1))
}

// TestSubmitFile uses the file class and keeps the file name on the job.
func TestSubmitFile(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.svc.GrantCredits(ctx, "user-1", 5)
	require.NoError(t, err)

	res, err := env.svc.SubmitFile(
		ctx, "user-1", testContent, "minutes.txt",
		summarizer.Options{},
	)
	require.NoError(t, err)
	require.True(t, res.JobID.IsSome())

	job, err := env.jobs.Get(ctx, res.JobID.UnwrapOr(""))
	require.NoError(t, err)
	require.Equal(t, queue.ClassFile, job.Class)
	require.Equal(t, "minutes.txt", job.FileName)
}

package queue

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/condenser-ai/condenser/internal/db"
)

// newTestQueue creates a queue store backed by a real SQLite database in a
// temporary directory.
func newTestQueue(t *testing.T) *Store {
	t.Helper()

	dbStore, err := db.NewSqliteStore(&db.SqliteConfig{
		DatabaseFileName: filepath.Join(t.TempDir(), "queue.db"),
	}, slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() {
		dbStore.Close()
	})

	return NewStore(dbStore)
}

// enqueueText enqueues a text job with a small payload.
func enqueueText(t *testing.T, store *Store) Job {
	t.Helper()

	job, err := store.Enqueue(context.Background(), EnqueueParams{
		Class:   ClassText,
		OwnerID: "user-1",
		Payload: "text to summarize",
	})
	require.NoError(t, err)

	return job
}

// TestEnqueueAndGet verifies the initial job record.
func TestEnqueueAndGet(t *testing.T) {
	store := newTestQueue(t)
	ctx := context.Background()

	job := enqueueText(t, store)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StateQueued, got.State)
	require.Zero(t, got.Progress)
	require.Zero(t, got.Attempts)
	require.Nil(t, got.StartedAt)
	require.Nil(t, got.FinishedAt)
	require.Equal(t, "{}", got.OptionsJSON)
}

// TestGetUnknown verifies the not-found path.
func TestGetUnknown(t *testing.T) {
	store := newTestQueue(t)

	_, err := store.Get(context.Background(), "no-such-job")
	require.ErrorIs(t, err, ErrJobNotFound)
}

// TestLeaseExclusive verifies that a leased job is not handed to a second
// worker while the lease is live.
func TestLeaseExclusive(t *testing.T) {
	store := newTestQueue(t)
	ctx := context.Background()

	enqueueText(t, store)

	leased, token, err := store.Lease(ctx, ClassText, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, StateActive, leased.State)
	require.Equal(t, 1, leased.Attempts)
	require.NotNil(t, leased.StartedAt)

	_, _, err = store.Lease(ctx, ClassText, time.Minute)
	require.ErrorIs(t, err, ErrNoJobAvailable)
}

// TestLeaseClassIsolation verifies that leasing one class never returns
// jobs of the other.
func TestLeaseClassIsolation(t *testing.T) {
	store := newTestQueue(t)
	ctx := context.Background()

	enqueueText(t, store)

	_, _, err := store.Lease(ctx, ClassFile, time.Minute)
	require.ErrorIs(t, err, ErrNoJobAvailable)

	_, _, err = store.Lease(ctx, ClassText, time.Minute)
	require.NoError(t, err)
}

// TestLeaseExpiredReclaim verifies the crash re-lease path: once the lease
// expires, another worker picks the job up and the old token is dead.
func TestLeaseExpiredReclaim(t *testing.T) {
	store := newTestQueue(t)
	ctx := context.Background()

	enqueueText(t, store)

	job, oldToken, err := store.Lease(ctx, ClassText, time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	reclaimed, newToken, err := store.Lease(ctx, ClassText, time.Minute)
	require.NoError(t, err)
	require.Equal(t, job.ID, reclaimed.ID)
	require.Equal(t, 2, reclaimed.Attempts)
	require.NotEqual(t, oldToken, newToken)

	// The dead worker's token must be rejected everywhere.
	err = store.ReportProgress(ctx, job.ID, oldToken, 50)
	require.ErrorIs(t, err, ErrNotLeaseHolder)
	err = store.Complete(ctx, job.ID, oldToken, 1)
	require.ErrorIs(t, err, ErrNotLeaseHolder)

	// The new holder completes normally: exactly one terminal record.
	require.NoError(t, store.Complete(ctx, job.ID, newToken, 1))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, got.State)
}

// TestRenewExtendsLease verifies heartbeat renewal.
func TestRenewExtendsLease(t *testing.T) {
	store := newTestQueue(t)
	ctx := context.Background()

	enqueueText(t, store)

	job, token, err := store.Lease(ctx, ClassText, 50*time.Millisecond)
	require.NoError(t, err)

	// Renew before expiry pushes the lease out, so no reclaim happens.
	require.NoError(t, store.Renew(ctx, job.ID, token, time.Minute))

	time.Sleep(60 * time.Millisecond)

	_, _, err = store.Lease(ctx, ClassText, time.Minute)
	require.ErrorIs(t, err, ErrNoJobAvailable)
}

// TestProgressMonotonic verifies that progress never decreases, even if a
// worker reports checkpoints out of order.
func TestProgressMonotonic(t *testing.T) {
	store := newTestQueue(t)
	ctx := context.Background()

	job := enqueueText(t, store)

	_, token, err := store.Lease(ctx, ClassText, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.ReportProgress(ctx, job.ID, token, 40))
	require.NoError(t, store.ReportProgress(ctx, job.ID, token, 10))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 40, got.Progress)
}

// TestTerminalWriteOnce verifies that no transition leaves a terminal
// state.
func TestTerminalWriteOnce(t *testing.T) {
	store := newTestQueue(t)
	ctx := context.Background()

	job := enqueueText(t, store)

	_, token, err := store.Lease(ctx, ClassText, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Fail(ctx, job.ID, token, "model offline"))

	// Any further mutation under the same (now cleared) lease fails.
	require.ErrorIs(
		t, store.Complete(ctx, job.ID, token, 1), ErrNotLeaseHolder,
	)
	require.ErrorIs(
		t, store.Fail(ctx, job.ID, token, "again"), ErrNotLeaseHolder,
	)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StateFailed, got.State)
	require.Equal(t, "model offline", got.FailureReason)
	require.NotNil(t, got.FinishedAt)

	// Terminal jobs are never leased again.
	_, _, err = store.Lease(ctx, ClassText, time.Minute)
	require.ErrorIs(t, err, ErrNoJobAvailable)
}

// TestRetryBackoff verifies that a retried job is invisible until its
// backoff elapses and then leases again with the attempt counter advanced.
func TestRetryBackoff(t *testing.T) {
	store := newTestQueue(t)
	ctx := context.Background()

	job := enqueueText(t, store)

	_, token, err := store.Lease(ctx, ClassText, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Retry(
		ctx, job.ID, token, 30*time.Millisecond, "rate limited",
	))

	// Still backing off: nothing to lease.
	_, _, err = store.Lease(ctx, ClassText, time.Minute)
	require.ErrorIs(t, err, ErrNoJobAvailable)

	time.Sleep(40 * time.Millisecond)

	released, _, err := store.Lease(ctx, ClassText, time.Minute)
	require.NoError(t, err)
	require.Equal(t, job.ID, released.ID)
	require.Equal(t, 2, released.Attempts)
	require.Equal(t, "rate limited", released.LastError)
}

// TestLeaseFIFO verifies oldest-first lease ordering within a class.
func TestLeaseFIFO(t *testing.T) {
	store := newTestQueue(t)
	ctx := context.Background()

	first := enqueueText(t, store)
	second := enqueueText(t, store)

	leased1, _, err := store.Lease(ctx, ClassText, time.Minute)
	require.NoError(t, err)
	require.Equal(t, first.ID, leased1.ID)

	leased2, _, err := store.Lease(ctx, ClassText, time.Minute)
	require.NoError(t, err)
	require.Equal(t, second.ID, leased2.ID)
}

// TestStats verifies the per-class aggregate counts.
func TestStats(t *testing.T) {
	store := newTestQueue(t)
	ctx := context.Background()

	// One job per state: the first four get leased oldest-first and
	// driven into active/completed/failed/delayed; the last one is
	// never leased and stays waiting.
	completed := enqueueText(t, store)
	failed := enqueueText(t, store)
	delayed := enqueueText(t, store)
	enqueueText(t, store) // stays active
	enqueueText(t, store) // stays waiting

	for i := 0; i < 4; i++ {
		job, token, err := store.Lease(ctx, ClassText, time.Minute)
		require.NoError(t, err)

		switch job.ID {
		case completed.ID:
			require.NoError(
				t, store.Complete(ctx, job.ID, token, 1),
			)
		case failed.ID:
			require.NoError(
				t, store.Fail(ctx, job.ID, token, "boom"),
			)
		case delayed.ID:
			require.NoError(t, store.Retry(
				ctx, job.ID, token, time.Hour, "later",
			))
		default:
			// Leave leased as the active one.
		}
	}

	stats, err := store.Stats(ctx, ClassText)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Waiting)
	require.EqualValues(t, 1, stats.Active)
	require.EqualValues(t, 1, stats.Completed)
	require.EqualValues(t, 1, stats.Failed)
	require.EqualValues(t, 1, stats.Delayed)
	require.EqualValues(t, 5, stats.Total())

	// The file class is untouched.
	fileStats, err := store.Stats(ctx, ClassFile)
	require.NoError(t, err)
	require.Zero(t, fileStats.Total())
}

// TestPruneTerminal verifies retention GC only touches finished jobs.
func TestPruneTerminal(t *testing.T) {
	store := newTestQueue(t)
	ctx := context.Background()

	job := enqueueText(t, store)
	keep := enqueueText(t, store)

	_, token, err := store.Lease(ctx, ClassText, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, job.ID, token, 1))

	time.Sleep(5 * time.Millisecond)

	pruned, err := store.PruneTerminal(ctx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, pruned)

	_, err = store.Get(ctx, job.ID)
	require.ErrorIs(t, err, ErrJobNotFound)

	_, err = store.Get(ctx, keep.ID)
	require.NoError(t, err)
}

// TestBackoffDelaySchedule verifies the per-class exponential schedule is
// non-decreasing and capped.
func TestBackoffDelaySchedule(t *testing.T) {
	policy := DefaultPolicy(ClassText)

	require.Equal(t, 2*time.Second, policy.BackoffDelay(1))
	require.Equal(t, 4*time.Second, policy.BackoffDelay(2))
	require.Equal(t, 8*time.Second, policy.BackoffDelay(3))

	prev := time.Duration(0)
	for attempt := 1; attempt < 20; attempt++ {
		delay := policy.BackoffDelay(attempt)
		require.GreaterOrEqual(t, delay, prev)
		require.LessOrEqual(t, delay, policy.BackoffMax)
		prev = delay
	}

	filePolicy := DefaultPolicy(ClassFile)
	require.Equal(t, 3*time.Second, filePolicy.BackoffDelay(1))
	require.Equal(t, 2, filePolicy.MaxAttempts)
}

// Package ledger implements the per-user credit ledger that gates
// admission to the summarization pipeline. The only correctness-critical
// operation is Debit: it must be atomic per user so that two concurrent
// submissions cannot both be accepted when only one credit remains.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/condenser-ai/condenser/internal/db"
)

// ErrInsufficientCredit is returned when a debit would drive a balance
// negative. Callers surface this as a rejected request (the HTTP 402
// equivalent), never as something to retry.
var ErrInsufficientCredit = errors.New("insufficient credit")

// Store provides access to per-user credit balances. Balances are
// non-negative by construction: debits use a single conditional decrement
// rather than read-then-write, and the schema enforces balance >= 0.
type Store struct {
	dbStore *db.Store
}

// NewStore creates a ledger store sharing the given database.
func NewStore(dbStore *db.Store) *Store {
	return &Store{
		dbStore: dbStore,
	}
}

// Debit atomically deducts cost credits from the user's balance and returns
// the remaining balance. If the balance is below cost, ErrInsufficientCredit
// is returned and no state changes. A user with no account has an implicit
// balance of zero.
func (s *Store) Debit(
	ctx context.Context, userID string, cost int64,
) (int64, error) {

	if cost <= 0 {
		return 0, fmt.Errorf("invalid debit cost %d", cost)
	}

	var remaining int64

	err := s.dbStore.WithTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		// The WHERE clause is the admission check: zero rows affected
		// means the balance (or the account itself) wasn't there.
		res, err := tx.ExecContext(ctx, `
			UPDATE credit_accounts
			SET balance = balance - ?, updated_at = ?
			WHERE user_id = ? AND balance >= ?`,
			cost, time.Now().UnixMilli(), userID, cost,
		)
		if err != nil {
			return fmt.Errorf("debit credits: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrInsufficientCredit
		}

		return tx.QueryRowContext(ctx,
			"SELECT balance FROM credit_accounts WHERE user_id = ?",
			userID,
		).Scan(&remaining)
	})

	return remaining, err
}

// Refund returns previously debited credits to the user. Used when a
// submission fails synchronously after its debit, and optionally when a job
// exhausts its retries (policy controlled by the pipeline).
func (s *Store) Refund(
	ctx context.Context, userID string, amount int64,
) error {

	if amount <= 0 {
		return fmt.Errorf("invalid refund amount %d", amount)
	}

	return s.credit(ctx, userID, amount)
}

// Grant adds credits to a user's balance, creating the account if needed.
// This is the administrative recharge path.
func (s *Store) Grant(
	ctx context.Context, userID string, amount int64,
) error {

	if amount <= 0 {
		return fmt.Errorf("invalid grant amount %d", amount)
	}

	return s.credit(ctx, userID, amount)
}

// credit increments a balance, inserting the account row if absent.
func (s *Store) credit(
	ctx context.Context, userID string, amount int64,
) error {

	return s.dbStore.WithTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO credit_accounts (user_id, balance,
				updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				balance = balance + excluded.balance,
				updated_at = excluded.updated_at`,
			userID, amount, time.Now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("credit account: %w", err)
		}

		return nil
	})
}

// Balance returns the user's current balance. Unknown users have a balance
// of zero.
func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64

	err := s.dbStore.WithReadTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		err := tx.QueryRowContext(ctx,
			"SELECT balance FROM credit_accounts WHERE user_id = ?",
			userID,
		).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			balance = 0
			return nil
		}

		return err
	})

	return balance, err
}

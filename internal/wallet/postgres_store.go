package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/echezona/sokopay/internal/idgen"
	"github.com/echezona/sokopay/internal/retry"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so the bucket helpers
// below can run standalone or inside a larger transaction (order
// settlement, dispute resolution, withdrawal holds).
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IsRetryableTxError reports whether err is a Postgres serialization
// failure or deadlock that a fresh transaction attempt may resolve.
func IsRetryableTxError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// RunTx executes fn inside a serializable transaction, retrying
// serialization conflicts. Domain errors abort immediately. When the
// retries are exhausted the error is wrapped in ErrConflict so callers
// can report contention instead of an internal failure.
func RunTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return wrapTxErr(runTxOnce(ctx, db, fn))
}

func wrapTxErr(err error) error {
	if IsRetryableTxError(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func runTxOnce(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return retry.Do(ctx, 3, 25*time.Millisecond, func() error {
		tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if IsRetryableTxError(err) {
				return err
			}
			return retry.Permanent(err)
		}
		if err := tx.Commit(); err != nil {
			if IsRetryableTxError(err) {
				return err
			}
			return retry.Permanent(fmt.Errorf("commit tx: %w", err))
		}
		return nil
	})
}

// EnsureTx inserts an empty wallet row if the user has none.
func EnsureTx(ctx context.Context, q DBTX, userID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO wallets (user_id, available, pending, frozen, total_earned, updated_at)
		VALUES ($1, 0, 0, 0, 0, NOW())
		ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}
	return nil
}

// CreditTx adds amount to one bucket. The wallet is created on demand
// so gateway credits never fail on first contact with a user.
func CreditTx(ctx context.Context, q DBTX, userID string, bucket Bucket, amount int64, earned bool) error {
	if !validBucket(bucket) {
		return fmt.Errorf("%w: %q", ErrInvalidBucket, bucket)
	}
	if err := EnsureTx(ctx, q, userID); err != nil {
		return err
	}
	earnedDelta := int64(0)
	if earned {
		earnedDelta = amount
	}
	query := fmt.Sprintf(`
		UPDATE wallets
		SET %s = %s + $2, total_earned = total_earned + $3, updated_at = NOW()
		WHERE user_id = $1`, bucket, bucket)
	if _, err := q.ExecContext(ctx, query, userID, amount, earnedDelta); err != nil {
		return fmt.Errorf("credit %s: %w", bucket, err)
	}
	return nil
}

// DebitTx removes amount from one bucket. The status guard in the
// WHERE clause is the overdraft check: zero rows means the bucket
// could not cover the amount (or the wallet does not exist).
func DebitTx(ctx context.Context, q DBTX, userID string, bucket Bucket, amount int64) error {
	if !validBucket(bucket) {
		return fmt.Errorf("%w: %q", ErrInvalidBucket, bucket)
	}
	query := fmt.Sprintf(`
		UPDATE wallets
		SET %s = %s - $2, updated_at = NOW()
		WHERE user_id = $1 AND %s >= $2`, bucket, bucket, bucket)
	res, err := q.ExecContext(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", bucket, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit %s: %w", bucket, err)
	}
	if n == 0 {
		if exists, eerr := walletExists(ctx, q, userID); eerr == nil && !exists {
			return ErrWalletNotFound
		}
		return fmt.Errorf("%w: %s has insufficient %s", ErrInsufficientFunds, userID, bucket)
	}
	return nil
}

// MoveTx shifts amount between two buckets of the same wallet.
func MoveTx(ctx context.Context, q DBTX, userID string, from, to Bucket, amount int64, earned bool) error {
	if !validBucket(from) || !validBucket(to) || from == to {
		return ErrInvalidBucket
	}
	earnedDelta := int64(0)
	if earned {
		earnedDelta = amount
	}
	query := fmt.Sprintf(`
		UPDATE wallets
		SET %s = %s - $2, %s = %s + $2,
		    total_earned = total_earned + $3, updated_at = NOW()
		WHERE user_id = $1 AND %s >= $2`, from, from, to, to, from)
	res, err := q.ExecContext(ctx, query, userID, amount, earnedDelta)
	if err != nil {
		return fmt.Errorf("move %s to %s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("move %s to %s: %w", from, to, err)
	}
	if n == 0 {
		if exists, eerr := walletExists(ctx, q, userID); eerr == nil && !exists {
			return ErrWalletNotFound
		}
		return fmt.Errorf("%w: %s has insufficient %s", ErrInsufficientFunds, userID, from)
	}
	return nil
}

// RecordEntryTx appends one ledger history line.
func RecordEntryTx(ctx context.Context, q DBTX, userID, kind string, bucket Bucket, amount int64, reference, detail string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO wallet_entries (id, user_id, kind, bucket, amount, reference, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		idgen.WithPrefix("ent_"), userID, kind, bucket, amount, reference, detail)
	if err != nil {
		return fmt.Errorf("record ledger entry: %w", err)
	}
	return nil
}

func walletExists(ctx context.Context, q DBTX, userID string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE user_id = $1)`, userID).Scan(&exists)
	return exists, err
}

// PostgresStore persists wallets in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ensure(ctx context.Context, userID string) error {
	return EnsureTx(ctx, s.db, userID)
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*Balance, error) {
	b := &Balance{}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, available, pending, frozen, total_earned, updated_at
		FROM wallets WHERE user_id = $1`, userID).
		Scan(&b.UserID, &b.Available, &b.Pending, &b.Frozen, &b.TotalEarned, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, bucket Bucket, amount int64, reference, detail string, earned bool) error {
	return RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := CreditTx(ctx, tx, userID, bucket, amount, earned); err != nil {
			return err
		}
		return RecordEntryTx(ctx, tx, userID, KindCredit, bucket, amount, reference, detail)
	})
}

func (s *PostgresStore) Debit(ctx context.Context, userID string, bucket Bucket, amount int64, reference, detail string) error {
	return RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := DebitTx(ctx, tx, userID, bucket, amount); err != nil {
			return err
		}
		return RecordEntryTx(ctx, tx, userID, KindDebit, bucket, amount, reference, detail)
	})
}

func (s *PostgresStore) Move(ctx context.Context, userID string, from, to Bucket, amount int64, reference, detail string, earned bool) error {
	return RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := MoveTx(ctx, tx, userID, from, to, amount, earned); err != nil {
			return err
		}
		return RecordEntryTx(ctx, tx, userID, KindMove, to, amount, reference, detail)
	})
}

func (s *PostgresStore) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, bucket, amount, reference, detail, created_at
		FROM wallet_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Bucket, &e.Amount, &e.Reference, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

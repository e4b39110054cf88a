package withdraw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/echezona/sokopay/internal/wallet"
)

// PostgresStore persists withdrawals in PostgreSQL. Holds and refunds
// run in the same transaction as the status write.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const withdrawalColumns = `id, user_id, amount, bank_code, account_number, account_name,
	status, COALESCE(failure_reason, ''), created_at, settled_at`

func scanWithdrawal(row interface{ Scan(...any) error }) (*Withdrawal, error) {
	w := &Withdrawal{}
	var settledAt sql.NullTime
	err := row.Scan(&w.ID, &w.UserID, &w.Amount, &w.BankCode, &w.AccountNumber,
		&w.AccountName, &w.Status, &w.FailureReason, &w.CreatedAt, &settledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan withdrawal: %w", err)
	}
	if settledAt.Valid {
		w.SettledAt = &settledAt.Time
	}
	return w, nil
}

func (s *PostgresStore) CreateHold(ctx context.Context, w *Withdrawal) error {
	return wallet.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := wallet.DebitTx(ctx, tx, w.UserID, wallet.BucketAvailable, w.Amount); err != nil {
			return err
		}
		if err := wallet.RecordEntryTx(ctx, tx, w.UserID, wallet.KindDebit, wallet.BucketAvailable, w.Amount, w.ID, "withdrawal hold"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO withdrawals (id, user_id, amount, bank_code, account_number, account_name, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			w.ID, w.UserID, w.Amount, w.BankCode, w.AccountNumber, w.AccountName, w.Status, w.CreatedAt); err != nil {
			return fmt.Errorf("create withdrawal: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Withdrawal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id)
	return scanWithdrawal(row)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	defer rows.Close()
	return scanWithdrawals(rows)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status string, limit int) ([]*Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals by status: %w", err)
	}
	defer rows.Close()
	return scanWithdrawals(rows)
}

func scanWithdrawals(rows *sql.Rows) ([]*Withdrawal, error) {
	var out []*Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Complete(ctx context.Context, id string) (*Withdrawal, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE withdrawals
		SET status = 'completed', settled_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+withdrawalColumns, id)
	w, err := scanWithdrawal(row)
	if errors.Is(err, ErrWithdrawalNotFound) {
		return nil, s.stateError(ctx, id)
	}
	return w, err
}

func (s *PostgresStore) Fail(ctx context.Context, id, reason string) (*Withdrawal, error) {
	var out *Withdrawal
	err := wallet.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE withdrawals
			SET status = 'failed', failure_reason = $2, settled_at = NOW()
			WHERE id = $1 AND status = 'pending'
			RETURNING `+withdrawalColumns, id, reason)
		w, err := scanWithdrawal(row)
		if errors.Is(err, ErrWithdrawalNotFound) {
			return s.stateErrorTx(ctx, tx, id)
		}
		if err != nil {
			return err
		}

		if err := wallet.CreditTx(ctx, tx, w.UserID, wallet.BucketAvailable, w.Amount, false); err != nil {
			return err
		}
		if err := wallet.RecordEntryTx(ctx, tx, w.UserID, wallet.KindCredit, wallet.BucketAvailable, w.Amount, w.ID, "withdrawal refund"); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) stateError(ctx context.Context, id string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM withdrawals WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrWithdrawalNotFound
	}
	if err != nil {
		return fmt.Errorf("check withdrawal status: %w", err)
	}
	return fmt.Errorf("%w: %s", ErrInvalidState, status)
}

func (s *PostgresStore) stateErrorTx(ctx context.Context, tx *sql.Tx, id string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM withdrawals WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrWithdrawalNotFound
	}
	if err != nil {
		return fmt.Errorf("check withdrawal status: %w", err)
	}
	return fmt.Errorf("%w: %s", ErrInvalidState, status)
}

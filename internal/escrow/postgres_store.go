package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/echezona/sokopay/internal/wallet"
)

// PostgresStore persists orders and disputes in PostgreSQL. Every
// transition runs one serializable transaction covering the status
// guard, the wallet moves and the ledger entries, so a crash can never
// leave an order settled without its money moved.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, reference, buyer_id, seller_id, product_id, amount, status,
	COALESCE(authorization_url, ''), created_at, paid_at, settled_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*Order, error) {
	o := &Order{}
	var paidAt, settledAt sql.NullTime
	err := row.Scan(&o.ID, &o.Reference, &o.BuyerID, &o.SellerID, &o.ProductID,
		&o.Amount, &o.Status, &o.AuthorizationURL, &o.CreatedAt, &paidAt, &settledAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	if settledAt.Valid {
		o.SettledAt = &settledAt.Time
	}
	return o, nil
}

const disputeColumns = `id, order_id, opened_by, reason, status, COALESCE(outcome, ''),
	COALESCE(note, ''), created_at, resolved_at`

func scanDispute(row interface{ Scan(...any) error }) (*Dispute, error) {
	d := &Dispute{}
	var resolvedAt sql.NullTime
	err := row.Scan(&d.ID, &d.OrderID, &d.OpenedBy, &d.Reason, &d.Status,
		&d.Outcome, &d.Note, &d.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan dispute: %w", err)
	}
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}
	return d, nil
}

func (s *PostgresStore) Create(ctx context.Context, o *Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, reference, buyer_id, seller_id, product_id, amount, status,
		                    authorization_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.Reference, o.BuyerID, o.SellerID, o.ProductID, o.Amount, o.Status,
		o.AuthorizationURL, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (s *PostgresStore) GetByReference(ctx context.Context, reference string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE reference = $1`, reference)
	return scanOrder(row)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresStore) ListReleasable(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = 'paid' AND paid_at < $1
		ORDER BY paid_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list releasable orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]*Order, error) {
	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) MarkPaid(ctx context.Context, reference string, paidAt time.Time) (*Order, bool, error) {
	var out *Order
	applied := false

	err := wallet.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		// The status guard in the UPDATE is the idempotency barrier:
		// a webhook replay matches zero rows and moves no money.
		row := tx.QueryRowContext(ctx, `
			UPDATE orders
			SET status = 'paid', paid_at = $2, updated_at = NOW()
			WHERE reference = $1 AND status = 'pending'
			RETURNING `+orderColumns, reference, paidAt)
		o, err := scanOrder(row)
		if errors.Is(err, ErrOrderNotFound) {
			applied = false
			return nil
		}
		if err != nil {
			return err
		}

		if err := wallet.CreditTx(ctx, tx, o.SellerID, wallet.BucketPending, o.Amount, false); err != nil {
			return err
		}
		if err := wallet.RecordEntryTx(ctx, tx, o.SellerID, wallet.KindCredit, wallet.BucketPending, o.Amount, o.Reference, "escrow hold"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET available = FALSE, updated_at = NOW() WHERE id = $1`, o.ProductID); err != nil {
			return fmt.Errorf("mark product sold: %w", err)
		}

		out = o
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !applied {
		o, err := s.GetByReference(ctx, reference)
		if err != nil {
			return nil, false, err
		}
		return o, false, nil
	}
	return out, true, nil
}

func (s *PostgresStore) Settle(ctx context.Context, orderID string, fee int64) (*Order, error) {
	var out *Order
	err := wallet.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE orders
			SET status = 'completed', settled_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = 'paid'
			RETURNING `+orderColumns, orderID)
		o, err := scanOrder(row)
		if errors.Is(err, ErrOrderNotFound) {
			return s.transitionError(ctx, tx, orderID, "settle")
		}
		if err != nil {
			return err
		}
		if err := releaseEscrowTx(ctx, tx, o, wallet.BucketPending, fee); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// releaseEscrowTx moves the escrowed amount from the given bucket into
// the seller's available balance, carving out the platform fee.
func releaseEscrowTx(ctx context.Context, tx *sql.Tx, o *Order, from wallet.Bucket, fee int64) error {
	if fee < 0 || fee >= o.Amount {
		fee = 0
	}
	net := o.Amount - fee
	if err := wallet.MoveTx(ctx, tx, o.SellerID, from, wallet.BucketAvailable, net, true); err != nil {
		return err
	}
	if err := wallet.RecordEntryTx(ctx, tx, o.SellerID, wallet.KindMove, wallet.BucketAvailable, net, o.Reference, "escrow released"); err != nil {
		return err
	}
	if fee > 0 {
		if err := wallet.DebitTx(ctx, tx, o.SellerID, from, fee); err != nil {
			return err
		}
		if err := wallet.RecordEntryTx(ctx, tx, o.SellerID, wallet.KindDebit, from, fee, o.Reference, "platform commission"); err != nil {
			return err
		}
		if err := wallet.CreditTx(ctx, tx, PlatformAccountID, wallet.BucketAvailable, fee, false); err != nil {
			return err
		}
		if err := wallet.RecordEntryTx(ctx, tx, PlatformAccountID, wallet.KindCredit, wallet.BucketAvailable, fee, o.Reference, "platform commission"); err != nil {
			return err
		}
	}
	return nil
}

// transitionError distinguishes a missing order from a guarded status.
func (s *PostgresStore) transitionError(ctx context.Context, tx *sql.Tx, orderID, op string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("check order status: %w", err)
	}
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, status)
}

func (s *PostgresStore) OpenDispute(ctx context.Context, d *Dispute) (*Order, error) {
	var out *Order
	err := wallet.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE orders
			SET status = 'disputed', updated_at = NOW()
			WHERE id = $1 AND status = 'paid'
			RETURNING `+orderColumns, d.OrderID)
		o, err := scanOrder(row)
		if errors.Is(err, ErrOrderNotFound) {
			return s.transitionError(ctx, tx, d.OrderID, "dispute")
		}
		if err != nil {
			return err
		}

		if err := wallet.MoveTx(ctx, tx, o.SellerID, wallet.BucketPending, wallet.BucketFrozen, o.Amount, false); err != nil {
			return err
		}
		if err := wallet.RecordEntryTx(ctx, tx, o.SellerID, wallet.KindMove, wallet.BucketFrozen, o.Amount, o.Reference, "dispute opened"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO disputes (id, order_id, opened_by, reason, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			d.ID, d.OrderID, d.OpenedBy, d.Reason, d.Status, d.CreatedAt); err != nil {
			return fmt.Errorf("create dispute: %w", err)
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ResolveDispute(ctx context.Context, disputeID string, outcome Outcome, fee int64, note string) (*Order, *Dispute, error) {
	if outcome != OutcomeRelease && outcome != OutcomeRefund {
		return nil, nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidTransition, outcome)
	}

	var (
		outOrder   *Order
		outDispute *Dispute
	)
	err := wallet.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE disputes
			SET status = 'resolved', outcome = $2, note = $3, resolved_at = NOW()
			WHERE id = $1 AND status = 'open'
			RETURNING `+disputeColumns, disputeID, outcome, note)
		d, err := scanDispute(row)
		if errors.Is(err, ErrDisputeNotFound) {
			var status string
			serr := tx.QueryRowContext(ctx, `SELECT status FROM disputes WHERE id = $1`, disputeID).Scan(&status)
			if errors.Is(serr, sql.ErrNoRows) {
				return ErrDisputeNotFound
			}
			if serr != nil {
				return fmt.Errorf("check dispute status: %w", serr)
			}
			return fmt.Errorf("%w: dispute already resolved", ErrInvalidTransition)
		}
		if err != nil {
			return err
		}

		finalStatus := StatusCompleted
		if outcome == OutcomeRefund {
			finalStatus = StatusRefunded
		}
		row = tx.QueryRowContext(ctx, `
			UPDATE orders
			SET status = $2, settled_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = 'disputed'
			RETURNING `+orderColumns, d.OrderID, finalStatus)
		o, err := scanOrder(row)
		if errors.Is(err, ErrOrderNotFound) {
			return s.transitionError(ctx, tx, d.OrderID, "resolve")
		}
		if err != nil {
			return err
		}

		switch outcome {
		case OutcomeRelease:
			if err := releaseEscrowTx(ctx, tx, o, wallet.BucketFrozen, fee); err != nil {
				return err
			}
		case OutcomeRefund:
			if err := wallet.DebitTx(ctx, tx, o.SellerID, wallet.BucketFrozen, o.Amount); err != nil {
				return err
			}
			if err := wallet.RecordEntryTx(ctx, tx, o.SellerID, wallet.KindDebit, wallet.BucketFrozen, o.Amount, o.Reference, "dispute refund"); err != nil {
				return err
			}
			if err := wallet.CreditTx(ctx, tx, o.BuyerID, wallet.BucketAvailable, o.Amount, false); err != nil {
				return err
			}
			if err := wallet.RecordEntryTx(ctx, tx, o.BuyerID, wallet.KindCredit, wallet.BucketAvailable, o.Amount, o.Reference, "dispute refund"); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE products SET available = TRUE, updated_at = NOW() WHERE id = $1`, o.ProductID); err != nil {
				return fmt.Errorf("relist product: %w", err)
			}
		}

		outOrder = o
		outDispute = d
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return outOrder, outDispute, nil
}

func (s *PostgresStore) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	return scanDispute(row)
}

func (s *PostgresStore) ListDisputes(ctx context.Context, status string, limit int) ([]*Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes`
	args := []any{limit}
	if status != "" {
		query += ` WHERE status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	defer rows.Close()

	var disputes []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

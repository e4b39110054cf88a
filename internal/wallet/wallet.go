// Package wallet implements the three-bucket ledger that backs every
// money movement on the platform.
//
// Each user has exactly one wallet with three balances, all in kobo:
// - available: spendable now (withdrawals, purchases)
// - pending:   escrowed earnings waiting for delivery confirmation
// - frozen:    escrowed earnings locked by an open dispute
//
// Buckets only ever change through Credit, Debit and Move, and every
// change writes a ledger entry in the same transaction, so the entry
// history always reconciles with the balances.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/echezona/sokopay/internal/metrics"
)

// Bucket identifies one of the three wallet balances.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketPending   Bucket = "pending"
	BucketFrozen    Bucket = "frozen"
)

// Entry kinds recorded in the ledger history.
const (
	KindCredit = "credit"
	KindDebit  = "debit"
	KindMove   = "move"
)

var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidBucket     = errors.New("unknown wallet bucket")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrConflict          = errors.New("wallet operation conflict")
)

// Balance is a point-in-time snapshot of one user's wallet.
type Balance struct {
	UserID      string    `json:"userId"`
	Available   int64     `json:"available"`
	Pending     int64     `json:"pending"`
	Frozen      int64     `json:"frozen"`
	TotalEarned int64     `json:"totalEarned"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Total returns the sum of all three buckets.
func (b *Balance) Total() int64 {
	return b.Available + b.Pending + b.Frozen
}

// Entry is one line of the append-only ledger history.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind"`
	Bucket    Bucket    `json:"bucket"`
	Amount    int64     `json:"amount"`
	Reference string    `json:"reference,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists wallets and their ledger entries.
//
// Implementations must apply each operation atomically: a balance
// change and its ledger entry either both land or neither does.
type Store interface {
	// Ensure creates an empty wallet for userID if none exists.
	Ensure(ctx context.Context, userID string) error

	// Get returns the wallet for userID.
	Get(ctx context.Context, userID string) (*Balance, error)

	// Credit adds amount to one bucket. earned also bumps totalEarned.
	Credit(ctx context.Context, userID string, bucket Bucket, amount int64, reference, detail string, earned bool) error

	// Debit removes amount from one bucket, failing with
	// ErrInsufficientFunds if the bucket would go negative.
	Debit(ctx context.Context, userID string, bucket Bucket, amount int64, reference, detail string) error

	// Move shifts amount between two buckets of the same wallet.
	// earned bumps totalEarned, used when escrow settles into available.
	Move(ctx context.Context, userID string, from, to Bucket, amount int64, reference, detail string, earned bool) error

	// History returns the most recent ledger entries, newest first.
	History(ctx context.Context, userID string, limit int) ([]*Entry, error)
}

// Ledger validates and instruments wallet operations on top of a Store.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

func validBucket(b Bucket) bool {
	switch b {
	case BucketAvailable, BucketPending, BucketFrozen:
		return true
	}
	return false
}

func (l *Ledger) Ensure(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrWalletNotFound)
	}
	return l.store.Ensure(ctx, userID)
}

func (l *Ledger) Get(ctx context.Context, userID string) (*Balance, error) {
	return l.store.Get(ctx, userID)
}

func (l *Ledger) Credit(ctx context.Context, userID string, bucket Bucket, amount int64, reference, detail string, earned bool) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !validBucket(bucket) {
		return fmt.Errorf("%w: %q", ErrInvalidBucket, bucket)
	}
	if err := l.store.Credit(ctx, userID, bucket, amount, reference, detail, earned); err != nil {
		return err
	}
	metrics.WalletMovesTotal.WithLabelValues(KindCredit).Inc()
	return nil
}

func (l *Ledger) Debit(ctx context.Context, userID string, bucket Bucket, amount int64, reference, detail string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !validBucket(bucket) {
		return fmt.Errorf("%w: %q", ErrInvalidBucket, bucket)
	}
	if err := l.store.Debit(ctx, userID, bucket, amount, reference, detail); err != nil {
		return err
	}
	metrics.WalletMovesTotal.WithLabelValues(KindDebit).Inc()
	return nil
}

func (l *Ledger) Move(ctx context.Context, userID string, from, to Bucket, amount int64, reference, detail string, earned bool) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !validBucket(from) || !validBucket(to) {
		return ErrInvalidBucket
	}
	if from == to {
		return fmt.Errorf("%w: move from %q to itself", ErrInvalidBucket, from)
	}
	if err := l.store.Move(ctx, userID, from, to, amount, reference, detail, earned); err != nil {
		return err
	}
	metrics.WalletMovesTotal.WithLabelValues(KindMove).Inc()
	return nil
}

func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return l.store.History(ctx, userID, limit)
}

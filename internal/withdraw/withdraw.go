// Package withdraw moves wallet funds out to a bank account.
//
// Requesting a withdrawal debits the available balance immediately
// (the hold), so the money cannot be spent twice while the payout is
// in flight. An admin then marks the payout completed, or failed,
// which refunds the hold.
package withdraw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/echezona/sokopay/internal/idgen"
	"github.com/echezona/sokopay/internal/metrics"
)

// Withdrawal states.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var (
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrInvalidState       = errors.New("withdrawal not pending")
	ErrBelowMinimum       = errors.New("withdrawal below minimum amount")
)

// Withdrawal is one payout request.
type Withdrawal struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Amount        int64      `json:"amount"`
	BankCode      string     `json:"bankCode"`
	AccountNumber string     `json:"accountNumber"`
	AccountName   string     `json:"accountName"`
	Status        string     `json:"status"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	SettledAt     *time.Time `json:"settledAt,omitempty"`
}

// Store persists withdrawals. CreateHold and Fail pair the status
// write with its wallet move atomically.
type Store interface {
	// CreateHold debits the user's available balance and records the
	// pending withdrawal in one step.
	CreateHold(ctx context.Context, w *Withdrawal) error

	Get(ctx context.Context, id string) (*Withdrawal, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Withdrawal, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*Withdrawal, error)

	// Complete marks a pending withdrawal paid out.
	Complete(ctx context.Context, id string) (*Withdrawal, error)

	// Fail marks a pending withdrawal failed and refunds the hold.
	Fail(ctx context.Context, id, reason string) (*Withdrawal, error)
}

// Notifier delivers best-effort user notifications.
type Notifier interface {
	Notify(userID, kind, message string)
}

// Service drives the withdrawal lifecycle.
type Service struct {
	store     Store
	notifier  Notifier
	minAmount int64
	logger    *slog.Logger
}

// NewService builds a withdrawal service. minAmount is the smallest
// request accepted in kobo; zero disables the floor.
func NewService(store Store, notifier Notifier, minAmount int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, notifier: notifier, minAmount: minAmount, logger: logger}
}

// Request places a hold on the user's available balance.
func (s *Service) Request(ctx context.Context, userID string, amount int64, bankCode, accountNumber, accountName string) (*Withdrawal, error) {
	if s.minAmount > 0 && amount < s.minAmount {
		return nil, fmt.Errorf("%w: minimum is %d kobo", ErrBelowMinimum, s.minAmount)
	}
	w := &Withdrawal{
		ID:            idgen.WithPrefix("wd_"),
		UserID:        userID,
		Amount:        amount,
		BankCode:      bankCode,
		AccountNumber: accountNumber,
		AccountName:   accountName,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateHold(ctx, w); err != nil {
		return nil, err
	}
	metrics.WithdrawalsTotal.WithLabelValues(StatusPending).Inc()
	s.logger.Info("withdrawal requested", "withdrawal", w.ID, "user", userID, "amount", amount)
	return w, nil
}

// Complete marks a payout done. Admin only, enforced at the route level.
func (s *Service) Complete(ctx context.Context, id string) (*Withdrawal, error) {
	w, err := s.store.Complete(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics.WithdrawalsTotal.WithLabelValues(StatusCompleted).Inc()
	s.notifier.Notify(w.UserID, "withdrawal.completed",
		fmt.Sprintf("Withdrawal of %d kobo was paid out.", w.Amount))
	return w, nil
}

// Fail refunds the hold. Admin only, enforced at the route level.
func (s *Service) Fail(ctx context.Context, id, reason string) (*Withdrawal, error) {
	w, err := s.store.Fail(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	metrics.WithdrawalsTotal.WithLabelValues(StatusFailed).Inc()
	s.notifier.Notify(w.UserID, "withdrawal.failed",
		fmt.Sprintf("Withdrawal of %d kobo failed and was refunded: %s", w.Amount, reason))
	return w, nil
}

// Get returns a withdrawal visible to its owner or an admin.
func (s *Service) Get(ctx context.Context, requesterID string, isAdmin bool, id string) (*Withdrawal, error) {
	w, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && w.UserID != requesterID {
		return nil, ErrWithdrawalNotFound
	}
	return w, nil
}

// ListByUser returns the user's withdrawals, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Withdrawal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// ListPending returns pending withdrawals for the admin payout queue.
func (s *Service) ListPending(ctx context.Context, limit int) ([]*Withdrawal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByStatus(ctx, StatusPending, limit)
}

package withdraw

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/echezona/sokopay/internal/wallet"
)

// MemoryStore keeps withdrawals in memory, applying wallet moves
// through the injected store. Used for tests and local dev.
type MemoryStore struct {
	mu          sync.Mutex
	withdrawals map[string]*Withdrawal
	wallets     wallet.Store
}

func NewMemoryStore(wallets wallet.Store) *MemoryStore {
	return &MemoryStore{
		withdrawals: make(map[string]*Withdrawal),
		wallets:     wallets,
	}
}

func (s *MemoryStore) CreateHold(ctx context.Context, w *Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wallets.Debit(ctx, w.UserID, wallet.BucketAvailable, w.Amount, w.ID, "withdrawal hold"); err != nil {
		return err
	}
	cp := *w
	s.withdrawals[w.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Withdrawal, error) {
	return s.list(func(w *Withdrawal) bool { return w.UserID == userID }, limit)
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status string, limit int) ([]*Withdrawal, error) {
	return s.list(func(w *Withdrawal) bool { return w.Status == status }, limit)
}

func (s *MemoryStore) list(match func(*Withdrawal) bool, limit int) ([]*Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Withdrawal, 0)
	for _, w := range s.withdrawals {
		if !match(w) {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Complete(ctx context.Context, id string) (*Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	if w.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, w.Status)
	}
	now := time.Now()
	w.Status = StatusCompleted
	w.SettledAt = &now
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) Fail(ctx context.Context, id, reason string) (*Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	if w.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, w.Status)
	}
	if err := s.wallets.Credit(ctx, w.UserID, wallet.BucketAvailable, w.Amount, w.ID, "withdrawal refund", false); err != nil {
		return nil, err
	}
	now := time.Now()
	w.Status = StatusFailed
	w.FailureReason = reason
	w.SettledAt = &now
	cp := *w
	return &cp, nil
}

package wallet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/echezona/sokopay/internal/idgen"
)

// MemoryStore keeps wallets in memory. Used for tests and local dev.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*Balance
	entries map[string][]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Balance),
		entries: make(map[string][]*Entry),
	}
}

func (s *MemoryStore) Ensure(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(userID)
	return nil
}

func (s *MemoryStore) ensureLocked(userID string) *Balance {
	b, ok := s.wallets[userID]
	if !ok {
		b = &Balance{UserID: userID, UpdatedAt: time.Now()}
		s.wallets[userID] = b
	}
	return b
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) Credit(ctx context.Context, userID string, bucket Bucket, amount int64, reference, detail string, earned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.ensureLocked(userID)
	s.add(b, bucket, amount)
	if earned {
		b.TotalEarned += amount
	}
	b.UpdatedAt = time.Now()
	s.appendEntry(userID, KindCredit, bucket, amount, reference, detail)
	return nil
}

func (s *MemoryStore) Debit(ctx context.Context, userID string, bucket Bucket, amount int64, reference, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	if s.bucketOf(b, bucket) < amount {
		return fmt.Errorf("%w: %s has insufficient %s", ErrInsufficientFunds, userID, bucket)
	}
	s.add(b, bucket, -amount)
	b.UpdatedAt = time.Now()
	s.appendEntry(userID, KindDebit, bucket, amount, reference, detail)
	return nil
}

func (s *MemoryStore) Move(ctx context.Context, userID string, from, to Bucket, amount int64, reference, detail string, earned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	if s.bucketOf(b, from) < amount {
		return fmt.Errorf("%w: %s has insufficient %s", ErrInsufficientFunds, userID, from)
	}
	s.add(b, from, -amount)
	s.add(b, to, amount)
	if earned {
		b.TotalEarned += amount
	}
	b.UpdatedAt = time.Now()
	s.appendEntry(userID, KindMove, to, amount, reference, detail)
	return nil
}

func (s *MemoryStore) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.entries[userID]
	out := make([]*Entry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}

// TotalAcrossWallets sums every bucket of every wallet. Conservation
// checks in tests use it: escrow moves must never change this total.
func (s *MemoryStore) TotalAcrossWallets() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, b := range s.wallets {
		total += b.Total()
	}
	return total
}

// UserIDs returns all wallet owners, sorted. Test helper.
func (s *MemoryStore) UserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.wallets))
	for id := range s.wallets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *MemoryStore) add(b *Balance, bucket Bucket, delta int64) {
	switch bucket {
	case BucketAvailable:
		b.Available += delta
	case BucketPending:
		b.Pending += delta
	case BucketFrozen:
		b.Frozen += delta
	}
}

func (s *MemoryStore) bucketOf(b *Balance, bucket Bucket) int64 {
	switch bucket {
	case BucketAvailable:
		return b.Available
	case BucketPending:
		return b.Pending
	case BucketFrozen:
		return b.Frozen
	}
	return 0
}

func (s *MemoryStore) appendEntry(userID, kind string, bucket Bucket, amount int64, reference, detail string) {
	s.entries[userID] = append(s.entries[userID], &Entry{
		ID:        idgen.WithPrefix("ent_"),
		UserID:    userID,
		Kind:      kind,
		Bucket:    bucket,
		Amount:    amount,
		Reference: reference,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
}

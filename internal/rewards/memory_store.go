package rewards

import (
	"context"
	"sync"

	"github.com/echezona/sokopay/internal/wallet"
)

// MemoryStore keeps ad-watch claims in memory. Used for tests and
// local dev.
type MemoryStore struct {
	mu      sync.Mutex
	claims  map[string]bool
	wallets wallet.Store
}

func NewMemoryStore(wallets wallet.Store) *MemoryStore {
	return &MemoryStore{
		claims:  make(map[string]bool),
		wallets: wallets,
	}
}

func (s *MemoryStore) ClaimAdWatch(ctx context.Context, userID, day string, amount int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userID + "|" + day
	if s.claims[key] {
		return false, nil
	}
	if err := s.wallets.Credit(ctx, userID, wallet.BucketAvailable, amount, "ad:"+day, "ad reward", false); err != nil {
		return false, err
	}
	s.claims[key] = true
	return true, nil
}

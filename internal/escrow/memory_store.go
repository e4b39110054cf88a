package escrow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/echezona/sokopay/internal/product"
	"github.com/echezona/sokopay/internal/wallet"
)

// MemoryStore keeps orders and disputes in memory, applying wallet and
// catalog side effects through the injected stores. Used for tests and
// local dev. Transitions are serialized under one lock so the status
// guard and the wallet move cannot interleave.
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[string]*Order
	byRef    map[string]string
	disputes map[string]*Dispute
	wallets  wallet.Store
	products product.Store
}

func NewMemoryStore(wallets wallet.Store, products product.Store) *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*Order),
		byRef:    make(map[string]string),
		disputes: make(map[string]*Dispute),
		wallets:  wallets,
		products: products,
	}
}

func (s *MemoryStore) Create(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	s.byRef[o.Reference] = o.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *MemoryStore) getLocked(id string) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) GetByReference(ctx context.Context, reference string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[reference]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return s.getLocked(id)
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Order, 0)
	for _, o := range s.orders {
		if o.BuyerID != userID && o.SellerID != userID {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListReleasable(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Order, 0)
	for _, o := range s.orders {
		if o.Status != StatusPaid || o.PaidAt == nil || !o.PaidAt.Before(cutoff) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaidAt.Before(*out[j].PaidAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkPaid(ctx context.Context, reference string, paidAt time.Time) (*Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byRef[reference]
	if !ok {
		return nil, false, ErrOrderNotFound
	}
	o := s.orders[id]
	if o.Status != StatusPending {
		cp := *o
		return &cp, false, nil
	}

	if err := s.wallets.Credit(ctx, o.SellerID, wallet.BucketPending, o.Amount, o.Reference, "escrow hold", false); err != nil {
		return nil, false, err
	}
	if _, err := s.products.MarkSold(ctx, o.ProductID); err != nil {
		return nil, false, err
	}

	o.Status = StatusPaid
	t := paidAt
	o.PaidAt = &t
	o.UpdatedAt = time.Now()
	cp := *o
	return &cp, true, nil
}

func (s *MemoryStore) Settle(ctx context.Context, orderID string, fee int64) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status != StatusPaid {
		return nil, fmt.Errorf("%w: settle from %s", ErrInvalidTransition, o.Status)
	}
	if err := s.releaseEscrowLocked(ctx, o.SellerID, wallet.BucketPending, o, fee); err != nil {
		return nil, err
	}

	o.Status = StatusCompleted
	now := time.Now()
	o.SettledAt = &now
	o.UpdatedAt = now
	cp := *o
	return &cp, nil
}

// releaseEscrowLocked moves the escrowed amount (held in from) to the
// seller's available bucket, carving out the platform fee.
func (s *MemoryStore) releaseEscrowLocked(ctx context.Context, sellerID string, from wallet.Bucket, o *Order, fee int64) error {
	if fee < 0 || fee >= o.Amount {
		fee = 0
	}
	net := o.Amount - fee
	if err := s.wallets.Move(ctx, sellerID, from, wallet.BucketAvailable, net, o.Reference, "escrow released", true); err != nil {
		return err
	}
	if fee > 0 {
		if err := s.wallets.Debit(ctx, sellerID, from, fee, o.Reference, "platform commission"); err != nil {
			return err
		}
		if err := s.wallets.Credit(ctx, PlatformAccountID, wallet.BucketAvailable, fee, o.Reference, "platform commission", false); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) OpenDispute(ctx context.Context, d *Dispute) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[d.OrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status != StatusPaid {
		return nil, fmt.Errorf("%w: dispute from %s", ErrInvalidTransition, o.Status)
	}
	if err := s.wallets.Move(ctx, o.SellerID, wallet.BucketPending, wallet.BucketFrozen, o.Amount, o.Reference, "dispute opened", false); err != nil {
		return nil, err
	}

	o.Status = StatusDisputed
	o.UpdatedAt = time.Now()
	cp := *d
	s.disputes[d.ID] = &cp
	ocp := *o
	return &ocp, nil
}

func (s *MemoryStore) ResolveDispute(ctx context.Context, disputeID string, outcome Outcome, fee int64, note string) (*Order, *Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.disputes[disputeID]
	if !ok {
		return nil, nil, ErrDisputeNotFound
	}
	if d.Status != DisputeOpen {
		return nil, nil, fmt.Errorf("%w: dispute already resolved", ErrInvalidTransition)
	}
	o, ok := s.orders[d.OrderID]
	if !ok {
		return nil, nil, ErrOrderNotFound
	}
	if o.Status != StatusDisputed {
		return nil, nil, fmt.Errorf("%w: resolve from %s", ErrInvalidTransition, o.Status)
	}

	now := time.Now()
	switch outcome {
	case OutcomeRelease:
		if err := s.releaseEscrowLocked(ctx, o.SellerID, wallet.BucketFrozen, o, fee); err != nil {
			return nil, nil, err
		}
		o.Status = StatusCompleted
	case OutcomeRefund:
		if err := s.wallets.Debit(ctx, o.SellerID, wallet.BucketFrozen, o.Amount, o.Reference, "dispute refund"); err != nil {
			return nil, nil, err
		}
		if err := s.wallets.Credit(ctx, o.BuyerID, wallet.BucketAvailable, o.Amount, o.Reference, "dispute refund", false); err != nil {
			return nil, nil, err
		}
		if err := s.products.Relist(ctx, o.ProductID); err != nil {
			return nil, nil, err
		}
		o.Status = StatusRefunded
	default:
		return nil, nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidTransition, outcome)
	}

	o.SettledAt = &now
	o.UpdatedAt = now
	d.Status = DisputeResolved
	d.Outcome = outcome
	d.Note = note
	d.ResolvedAt = &now

	ocp := *o
	dcp := *d
	return &ocp, &dcp, nil
}

func (s *MemoryStore) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) ListDisputes(ctx context.Context, status string, limit int) ([]*Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Dispute, 0)
	for _, d := range s.disputes {
		if status != "" && d.Status != status {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

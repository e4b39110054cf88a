// Package dispute orchestrates the dispute lifecycle.
//
// Disputes pause an escrow: opening one freezes the seller's held
// funds, and only an admin resolution thaws them, either releasing to
// the seller or refunding the buyer. The money moves themselves are
// the escrow store's transactional transitions; this layer adds
// authorization, metrics and notifications.
package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/echezona/sokopay/internal/escrow"
	"github.com/echezona/sokopay/internal/identity"
	"github.com/echezona/sokopay/internal/idgen"
	"github.com/echezona/sokopay/internal/metrics"
	"github.com/echezona/sokopay/internal/traces"
)

// Notifier delivers best-effort user notifications.
type Notifier interface {
	Notify(userID, kind, message string)
}

// Service opens and resolves disputes.
type Service struct {
	store         escrow.Store
	notifier      Notifier
	commissionBps int64
	logger        *slog.Logger
}

func NewService(store escrow.Store, notifier Notifier, commissionBps int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, notifier: notifier, commissionBps: commissionBps, logger: logger}
}

// Open files a dispute against a paid order. Either participant may
// open it; the escrowed amount is frozen in the same transition.
func (s *Service) Open(ctx context.Context, userID, orderID, reason string) (*escrow.Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Open",
		traces.UserID(userID), traces.OrderID(orderID))
	defer span.End()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != userID && o.SellerID != userID {
		return nil, escrow.ErrNotParticipant
	}

	d := &escrow.Dispute{
		ID:        idgen.WithPrefix("dsp_"),
		OrderID:   orderID,
		OpenedBy:  userID,
		Reason:    reason,
		Status:    escrow.DisputeOpen,
		CreatedAt: time.Now(),
	}
	o, err = s.store.OpenDispute(ctx, d)
	if err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues("opened").Inc()
	metrics.OrdersTotal.WithLabelValues(string(escrow.StatusDisputed)).Inc()
	s.logger.Info("dispute opened", "dispute", d.ID, "order", orderID, "by", userID)

	other := o.SellerID
	if userID == o.SellerID {
		other = o.BuyerID
	}
	s.notifier.Notify(other, "dispute.opened",
		fmt.Sprintf("A dispute was opened on order %s. The escrowed funds are frozen pending review.", o.ID))
	return d, nil
}

// Resolve closes an open dispute. Admin only, enforced at the route
// level. release settles to the seller minus commission; refund
// returns the full amount to the buyer and relists the product.
func (s *Service) Resolve(ctx context.Context, adminID, disputeID string, outcome escrow.Outcome, note string) (*escrow.Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Resolve", traces.DisputeID(disputeID))
	defer span.End()

	d, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	o, err := s.store.Get(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}

	fee := int64(0)
	if outcome == escrow.OutcomeRelease {
		fee = o.Amount * s.commissionBps / 10000
	}

	o, d, err = s.store.ResolveDispute(ctx, disputeID, outcome, fee, note)
	if err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues(string(outcome)).Inc()
	metrics.OrdersTotal.WithLabelValues(string(o.Status)).Inc()
	s.logger.Info("dispute resolved",
		"dispute", d.ID, "order", o.ID, "outcome", outcome, "admin", adminID)

	switch outcome {
	case escrow.OutcomeRelease:
		s.notifier.Notify(o.SellerID, "dispute.resolved",
			fmt.Sprintf("Dispute on order %s resolved in your favour. Funds released.", o.ID))
		s.notifier.Notify(o.BuyerID, "dispute.resolved",
			fmt.Sprintf("Dispute on order %s resolved for the seller.", o.ID))
	case escrow.OutcomeRefund:
		s.notifier.Notify(o.BuyerID, "dispute.resolved",
			fmt.Sprintf("Dispute on order %s resolved in your favour. You were refunded %d kobo.", o.ID, o.Amount))
		s.notifier.Notify(o.SellerID, "dispute.resolved",
			fmt.Sprintf("Dispute on order %s resolved for the buyer.", o.ID))
	}
	return d, nil
}

// Get returns one dispute, visible to order participants and staff.
func (s *Service) Get(ctx context.Context, userID, role, disputeID string) (*escrow.Dispute, error) {
	d, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if identity.IsStaff(role) {
		return d, nil
	}
	o, err := s.store.Get(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != userID && o.SellerID != userID {
		return nil, escrow.ErrNotParticipant
	}
	return d, nil
}

// List returns disputes for admin review, newest first.
func (s *Service) List(ctx context.Context, status string, limit int) ([]*escrow.Dispute, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListDisputes(ctx, status, limit)
}

// Package escrow implements the order lifecycle.
//
// An order walks a strict state machine:
//
//	pending -> paid -> completed
//	                -> disputed -> completed
//	                            -> refunded
//
// Payment parks the full amount in the seller's pending bucket. The
// money only becomes spendable when the buyer confirms delivery, the
// auto-release window lapses, or an admin resolves a dispute in the
// seller's favour. Webhook application is idempotent: replaying a
// charge event settles nothing twice.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/echezona/sokopay/internal/identity"
	"github.com/echezona/sokopay/internal/idgen"
	"github.com/echezona/sokopay/internal/metrics"
	"github.com/echezona/sokopay/internal/paystack"
	"github.com/echezona/sokopay/internal/product"
	"github.com/echezona/sokopay/internal/traces"
)

// Status is an order lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusDisputed  Status = "disputed"
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
)

// Dispute outcomes.
type Outcome string

const (
	OutcomeRelease Outcome = "release"
	OutcomeRefund  Outcome = "refund"
)

// Dispute states.
const (
	DisputeOpen     = "open"
	DisputeResolved = "resolved"
)

// PlatformAccountID owns commission fees and other platform funds.
const PlatformAccountID = "usr_platform"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrDisputeNotFound   = errors.New("dispute not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrNotParticipant    = errors.New("not a participant in this order")
	ErrAmountMismatch    = errors.New("charge amount does not match order")
	ErrSelfPurchase      = errors.New("cannot buy your own product")
	ErrFraudBlocked      = errors.New("order blocked by fraud check")
)

// Order is one escrow purchase.
type Order struct {
	ID               string     `json:"id"`
	Reference        string     `json:"reference"`
	BuyerID          string     `json:"buyerId"`
	SellerID         string     `json:"sellerId"`
	ProductID        string     `json:"productId"`
	Amount           int64      `json:"amount"`
	Status           Status     `json:"status"`
	AuthorizationURL string     `json:"authorizationUrl,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	PaidAt           *time.Time `json:"paidAt,omitempty"`
	SettledAt        *time.Time `json:"settledAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Dispute is a buyer or seller complaint against a paid order.
type Dispute struct {
	ID         string     `json:"id"`
	OrderID    string     `json:"orderId"`
	OpenedBy   string     `json:"openedBy"`
	Reason     string     `json:"reason"`
	Status     string     `json:"status"`
	Outcome    Outcome    `json:"outcome,omitempty"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Store persists orders and disputes.
//
// The transition methods pair the order status change with its wallet
// moves. Implementations must apply each transition atomically and
// exactly once: a second call for the same transition reports
// applied=false or ErrInvalidTransition instead of moving money again.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByReference(ctx context.Context, reference string) (*Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error)

	// ListReleasable returns paid orders whose payment landed before
	// the cutoff, oldest first.
	ListReleasable(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error)

	// MarkPaid moves pending -> paid, credits the seller's pending
	// bucket and marks the product sold. applied=false means the order
	// already left pending (webhook replay).
	MarkPaid(ctx context.Context, reference string, paidAt time.Time) (o *Order, applied bool, err error)

	// Settle moves paid -> completed, releasing the seller's pending
	// escrow into available. fee is carved out for the platform account.
	Settle(ctx context.Context, orderID string, fee int64) (*Order, error)

	// OpenDispute moves paid -> disputed and freezes the escrowed
	// pending amount.
	OpenDispute(ctx context.Context, d *Dispute) (*Order, error)

	// ResolveDispute closes an open dispute. release thaws the frozen
	// escrow into the seller's available bucket (minus fee); refund
	// returns it to the buyer and relists the product.
	ResolveDispute(ctx context.Context, disputeID string, outcome Outcome, fee int64, note string) (*Order, *Dispute, error)

	GetDispute(ctx context.Context, id string) (*Dispute, error)
	ListDisputes(ctx context.Context, status string, limit int) ([]*Dispute, error)
}

// Gateway starts hosted checkouts.
type Gateway interface {
	Initialize(ctx context.Context, email string, amount int64, reference string) (*paystack.Authorization, error)
}

// Catalog looks up products for new orders.
type Catalog interface {
	Get(ctx context.Context, id string) (*product.Product, error)
}

// Accounts reads buyer and seller state for fraud checks and ratings.
type Accounts interface {
	Get(ctx context.Context, id string) (*identity.User, error)
	RecordFailedPayment(ctx context.Context, userID string) error
	RecordRating(ctx context.Context, sellerID string, stars int) (*identity.User, error)
}

// Notifier delivers best-effort user notifications.
type Notifier interface {
	Notify(userID, kind, message string)
}

// Service drives the order state machine.
type Service struct {
	store         Store
	gateway       Gateway
	catalog       Catalog
	accounts      Accounts
	notifier      Notifier
	commissionBps int64
	releaseAfter  time.Duration
	logger        *slog.Logger
}

type Config struct {
	CommissionBps int64
	ReleaseAfter  time.Duration
}

func NewService(store Store, gateway Gateway, catalog Catalog, accounts Accounts, notifier Notifier, cfg Config, logger *slog.Logger) *Service {
	if cfg.ReleaseAfter <= 0 {
		cfg.ReleaseAfter = 120 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         store,
		gateway:       gateway,
		catalog:       catalog,
		accounts:      accounts,
		notifier:      notifier,
		commissionBps: cfg.CommissionBps,
		releaseAfter:  cfg.ReleaseAfter,
		logger:        logger,
	}
}

// Fraud scoring thresholds.
const (
	fraudScoreBanned      = 100
	fraudScoreHighValue   = 30
	fraudScoreFailedPays  = 20
	fraudBlockThreshold   = 70
	highValueAmount       = 50_000_000 // kobo
	maxFailedPaymentsSoft = 3
)

// fraudScore mirrors the gateway-side risk screen: banned accounts are
// blocked outright, large orders and repeat payment failures add risk.
func fraudScore(buyer *identity.User, amount int64) int {
	score := 0
	if buyer.Banned {
		score += fraudScoreBanned
	}
	if amount > highValueAmount {
		score += fraudScoreHighValue
	}
	if buyer.FailedPayments > maxFailedPaymentsSoft {
		score += fraudScoreFailedPays
	}
	return score
}

// CreateOrder reserves a product and starts a hosted checkout.
// The order stays pending until the gateway confirms the charge.
func (s *Service) CreateOrder(ctx context.Context, buyerID, productID string) (*Order, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.CreateOrder", traces.UserID(buyerID))
	defer span.End()

	buyer, err := s.accounts.Get(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	p, err := s.catalog.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.Available {
		return nil, product.ErrProductUnavailable
	}
	if p.SellerID == buyerID {
		return nil, ErrSelfPurchase
	}
	if score := fraudScore(buyer, p.Price); score > fraudBlockThreshold {
		s.logger.Warn("order blocked by fraud check", "buyer", buyerID, "score", score, "amount", p.Price)
		return nil, ErrFraudBlocked
	}

	now := time.Now()
	o := &Order{
		ID:        idgen.WithPrefix("ord_"),
		Reference: idgen.Reference(),
		BuyerID:   buyerID,
		SellerID:  p.SellerID,
		ProductID: p.ID,
		Amount:    p.Price,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	auth, err := s.gateway.Initialize(ctx, buyer.Email, o.Amount, o.Reference)
	if err != nil {
		return nil, err
	}
	o.AuthorizationURL = auth.AuthorizationURL

	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(string(StatusPending)).Inc()
	return o, nil
}

// HandleChargeSucceeded applies a verified charge.success event.
// Replays and unknown references are acknowledged without effect.
func (s *Service) HandleChargeSucceeded(ctx context.Context, ev *paystack.ChargeEvent) error {
	ctx, span := traces.StartSpan(ctx, "escrow.HandleChargeSucceeded",
		traces.Reference(ev.Reference), traces.Amount(ev.Amount))
	defer span.End()

	o, err := s.store.GetByReference(ctx, ev.Reference)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			s.logger.Warn("charge for unknown reference", "reference", ev.Reference)
			return nil
		}
		return err
	}
	if ev.Amount != o.Amount {
		// Permanently bad: acknowledging stops the gateway from
		// redelivering an event that can never apply.
		s.logger.Error("charge amount mismatch",
			"reference", ev.Reference, "charged", ev.Amount, "expected", o.Amount)
		metrics.WebhookEventsTotal.WithLabelValues("amount_mismatch").Inc()
		return nil
	}

	o, applied, err := s.store.MarkPaid(ctx, ev.Reference, ev.PaidAt)
	if err != nil {
		return err
	}
	if !applied {
		s.logger.Info("charge replay ignored", "reference", ev.Reference, "status", o.Status)
		return nil
	}

	metrics.OrdersTotal.WithLabelValues(string(StatusPaid)).Inc()
	s.notifier.Notify(o.SellerID, "order.paid",
		fmt.Sprintf("Order %s was paid. %d kobo is held in escrow.", o.ID, o.Amount))
	s.notifier.Notify(o.BuyerID, "order.paid",
		fmt.Sprintf("Payment for order %s confirmed.", o.ID))
	return nil
}

// HandleChargeFailed records a failed charge against the buyer's
// fraud counters.
func (s *Service) HandleChargeFailed(ctx context.Context, ev *paystack.ChargeEvent) error {
	o, err := s.store.GetByReference(ctx, ev.Reference)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil
		}
		return err
	}
	return s.accounts.RecordFailedPayment(ctx, o.BuyerID)
}

// fee returns the platform commission for an order amount.
func (s *Service) fee(amount int64) int64 {
	return amount * s.commissionBps / 10000
}

// ConfirmDelivery releases escrow to the seller. Only the buyer or an
// admin may confirm, and only while the order is paid. An optional 1-5
// star rating is recorded against the seller.
func (s *Service) ConfirmDelivery(ctx context.Context, callerID, role, orderID string, rating int) (*Order, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ConfirmDelivery",
		traces.UserID(callerID), traces.OrderID(orderID))
	defer span.End()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if role != identity.RoleAdmin && o.BuyerID != callerID {
		return nil, ErrNotParticipant
	}

	o, err = s.store.Settle(ctx, orderID, s.fee(o.Amount))
	if err != nil {
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(string(StatusCompleted)).Inc()

	if rating >= 1 && rating <= 5 {
		if _, err := s.accounts.RecordRating(ctx, o.SellerID, rating); err != nil {
			s.logger.Warn("record rating failed", "seller", o.SellerID, "error", err)
		}
	}
	s.notifier.Notify(o.SellerID, "order.completed",
		fmt.Sprintf("Order %s completed. Escrow released to your balance.", o.ID))
	return o, nil
}

// Get returns an order visible to one of its participants or an admin.
func (s *Service) Get(ctx context.Context, requesterID, role, orderID string) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if role != identity.RoleAdmin && o.BuyerID != requesterID && o.SellerID != requesterID {
		return nil, ErrNotParticipant
	}
	return o, nil
}

// ListByUser returns orders the user participates in, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// ReleaseDue settles paid orders older than the auto-release window.
// Returns how many orders were released. Called by the sweep timer.
func (s *Service) ReleaseDue(ctx context.Context, batchSize int) (int, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ReleaseDue")
	defer span.End()

	if batchSize <= 0 {
		batchSize = 100
	}
	cutoff := time.Now().Add(-s.releaseAfter)
	orders, err := s.store.ListReleasable(ctx, cutoff, batchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, o := range orders {
		if _, err := s.store.Settle(ctx, o.ID, s.fee(o.Amount)); err != nil {
			// Orders disputed between list and settle are expected to
			// fail the transition guard.
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			s.logger.Error("auto-release failed", "order", o.ID, "error", err)
			continue
		}
		released++
		metrics.OrdersTotal.WithLabelValues(string(StatusCompleted)).Inc()
		metrics.AutoReleasesTotal.Inc()
		s.notifier.Notify(o.SellerID, "order.completed",
			fmt.Sprintf("Order %s auto-released after the delivery window.", o.ID))
	}
	return released, nil
}

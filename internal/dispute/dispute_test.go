package dispute

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echezona/sokopay/internal/escrow"
	"github.com/echezona/sokopay/internal/identity"
	"github.com/echezona/sokopay/internal/product"
	"github.com/echezona/sokopay/internal/wallet"
)

type nopNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *nopNotifier) Notify(userID, kind, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

type fixture struct {
	svc      *Service
	store    *escrow.MemoryStore
	wallets  *wallet.MemoryStore
	products *product.MemoryStore
	order    *escrow.Order
	buyerID  string
	sellerID string
}

// newFixture builds a paid order: 120000 kobo held in the seller's
// pending bucket, ready to be disputed.
func newFixture(t *testing.T, commissionBps int64) *fixture {
	t.Helper()
	ctx := context.Background()

	wallets := wallet.NewMemoryStore()
	products := product.NewMemoryStore()
	store := escrow.NewMemoryStore(wallets, products)
	svc := NewService(store, &nopNotifier{}, commissionBps, slog.New(slog.DiscardHandler))

	p, err := product.NewCatalog(products).Create(ctx, "usr_seller", "Lamp", "", 120000)
	require.NoError(t, err)

	now := time.Now()
	o := &escrow.Order{
		ID: "ord_1", Reference: "ref_1", BuyerID: "usr_buyer", SellerID: "usr_seller",
		ProductID: p.ID, Amount: 120000, Status: escrow.StatusPending,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, o))

	o, applied, err := store.MarkPaid(ctx, o.Reference, now)
	require.NoError(t, err)
	require.True(t, applied)

	return &fixture{
		svc: svc, store: store, wallets: wallets, products: products,
		order: o, buyerID: "usr_buyer", sellerID: "usr_seller",
	}
}

func TestOpenFreezesEscrow(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	d, err := f.svc.Open(ctx, f.buyerID, f.order.ID, "item never arrived")
	require.NoError(t, err)
	assert.Equal(t, escrow.DisputeOpen, d.Status)
	assert.Equal(t, f.buyerID, d.OpenedBy)

	b, err := f.wallets.Get(ctx, f.sellerID)
	require.NoError(t, err)
	assert.Equal(t, f.order.Amount, b.Frozen)
	assert.Zero(t, b.Pending)

	o, err := f.store.Get(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDisputed, o.Status)
}

func TestOpenGuards(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, "usr_stranger", f.order.ID, "reason")
	assert.ErrorIs(t, err, escrow.ErrNotParticipant)

	_, err = f.svc.Open(ctx, f.buyerID, "ord_missing", "reason")
	assert.ErrorIs(t, err, escrow.ErrOrderNotFound)

	// Seller may also open disputes.
	_, err = f.svc.Open(ctx, f.sellerID, f.order.ID, "buyer is harassing me")
	require.NoError(t, err)

	// Only once per order: the second open hits the status guard.
	_, err = f.svc.Open(ctx, f.buyerID, f.order.ID, "reason")
	assert.ErrorIs(t, err, escrow.ErrInvalidTransition)
}

func TestResolveRelease(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	d, err := f.svc.Open(ctx, f.buyerID, f.order.ID, "item never arrived")
	require.NoError(t, err)

	before := f.wallets.TotalAcrossWallets()

	resolved, err := f.svc.Resolve(ctx, "usr_admin", d.ID, escrow.OutcomeRelease, "tracking shows delivery")
	require.NoError(t, err)
	assert.Equal(t, escrow.DisputeResolved, resolved.Status)
	assert.Equal(t, escrow.OutcomeRelease, resolved.Outcome)
	require.NotNil(t, resolved.ResolvedAt)

	b, err := f.wallets.Get(ctx, f.sellerID)
	require.NoError(t, err)
	assert.Equal(t, f.order.Amount, b.Available)
	assert.Zero(t, b.Frozen)
	assert.Equal(t, f.order.Amount, b.TotalEarned)
	assert.Equal(t, before, f.wallets.TotalAcrossWallets())

	o, err := f.store.Get(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusCompleted, o.Status)
}

func TestResolveRefund(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	d, err := f.svc.Open(ctx, f.buyerID, f.order.ID, "item never arrived")
	require.NoError(t, err)

	before := f.wallets.TotalAcrossWallets()

	_, err = f.svc.Resolve(ctx, "usr_admin", d.ID, escrow.OutcomeRefund, "seller unresponsive")
	require.NoError(t, err)

	seller, err := f.wallets.Get(ctx, f.sellerID)
	require.NoError(t, err)
	assert.Zero(t, seller.Frozen)
	assert.Zero(t, seller.Available)
	assert.Zero(t, seller.TotalEarned)

	buyer, err := f.wallets.Get(ctx, f.buyerID)
	require.NoError(t, err)
	assert.Equal(t, f.order.Amount, buyer.Available)
	assert.Equal(t, before, f.wallets.TotalAcrossWallets())

	o, err := f.store.Get(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefunded, o.Status)

	// Refund puts the product back on sale.
	p, err := f.products.Get(ctx, o.ProductID)
	require.NoError(t, err)
	assert.True(t, p.Available)
}

func TestResolveReleaseWithCommission(t *testing.T) {
	f := newFixture(t, 250) // 2.5%
	ctx := context.Background()

	d, err := f.svc.Open(ctx, f.buyerID, f.order.ID, "reason")
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, "usr_admin", d.ID, escrow.OutcomeRelease, "")
	require.NoError(t, err)

	fee := f.order.Amount * 250 / 10000
	seller, err := f.wallets.Get(ctx, f.sellerID)
	require.NoError(t, err)
	assert.Equal(t, f.order.Amount-fee, seller.Available)

	platform, err := f.wallets.Get(ctx, escrow.PlatformAccountID)
	require.NoError(t, err)
	assert.Equal(t, fee, platform.Available)
}

func TestResolveOnlyOnce(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	d, err := f.svc.Open(ctx, f.buyerID, f.order.ID, "reason")
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, "usr_admin", d.ID, escrow.OutcomeRefund, "")
	require.NoError(t, err)

	// A second resolution must not move money again.
	_, err = f.svc.Resolve(ctx, "usr_admin", d.ID, escrow.OutcomeRelease, "")
	assert.ErrorIs(t, err, escrow.ErrInvalidTransition)

	buyer, err := f.wallets.Get(ctx, f.buyerID)
	require.NoError(t, err)
	assert.Equal(t, f.order.Amount, buyer.Available)
}

func TestResolveUnknownDispute(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.svc.Resolve(context.Background(), "usr_admin", "dsp_missing", escrow.OutcomeRefund, "")
	assert.ErrorIs(t, err, escrow.ErrDisputeNotFound)
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	d, err := f.svc.Open(ctx, f.buyerID, f.order.ID, "reason")
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, f.buyerID, identity.RoleBuyer, d.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, f.sellerID, identity.RoleSeller, d.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, "usr_stranger", identity.RoleBuyer, d.ID)
	assert.ErrorIs(t, err, escrow.ErrNotParticipant)
	_, err = f.svc.Get(ctx, "usr_admin", identity.RoleAdmin, d.ID)
	assert.NoError(t, err)
	// Subadmins triage disputes read-only.
	_, err = f.svc.Get(ctx, "usr_triage", identity.RoleSubadmin, d.ID)
	assert.NoError(t, err)
}

func TestListByStatus(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	d, err := f.svc.Open(ctx, f.buyerID, f.order.ID, "reason")
	require.NoError(t, err)

	open, err := f.svc.List(ctx, escrow.DisputeOpen, 50)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	_, err = f.svc.Resolve(ctx, "usr_admin", d.ID, escrow.OutcomeRefund, "")
	require.NoError(t, err)

	open, err = f.svc.List(ctx, escrow.DisputeOpen, 50)
	require.NoError(t, err)
	assert.Empty(t, open)

	resolved, err := f.svc.List(ctx, escrow.DisputeResolved, 50)
	require.NoError(t, err)
	assert.Len(t, resolved, 1)
}

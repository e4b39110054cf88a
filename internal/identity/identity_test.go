package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWallets struct {
	ensured []string
}

func (f *fakeWallets) Ensure(ctx context.Context, userID string) error {
	f.ensured = append(f.ensured, userID)
	return nil
}

func newTestService() (*Service, *fakeWallets) {
	wallets := &fakeWallets{}
	svc := NewService(NewMemoryStore(), wallets, "test-secret-test-secret-test-secret!", time.Hour)
	return svc, wallets
}

func TestSignupProvisionsWallet(t *testing.T) {
	svc, wallets := newTestService()

	u, err := svc.Signup(context.Background(), "Ada@Example.com", "correct-horse", "Ada")
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, RoleBuyer, u.Role)
	assert.False(t, u.Banned)
	require.Len(t, wallets.ensured, 1)
	assert.Equal(t, u.ID, wallets.ensured[0])
}

func TestSignupDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Signup(ctx, "ada@example.com", "correct-horse", "Ada")
	require.NoError(t, err)

	_, err = svc.Signup(ctx, "ada@example.com", "other-password", "Ada 2")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignupShortPassword(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Signup(context.Background(), "ada@example.com", "short", "Ada")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginAndAuthenticate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	u, err := svc.Signup(ctx, "ada@example.com", "correct-horse", "Ada")
	require.NoError(t, err)

	logged, token, err := svc.Login(ctx, "ada@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, logged.ID)
	require.NotEmpty(t, token)

	authed, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, authed.ID)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Signup(ctx, "ada@example.com", "correct-horse", "Ada")
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "ada@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBanTakesEffectImmediately(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	u, err := svc.Signup(ctx, "ada@example.com", "correct-horse", "Ada")
	require.NoError(t, err)

	_, token, err := svc.Login(ctx, "ada@example.com", "correct-horse")
	require.NoError(t, err)

	_, err = svc.SetBanned(ctx, u.ID, true)
	require.NoError(t, err)

	// An already-issued token stops working once the account is banned.
	_, err = svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrBanned)

	_, _, err = svc.Login(ctx, "ada@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrBanned)
}

func TestAuthenticateGarbageToken(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Authenticate(context.Background(), "not.a.jwt")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestApproveSeller(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	u, err := svc.Signup(ctx, "seller@example.com", "correct-horse", "Seller")
	require.NoError(t, err)

	approved, err := svc.ApproveSeller(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleSeller, approved.Role)
	assert.True(t, approved.SellerApproved)
}

func TestRequestSellerUpgrade(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	u, err := svc.Signup(ctx, "hopeful@example.com", "correct-horse", "Hopeful")
	require.NoError(t, err)

	requested, err := svc.RequestSellerUpgrade(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, requested.SellerRequested)
	assert.Equal(t, RoleBuyer, requested.Role)

	// The request is pending; asking again is a no-op conflict.
	_, err = svc.RequestSellerUpgrade(ctx, u.ID)
	assert.ErrorIs(t, err, ErrUpgradeRequested)

	// Approval consumes the request.
	approved, err := svc.ApproveSeller(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, approved.SellerRequested)
	assert.Equal(t, RoleSeller, approved.Role)

	_, err = svc.RequestSellerUpgrade(ctx, u.ID)
	assert.ErrorIs(t, err, ErrAlreadySeller)
}

func TestRecordRatingAutoBan(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	u, err := svc.Signup(ctx, "seller@example.com", "correct-horse", "Seller")
	require.NoError(t, err)

	// Four one-star ratings: below the count threshold, no ban yet.
	for i := 0; i < 4; i++ {
		seller, err := svc.RecordRating(ctx, u.ID, 1)
		require.NoError(t, err)
		assert.False(t, seller.Banned)
	}

	// The fifth pushes the count over the threshold with a low average.
	seller, err := svc.RecordRating(ctx, u.ID, 1)
	require.NoError(t, err)
	assert.True(t, seller.Banned)
	assert.InDelta(t, 1.0, seller.Rating(), 0.001)
}

func TestRecordRatingBounds(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	u, err := svc.Signup(ctx, "seller@example.com", "correct-horse", "Seller")
	require.NoError(t, err)

	_, err = svc.RecordRating(ctx, u.ID, 0)
	assert.Error(t, err)
	_, err = svc.RecordRating(ctx, u.ID, 6)
	assert.Error(t, err)
}

func TestSetReferredByOnce(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	u, err := svc.Signup(ctx, "ada@example.com", "correct-horse", "Ada")
	require.NoError(t, err)
	ref, err := svc.Signup(ctx, "ref@example.com", "correct-horse", "Ref")
	require.NoError(t, err)

	applied, err := svc.SetReferredBy(ctx, u.ID, ref.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.SetReferredBy(ctx, u.ID, "usr_other")
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := svc.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, ref.ID, got.ReferredBy)
}

package withdraw

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echezona/sokopay/internal/wallet"
)

type nopNotifier struct{}

func (nopNotifier) Notify(userID, kind, message string) {}

func newTestService(t *testing.T) (*Service, *wallet.MemoryStore) {
	t.Helper()
	wallets := wallet.NewMemoryStore()
	svc := NewService(NewMemoryStore(wallets), nopNotifier{}, 0, slog.New(slog.DiscardHandler))
	return svc, wallets
}

func fund(t *testing.T, wallets *wallet.MemoryStore, userID string, amount int64) {
	t.Helper()
	require.NoError(t, wallets.Credit(context.Background(), userID, wallet.BucketAvailable, amount, "", "test funding", false))
}

func TestRequestHoldsFunds(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "usr_1", 50000)

	w, err := svc.Request(ctx, "usr_1", 30000, "058", "0123456789", "Ada Obi")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, w.Status)

	b, err := wallets.Get(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), b.Available)
}

func TestRequestGuards(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "usr_1", 50000)

	_, err := svc.Request(ctx, "usr_1", 60000, "058", "0123456789", "Ada Obi")
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	// The failed request held nothing.
	b, err := wallets.Get(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), b.Available)
}

func TestSmallRequestsAllowedWithoutFloor(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "usr_1", 1000)

	// Over-balance request fails and holds nothing.
	_, err := svc.Request(ctx, "usr_1", 1500, "058", "0123456789", "Ada Obi")
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	b, err := wallets.Get(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.Available)

	// A small request succeeds; only the hold is debited.
	w, err := svc.Request(ctx, "usr_1", 800, "058", "0123456789", "Ada Obi")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, w.Status)

	b, err = wallets.Get(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), b.Available)
}

func TestConfiguredMinimumEnforced(t *testing.T) {
	wallets := wallet.NewMemoryStore()
	svc := NewService(NewMemoryStore(wallets), nopNotifier{}, 10000, slog.New(slog.DiscardHandler))
	ctx := context.Background()
	fund(t, wallets, "usr_1", 50000)

	_, err := svc.Request(ctx, "usr_1", 9999, "058", "0123456789", "Ada Obi")
	assert.ErrorIs(t, err, ErrBelowMinimum)

	_, err = svc.Request(ctx, "usr_1", 10000, "058", "0123456789", "Ada Obi")
	require.NoError(t, err)
}

func TestCompleteKeepsHold(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "usr_1", 50000)

	w, err := svc.Request(ctx, "usr_1", 30000, "058", "0123456789", "Ada Obi")
	require.NoError(t, err)

	done, err := svc.Complete(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.SettledAt)

	// Money left the platform; the hold is not returned.
	b, err := wallets.Get(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), b.Available)

	// Completing twice is rejected.
	_, err = svc.Complete(ctx, w.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestFailRefundsHold(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "usr_1", 50000)

	w, err := svc.Request(ctx, "usr_1", 30000, "058", "0123456789", "Ada Obi")
	require.NoError(t, err)

	failed, err := svc.Fail(ctx, w.ID, "account number invalid")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "account number invalid", failed.FailureReason)

	b, err := wallets.Get(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), b.Available)

	// A failed withdrawal cannot be completed afterwards.
	_, err = svc.Complete(ctx, w.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConcurrentRequestsCannotOverdraw(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "usr_1", 50000)

	var wg sync.WaitGroup
	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Request(ctx, "usr_1", 20000, "058", "0123456789", "Ada Obi")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 2, succeeded)

	b, err := wallets.Get(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), b.Available)
}

func TestGetVisibility(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "usr_1", 50000)

	w, err := svc.Request(ctx, "usr_1", 30000, "058", "0123456789", "Ada Obi")
	require.NoError(t, err)

	_, err = svc.Get(ctx, "usr_1", false, w.ID)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, "usr_2", false, w.ID)
	assert.ErrorIs(t, err, ErrWithdrawalNotFound)
	_, err = svc.Get(ctx, "usr_admin", true, w.ID)
	assert.NoError(t, err)
}

func TestListPendingQueue(t *testing.T) {
	svc, wallets := newTestService(t)
	ctx := context.Background()
	fund(t, wallets, "usr_1", 100000)

	w1, err := svc.Request(ctx, "usr_1", 30000, "058", "0123456789", "Ada Obi")
	require.NoError(t, err)
	_, err = svc.Request(ctx, "usr_1", 30000, "058", "0123456789", "Ada Obi")
	require.NoError(t, err)

	pending, err := svc.ListPending(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = svc.Complete(ctx, w1.ID)
	require.NoError(t, err)

	pending, err = svc.ListPending(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

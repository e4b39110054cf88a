//go:build integration

package wallet

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echezona/sokopay/internal/testutil"
)

// seedUser inserts the users row the wallets FK requires.
func seedUser(t *testing.T, db *sql.DB, userID string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO users (id, email, password_hash, name) VALUES ($1, $2, 'x', 'pg test')`,
		userID, userID+"@example.com")
	require.NoError(t, err)
}

func TestPostgresStoreBucketOps(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	seedUser(t, db, "usr_pg1")
	require.NoError(t, store.Ensure(ctx, "usr_pg1"))
	require.NoError(t, store.Credit(ctx, "usr_pg1", BucketPending, 120000, "ref_1", "escrow hold", false))
	require.NoError(t, store.Move(ctx, "usr_pg1", BucketPending, BucketAvailable, 120000, "ref_1", "delivery confirmed", true))

	b, err := store.Get(ctx, "usr_pg1")
	require.NoError(t, err)
	assert.Equal(t, int64(120000), b.Available)
	assert.Equal(t, int64(0), b.Pending)
	assert.Equal(t, int64(120000), b.TotalEarned)

	entries, err := store.History(ctx, "usr_pg1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPostgresStoreOverdraftGuard(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	seedUser(t, db, "usr_pg2")
	require.NoError(t, store.Credit(ctx, "usr_pg2", BucketAvailable, 500, "", "", false))

	err := store.Debit(ctx, "usr_pg2", BucketAvailable, 501, "wd_1", "withdrawal hold")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	err = store.Debit(ctx, "usr_ghost", BucketAvailable, 1, "", "")
	assert.ErrorIs(t, err, ErrWalletNotFound)

	b, err := store.Get(ctx, "usr_pg2")
	require.NoError(t, err)
	assert.Equal(t, int64(500), b.Available)
}

func TestPostgresStoreConcurrentDebits(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	seedUser(t, db, "usr_pg3")
	require.NoError(t, store.Credit(ctx, "usr_pg3", BucketAvailable, 1000, "", "", false))

	// 20 concurrent debits of 100 against 1000: exactly 10 succeed.
	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Debit(ctx, "usr_pg3", BucketAvailable, 100, "", "concurrent debit")
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 10, succeeded)

	b, err := store.Get(ctx, "usr_pg3")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Available)
}

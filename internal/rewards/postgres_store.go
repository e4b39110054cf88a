package rewards

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/echezona/sokopay/internal/wallet"
)

// PostgresStore records ad-watch claims in PostgreSQL. The claim mark
// and the wallet credit share one transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ClaimAdWatch(ctx context.Context, userID, day string, amount int64) (bool, error) {
	applied := false
	err := wallet.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		// Primary key (user_id, day) makes the claim a CAS.
		res, err := tx.ExecContext(ctx, `
			INSERT INTO ad_claims (user_id, day, amount, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (user_id, day) DO NOTHING`, userID, day, amount)
		if err != nil {
			return fmt.Errorf("claim ad watch: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim ad watch: %w", err)
		}
		if n == 0 {
			applied = false
			return nil
		}

		if err := wallet.CreditTx(ctx, tx, userID, wallet.BucketAvailable, amount, false); err != nil {
			return err
		}
		if err := wallet.RecordEntryTx(ctx, tx, userID, wallet.KindCredit, wallet.BucketAvailable, amount, "ad:"+day, "ad reward"); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, email, password_hash, name, role, banned, seller_approved,
	seller_requested, rating_sum, rating_count, failed_payments, COALESCE(referred_by, ''),
	created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.Banned,
		&u.SellerApproved, &u.SellerRequested, &u.RatingSum, &u.RatingCount, &u.FailedPayments,
		&u.ReferredBy, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) Create(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, name, role, banned, seller_approved,
		                   seller_requested, rating_sum, rating_count, failed_payments,
		                   created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		u.ID, u.Email, u.PasswordHash, u.Name, u.Role, u.Banned, u.SellerApproved,
		u.SellerRequested, u.RatingSum, u.RatingCount, u.FailedPayments, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (s *PostgresStore) Update(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET name = $2, role = $3, banned = $4, seller_approved = $5, seller_requested = $6,
		    rating_sum = $7, rating_count = $8, failed_payments = $9, updated_at = NOW()
		WHERE id = $1`,
		u.ID, u.Name, u.Role, u.Banned, u.SellerApproved, u.SellerRequested,
		u.RatingSum, u.RatingCount, u.FailedPayments)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetReferredBy is a compare-and-set: the WHERE clause only matches a
// user with no referrer yet, so concurrent submissions apply once.
func (s *PostgresStore) SetReferredBy(ctx context.Context, userID, referrerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET referred_by = $2, updated_at = NOW()
		WHERE id = $1 AND referred_by IS NULL`, userID, referrerID)
	if err != nil {
		return false, fmt.Errorf("set referrer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set referrer: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, userID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Package identity manages user accounts, credentials and roles.
//
// Passwords are stored as bcrypt hashes and sessions are stateless
// JWTs. Every signup provisions a wallet so money operations never
// race against account creation.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/echezona/sokopay/internal/idgen"
)

// Roles. Admins can also do everything a buyer or seller can.
// Subadmins get read-only access to staff surfaces (dispute triage).
const (
	RoleBuyer    = "buyer"
	RoleSeller   = "seller"
	RoleAdmin    = "admin"
	RoleSubadmin = "subadmin"
)

// IsStaff reports whether the role may view staff surfaces.
func IsStaff(role string) bool {
	return role == RoleAdmin || role == RoleSubadmin
}

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrBanned             = errors.New("account banned")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidRole        = errors.New("invalid role")
	ErrAlreadySeller      = errors.New("account already sells")
	ErrUpgradeRequested   = errors.New("seller upgrade already requested")
)

// User is a platform account.
type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	PasswordHash    string    `json:"-"`
	Name            string    `json:"name"`
	Role            string    `json:"role"`
	Banned          bool      `json:"banned"`
	SellerApproved  bool      `json:"sellerApproved"`
	SellerRequested bool      `json:"sellerRequested"`
	RatingSum       int64     `json:"-"`
	RatingCount     int64     `json:"ratingCount"`
	FailedPayments  int       `json:"-"`
	ReferredBy      string    `json:"referredBy,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Rating returns the average seller rating, 0 when unrated.
func (u *User) Rating() float64 {
	if u.RatingCount == 0 {
		return 0
	}
	return float64(u.RatingSum) / float64(u.RatingCount)
}

// Store persists users.
type Store interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	List(ctx context.Context, limit int) ([]*User, error)

	// SetReferredBy records the referrer if none is set yet. Returns
	// false when the user already has a referrer. Must be atomic so a
	// referral reward is never paid twice.
	SetReferredBy(ctx context.Context, userID, referrerID string) (bool, error)
}

// WalletProvisioner creates a wallet for a new account.
type WalletProvisioner interface {
	Ensure(ctx context.Context, userID string) error
}

// Service implements signup, login and account administration.
type Service struct {
	store     Store
	wallets   WalletProvisioner
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewService(store Store, wallets WalletProvisioner, jwtSecret string, tokenTTL time.Duration) *Service {
	return &Service{
		store:     store,
		wallets:   wallets,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

// Signup registers a new buyer account and provisions its wallet.
func (s *Service) Signup(ctx context.Context, email, password, name string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now()
	u := &User{
		ID:           idgen.WithPrefix("usr_"),
		Email:        email,
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(name),
		Role:         RoleBuyer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	if err := s.wallets.Ensure(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("provision wallet: %w", err)
	}
	return u, nil
}

// Login verifies credentials and returns a signed session token.
func (s *Service) Login(ctx context.Context, email, password string) (*User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if u.Banned {
		return nil, "", ErrBanned
	}
	token, err := s.issueToken(u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

func (s *Service) issueToken(u *User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  u.ID,
		"role": u.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(s.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate validates a session token and returns the live account.
// Bans take effect immediately: the stored user is consulted on every
// request, not just the token claims.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrUnauthorized
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrUnauthorized
	}
	u, err := s.store.Get(ctx, sub)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if u.Banned {
		return nil, ErrBanned
	}
	return u, nil
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.Get(ctx, id)
}

// RequestSellerUpgrade marks the account as wanting to sell. The
// request sits until an admin approves it; repeat requests and accounts
// that already sell are rejected.
func (s *Service) RequestSellerUpgrade(ctx context.Context, userID string) (*User, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Role == RoleSeller || u.SellerApproved {
		return nil, ErrAlreadySeller
	}
	if u.SellerRequested {
		return nil, ErrUpgradeRequested
	}
	u.SellerRequested = true
	u.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ApproveSeller upgrades an account to an approved seller. Admin only,
// enforced at the route level.
func (s *Service) ApproveSeller(ctx context.Context, userID string) (*User, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.Role = RoleSeller
	u.SellerApproved = true
	u.SellerRequested = false
	u.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetBanned flips the ban flag on an account.
func (s *Service) SetBanned(ctx context.Context, userID string, banned bool) (*User, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.Banned = banned
	u.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// lowRatingThreshold triggers an automatic ban once a seller has
// collected enough ratings to make the average meaningful.
const (
	lowRatingThreshold = 2.0
	minRatingsForBan   = 5
)

// RecordRating adds a 1-5 star rating to a seller and auto-bans
// sellers whose average drops below the threshold.
func (s *Service) RecordRating(ctx context.Context, sellerID string, stars int) (*User, error) {
	if stars < 1 || stars > 5 {
		return nil, fmt.Errorf("rating must be between 1 and 5 stars")
	}
	u, err := s.store.Get(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	u.RatingSum += int64(stars)
	u.RatingCount++
	if u.RatingCount >= minRatingsForBan && u.Rating() < lowRatingThreshold {
		u.Banned = true
	}
	u.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// RecordFailedPayment bumps the failed payment counter used by the
// fraud score.
func (s *Service) RecordFailedPayment(ctx context.Context, userID string) error {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	u.FailedPayments++
	u.UpdatedAt = time.Now()
	return s.store.Update(ctx, u)
}

// SetReferredBy records who referred this user. Set-once at the store
// level. The applied flag is false if a referrer was already recorded.
func (s *Service) SetReferredBy(ctx context.Context, userID, referrerID string) (bool, error) {
	return s.store.SetReferredBy(ctx, userID, referrerID)
}

// List returns accounts for admin views.
func (s *Service) List(ctx context.Context, limit int) ([]*User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.List(ctx, limit)
}

// Package product manages the marketplace catalog.
//
// A product is listed by a seller at a fixed price in kobo. Paying for
// an order marks the product unavailable in the same transaction that
// records the payment, so one listing can never be sold twice.
package product

import (
	"context"
	"errors"
	"time"

	"github.com/echezona/sokopay/internal/idgen"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrInvalidPrice       = errors.New("price must be positive")
	ErrNotOwner           = errors.New("not the product owner")
)

// Product is one catalog listing.
type Product struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"sellerId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Price       int64     `json:"price"`
	Available   bool      `json:"available"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store persists products.
type Store interface {
	Create(ctx context.Context, p *Product) error
	Get(ctx context.Context, id string) (*Product, error)
	List(ctx context.Context, onlyAvailable bool, limit int) ([]*Product, error)
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Product, error)

	// MarkSold flips available to false. Returns false when the
	// product was already sold. Must be atomic.
	MarkSold(ctx context.Context, id string) (bool, error)

	// Relist makes a refunded product available again.
	Relist(ctx context.Context, id string) error

	Delist(ctx context.Context, id string) error
}

// Catalog validates catalog operations on top of a Store.
type Catalog struct {
	store Store
}

func NewCatalog(store Store) *Catalog {
	return &Catalog{store: store}
}

func (c *Catalog) Create(ctx context.Context, sellerID, title, description string, price int64) (*Product, error) {
	if price <= 0 {
		return nil, ErrInvalidPrice
	}
	now := time.Now()
	p := &Product{
		ID:          idgen.WithPrefix("prd_"),
		SellerID:    sellerID,
		Title:       title,
		Description: description,
		Price:       price,
		Available:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Catalog) Get(ctx context.Context, id string) (*Product, error) {
	return c.store.Get(ctx, id)
}

func (c *Catalog) List(ctx context.Context, onlyAvailable bool, limit int) ([]*Product, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return c.store.List(ctx, onlyAvailable, limit)
}

func (c *Catalog) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Product, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return c.store.ListBySeller(ctx, sellerID, limit)
}

// Delist removes a listing from sale. Only the owner may delist.
func (c *Catalog) Delist(ctx context.Context, sellerID, id string) error {
	p, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.SellerID != sellerID {
		return ErrNotOwner
	}
	return c.store.Delist(ctx, id)
}

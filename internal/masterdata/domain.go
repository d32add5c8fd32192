package masterdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListFilters narrows catalog listings.
type ListFilters struct {
	Search     string
	IsActive   *bool
	CategoryID *int64
	Limit      int
	Offset     int
}

// Branch is a physical store or warehouse holding its own stock.
type Branch struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Category groups products.
type Category struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Product is a sellable item. Price is the current list price; sales
// snapshot it per line.
type Product struct {
	ID         int64           `json:"id"`
	SKU        string          `json:"sku"`
	Name       string          `json:"name"`
	CategoryID *int64          `json:"category_id,omitempty"`
	Price      decimal.Decimal `json:"price"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// BranchInput carries branch create/update fields.
type BranchInput struct {
	Code    string
	Name    string
	Address string
}

// CategoryInput carries category fields.
type CategoryInput struct {
	Code string
	Name string
}

// ProductInput carries product create/update fields.
type ProductInput struct {
	SKU        string
	Name       string
	CategoryID *int64
	Price      decimal.Decimal
}

// Repository persists catalog records. Lookups of missing rows return an
// error matching shared.ErrNotFound; unique key clashes match shared.ErrDuplicate.
type Repository interface {
	ListBranches(ctx context.Context, filters ListFilters) ([]Branch, error)
	GetBranch(ctx context.Context, id int64) (Branch, error)
	CreateBranch(ctx context.Context, branch Branch) (Branch, error)
	UpdateBranch(ctx context.Context, branch Branch) error

	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	CreateCategory(ctx context.Context, category Category) (Category, error)

	ListProducts(ctx context.Context, filters ListFilters) ([]Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	CreateProduct(ctx context.Context, product Product) (Product, error)
	UpdateProduct(ctx context.Context, product Product) error
}

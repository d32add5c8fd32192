// Package masterdatatest provides an in-memory masterdata.Repository.
package masterdatatest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/masterdata"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Repository is a map backed masterdata.Repository.
type Repository struct {
	mu         sync.Mutex
	nextID     int64
	branches   map[int64]masterdata.Branch
	categories map[int64]masterdata.Category
	products   map[int64]masterdata.Product
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{
		branches:   make(map[int64]masterdata.Branch),
		categories: make(map[int64]masterdata.Category),
		products:   make(map[int64]masterdata.Product),
	}
}

// AddBranch stores an active branch and returns it.
func (r *Repository) AddBranch(code string) masterdata.Branch {
	b, _ := r.CreateBranch(context.Background(), masterdata.Branch{Code: code, Name: "Branch " + code, IsActive: true})
	return b
}

// AddProduct stores an active product and returns it.
func (r *Repository) AddProduct(sku string, price string) masterdata.Product {
	p, _ := r.CreateProduct(context.Background(), masterdata.Product{SKU: sku, Name: "Product " + sku, Price: decimal.RequireFromString(price), IsActive: true})
	return p
}

func (r *Repository) ListBranches(_ context.Context, filters masterdata.ListFilters) ([]masterdata.Branch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []masterdata.Branch
	for _, b := range r.branches {
		if filters.IsActive != nil && b.IsActive != *filters.IsActive {
			continue
		}
		if !matches(filters.Search, b.Code, b.Name) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *Repository) GetBranch(_ context.Context, id int64) (masterdata.Branch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.branches[id]
	if !ok {
		return masterdata.Branch{}, shared.NotFound("branch", id)
	}
	return b, nil
}

func (r *Repository) CreateBranch(_ context.Context, branch masterdata.Branch) (masterdata.Branch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.branches {
		if b.Code == branch.Code {
			return masterdata.Branch{}, shared.ErrDuplicate
		}
	}
	r.nextID++
	branch.ID = r.nextID
	r.branches[branch.ID] = branch
	return branch, nil
}

func (r *Repository) UpdateBranch(_ context.Context, branch masterdata.Branch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.branches[branch.ID]; !ok {
		return shared.NotFound("branch", branch.ID)
	}
	r.branches[branch.ID] = branch
	return nil
}

func (r *Repository) ListCategories(context.Context) ([]masterdata.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]masterdata.Category, 0, len(r.categories))
	for _, c := range r.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Repository) GetCategory(_ context.Context, id int64) (masterdata.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.categories[id]
	if !ok {
		return masterdata.Category{}, shared.NotFound("category", id)
	}
	return c, nil
}

func (r *Repository) CreateCategory(_ context.Context, category masterdata.Category) (masterdata.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.categories {
		if c.Code == category.Code {
			return masterdata.Category{}, shared.ErrDuplicate
		}
	}
	r.nextID++
	category.ID = r.nextID
	r.categories[category.ID] = category
	return category, nil
}

func (r *Repository) ListProducts(_ context.Context, filters masterdata.ListFilters) ([]masterdata.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []masterdata.Product
	for _, p := range r.products {
		if filters.IsActive != nil && p.IsActive != *filters.IsActive {
			continue
		}
		if filters.CategoryID != nil && (p.CategoryID == nil || *p.CategoryID != *filters.CategoryID) {
			continue
		}
		if !matches(filters.Search, p.SKU, p.Name) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (r *Repository) GetProduct(_ context.Context, id int64) (masterdata.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return masterdata.Product{}, shared.NotFound("product", id)
	}
	return p, nil
}

func (r *Repository) CreateProduct(_ context.Context, product masterdata.Product) (masterdata.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.skuTaken(product.SKU, 0) {
		return masterdata.Product{}, shared.ErrDuplicate
	}
	r.nextID++
	product.ID = r.nextID
	r.products[product.ID] = product
	return product, nil
}

func (r *Repository) UpdateProduct(_ context.Context, product masterdata.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[product.ID]; !ok {
		return shared.NotFound("product", product.ID)
	}
	if r.skuTaken(product.SKU, product.ID) {
		return shared.ErrDuplicate
	}
	r.products[product.ID] = product
	return nil
}

func (r *Repository) skuTaken(sku string, except int64) bool {
	for id, p := range r.products {
		if id != except && p.SKU == sku {
			return true
		}
	}
	return false
}

func matches(search string, fields ...string) bool {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), search) {
			return true
		}
	}
	return false
}

package masterdata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// repo implements Repository on PostgreSQL.
type repo struct {
	db *pgxpool.Pool
}

// NewRepository creates a new master data repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repo{db: pool}
}

const branchColumns = `id, code, name, address, is_active, created_at, updated_at`

func (r *repo) ListBranches(ctx context.Context, filters ListFilters) ([]Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches`
	where, args := filterClause(filters, "name", "code")
	query += where + ` ORDER BY code` + pageClause(filters)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.Code, &b.Name, &b.Address, &b.IsActive, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (r *repo) GetBranch(ctx context.Context, id int64) (Branch, error) {
	var b Branch
	err := r.db.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = $1`, id).
		Scan(&b.ID, &b.Code, &b.Name, &b.Address, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Branch{}, shared.NotFound("branch", id)
	}
	return b, err
}

func (r *repo) CreateBranch(ctx context.Context, branch Branch) (Branch, error) {
	query := `INSERT INTO branches (code, name, address, is_active, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	err := r.db.QueryRow(ctx, query, branch.Code, branch.Name, branch.Address, branch.IsActive, branch.CreatedAt, branch.UpdatedAt).Scan(&branch.ID)
	if db.IsUniqueViolation(err) {
		return Branch{}, shared.ErrDuplicate
	}
	return branch, err
}

func (r *repo) UpdateBranch(ctx context.Context, branch Branch) error {
	query := `UPDATE branches SET name = $1, address = $2, is_active = $3, updated_at = $4 WHERE id = $5`
	tag, err := r.db.Exec(ctx, query, branch.Name, branch.Address, branch.IsActive, branch.UpdatedAt, branch.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("branch", branch.ID)
	}
	return nil
}

func (r *repo) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Code, &c.Name); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (r *repo) GetCategory(ctx context.Context, id int64) (Category, error) {
	var c Category
	err := r.db.QueryRow(ctx, `SELECT id, code, name FROM categories WHERE id = $1`, id).Scan(&c.ID, &c.Code, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, shared.NotFound("category", id)
	}
	return c, err
}

func (r *repo) CreateCategory(ctx context.Context, category Category) (Category, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO categories (code, name) VALUES ($1, $2) RETURNING id`, category.Code, category.Name).Scan(&category.ID)
	if db.IsUniqueViolation(err) {
		return Category{}, shared.ErrDuplicate
	}
	return category, err
}

const productColumns = `id, sku, name, category_id, price, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.Price, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *repo) ListProducts(ctx context.Context, filters ListFilters) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	where, args := filterClause(filters, "name", "sku")
	if filters.CategoryID != nil {
		args = append(args, *filters.CategoryID)
		where = appendCond(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	query += where + ` ORDER BY sku` + pageClause(filters)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *repo) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.NotFound("product", id)
	}
	return p, err
}

func (r *repo) CreateProduct(ctx context.Context, product Product) (Product, error) {
	query := `INSERT INTO products (sku, name, category_id, price, is_active, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err := r.db.QueryRow(ctx, query, product.SKU, product.Name, product.CategoryID, product.Price, product.IsActive, product.CreatedAt, product.UpdatedAt).Scan(&product.ID)
	if db.IsUniqueViolation(err) {
		return Product{}, shared.ErrDuplicate
	}
	return product, err
}

func (r *repo) UpdateProduct(ctx context.Context, product Product) error {
	query := `UPDATE products SET sku = $1, name = $2, category_id = $3, price = $4, is_active = $5, updated_at = $6 WHERE id = $7`
	tag, err := r.db.Exec(ctx, query, product.SKU, product.Name, product.CategoryID, product.Price, product.IsActive, product.UpdatedAt, product.ID)
	if db.IsUniqueViolation(err) {
		return shared.ErrDuplicate
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("product", product.ID)
	}
	return nil
}

func filterClause(filters ListFilters, searchCols ...string) (string, []any) {
	var where string
	var args []any
	if s := strings.TrimSpace(filters.Search); s != "" {
		args = append(args, "%"+s+"%")
		conds := make([]string, 0, len(searchCols))
		for _, col := range searchCols {
			conds = append(conds, fmt.Sprintf("%s ILIKE $%d", col, len(args)))
		}
		where = appendCond(where, "("+strings.Join(conds, " OR ")+")")
	}
	if filters.IsActive != nil {
		args = append(args, *filters.IsActive)
		where = appendCond(where, fmt.Sprintf("is_active = $%d", len(args)))
	}
	return where, args
}

func appendCond(where, cond string) string {
	if where == "" {
		return " WHERE " + cond
	}
	return where + " AND " + cond
}

func pageClause(filters ListFilters) string {
	var out string
	if filters.Limit > 0 {
		out += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}
	if filters.Offset > 0 {
		out += fmt.Sprintf(" OFFSET %d", filters.Offset)
	}
	return out
}

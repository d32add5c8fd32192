package masterdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Codes end up inside document numbers, so slashes and spaces are excluded.
var codePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{0,19}$`)

var upper = cases.Upper(language.Und)

// Service implements catalog maintenance and lookups.
type Service struct {
	repo   Repository
	authz  shared.Authorizer
	now    shared.Clock
	logger *slog.Logger
}

// NewService creates a new master data service.
func NewService(repo Repository, authz shared.Authorizer, now shared.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, authz: authz, now: now.OrSystem(), logger: logger}
}

// NormalizeCode trims and upper-cases a branch code or SKU.
func NormalizeCode(code string) string {
	return upper.String(strings.TrimSpace(code))
}

// ListBranches returns branches matching filters.
func (s *Service) ListBranches(ctx context.Context, filters ListFilters) ([]Branch, error) {
	return s.repo.ListBranches(ctx, filters)
}

// GetBranch fetches a branch by id.
func (s *Service) GetBranch(ctx context.Context, id int64) (Branch, error) {
	if id <= 0 {
		return Branch{}, shared.Invalid("branch_id", id, "must be positive")
	}
	return s.repo.GetBranch(ctx, id)
}

// CreateBranch registers a new active branch.
func (s *Service) CreateBranch(ctx context.Context, actorID int64, input BranchInput) (Branch, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermMasterEdit); err != nil {
		return Branch{}, err
	}
	input.Code = NormalizeCode(input.Code)
	if err := validateBranch(input); err != nil {
		return Branch{}, err
	}
	now := s.now()
	branch, err := s.repo.CreateBranch(ctx, Branch{
		Code:      input.Code,
		Name:      strings.TrimSpace(input.Name),
		Address:   strings.TrimSpace(input.Address),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if errors.Is(err, shared.ErrDuplicate) {
		return Branch{}, shared.Invalid("code", input.Code, "already in use")
	}
	if err != nil {
		return Branch{}, fmt.Errorf("create branch: %w", err)
	}
	s.logger.Info("branch created", slog.Int64("branch_id", branch.ID), slog.String("code", branch.Code))
	return branch, nil
}

// UpdateBranch changes branch details. The code stays fixed once documents reference it.
func (s *Service) UpdateBranch(ctx context.Context, actorID, id int64, input BranchInput) (Branch, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermMasterEdit); err != nil {
		return Branch{}, err
	}
	branch, err := s.GetBranch(ctx, id)
	if err != nil {
		return Branch{}, err
	}
	if code := NormalizeCode(input.Code); code != "" && code != branch.Code {
		return Branch{}, shared.Invalid("code", code, "cannot be changed")
	}
	input.Code = branch.Code
	if err := validateBranch(input); err != nil {
		return Branch{}, err
	}
	branch.Name = strings.TrimSpace(input.Name)
	branch.Address = strings.TrimSpace(input.Address)
	branch.UpdatedAt = s.now()
	if err := s.repo.UpdateBranch(ctx, branch); err != nil {
		return Branch{}, fmt.Errorf("update branch: %w", err)
	}
	return branch, nil
}

// SetBranchActive toggles whether a branch can trade.
func (s *Service) SetBranchActive(ctx context.Context, actorID, id int64, active bool) (Branch, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermMasterEdit); err != nil {
		return Branch{}, err
	}
	branch, err := s.GetBranch(ctx, id)
	if err != nil {
		return Branch{}, err
	}
	branch.IsActive = active
	branch.UpdatedAt = s.now()
	if err := s.repo.UpdateBranch(ctx, branch); err != nil {
		return Branch{}, fmt.Errorf("update branch: %w", err)
	}
	return branch, nil
}

// ListCategories returns all categories.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

// CreateCategory registers a category.
func (s *Service) CreateCategory(ctx context.Context, actorID int64, input CategoryInput) (Category, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermMasterEdit); err != nil {
		return Category{}, err
	}
	input.Code = NormalizeCode(input.Code)
	if !codePattern.MatchString(input.Code) {
		return Category{}, shared.Invalid("code", input.Code, "must be 1-20 letters, digits or dashes")
	}
	if strings.TrimSpace(input.Name) == "" {
		return Category{}, shared.Invalid("name", input.Name, "is required")
	}
	category, err := s.repo.CreateCategory(ctx, Category{Code: input.Code, Name: strings.TrimSpace(input.Name)})
	if errors.Is(err, shared.ErrDuplicate) {
		return Category{}, shared.Invalid("code", input.Code, "already in use")
	}
	if err != nil {
		return Category{}, fmt.Errorf("create category: %w", err)
	}
	return category, nil
}

// ListProducts returns products matching filters.
func (s *Service) ListProducts(ctx context.Context, filters ListFilters) ([]Product, error) {
	return s.repo.ListProducts(ctx, filters)
}

// GetProduct fetches a product by id.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, shared.Invalid("product_id", id, "must be positive")
	}
	return s.repo.GetProduct(ctx, id)
}

// CreateProduct registers an active product.
func (s *Service) CreateProduct(ctx context.Context, actorID int64, input ProductInput) (Product, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermMasterEdit); err != nil {
		return Product{}, err
	}
	input.SKU = NormalizeCode(input.SKU)
	if err := s.validateProduct(ctx, input); err != nil {
		return Product{}, err
	}
	now := s.now()
	product, err := s.repo.CreateProduct(ctx, Product{
		SKU:        input.SKU,
		Name:       strings.TrimSpace(input.Name),
		CategoryID: input.CategoryID,
		Price:      input.Price,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if errors.Is(err, shared.ErrDuplicate) {
		return Product{}, shared.Invalid("sku", input.SKU, "already in use")
	}
	if err != nil {
		return Product{}, fmt.Errorf("create product: %w", err)
	}
	return product, nil
}

// UpdateProduct changes name, category and list price. Past sales keep their snapshot price.
func (s *Service) UpdateProduct(ctx context.Context, actorID, id int64, input ProductInput) (Product, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermMasterEdit); err != nil {
		return Product{}, err
	}
	product, err := s.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	input.SKU = NormalizeCode(input.SKU)
	if input.SKU == "" {
		input.SKU = product.SKU
	}
	if err := s.validateProduct(ctx, input); err != nil {
		return Product{}, err
	}
	product.SKU = input.SKU
	product.Name = strings.TrimSpace(input.Name)
	product.CategoryID = input.CategoryID
	product.Price = input.Price
	product.UpdatedAt = s.now()
	err = s.repo.UpdateProduct(ctx, product)
	if errors.Is(err, shared.ErrDuplicate) {
		return Product{}, shared.Invalid("sku", input.SKU, "already in use")
	}
	if err != nil {
		return Product{}, fmt.Errorf("update product: %w", err)
	}
	return product, nil
}

// SetProductActive toggles whether a product can be sold or transferred.
func (s *Service) SetProductActive(ctx context.Context, actorID, id int64, active bool) (Product, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermMasterEdit); err != nil {
		return Product{}, err
	}
	product, err := s.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	product.IsActive = active
	product.UpdatedAt = s.now()
	if err := s.repo.UpdateProduct(ctx, product); err != nil {
		return Product{}, fmt.Errorf("update product: %w", err)
	}
	return product, nil
}

func validateBranch(input BranchInput) error {
	if !codePattern.MatchString(input.Code) {
		return shared.Invalid("code", input.Code, "must be 1-20 letters, digits or dashes")
	}
	if strings.TrimSpace(input.Name) == "" {
		return shared.Invalid("name", input.Name, "is required")
	}
	return nil
}

func (s *Service) validateProduct(ctx context.Context, input ProductInput) error {
	if !codePattern.MatchString(input.SKU) {
		return shared.Invalid("sku", input.SKU, "must be 1-20 letters, digits or dashes")
	}
	if strings.TrimSpace(input.Name) == "" {
		return shared.Invalid("name", input.Name, "is required")
	}
	if input.Price.IsNegative() {
		return shared.Invalid("price", input.Price.String(), "cannot be negative")
	}
	if input.CategoryID != nil {
		if _, err := s.repo.GetCategory(ctx, *input.CategoryID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.Invalid("category_id", *input.CategoryID, "does not exist")
			}
			return err
		}
	}
	return nil
}

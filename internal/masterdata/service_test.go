package masterdata_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/masterdata"
	"github.com/odyssey-erp/odyssey-retail/internal/masterdata/masterdatatest"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const actor = int64(1)

func newService() *masterdata.Service {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return masterdata.NewService(masterdatatest.NewRepository(), shared.AllowAll{}, shared.FixedClock(now), nil)
}

func TestCreateBranchNormalisesCode(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	branch, err := svc.CreateBranch(ctx, actor, masterdata.BranchInput{Code: "  br01 ", Name: "Pusat"})
	require.NoError(t, err)
	require.Equal(t, "BR01", branch.Code)
	require.True(t, branch.IsActive)

	_, err = svc.CreateBranch(ctx, actor, masterdata.BranchInput{Code: "BR01", Name: "Again"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateBranch(ctx, actor, masterdata.BranchInput{Code: "BR/02", Name: "Slash"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateBranch(ctx, 0, masterdata.BranchInput{Code: "BR03", Name: "No actor"})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestUpdateBranchKeepsCode(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	branch, err := svc.CreateBranch(ctx, actor, masterdata.BranchInput{Code: "BR01", Name: "Pusat"})
	require.NoError(t, err)

	updated, err := svc.UpdateBranch(ctx, actor, branch.ID, masterdata.BranchInput{Name: "Pusat Kota", Address: "Jl. Merdeka 1"})
	require.NoError(t, err)
	require.Equal(t, "BR01", updated.Code)
	require.Equal(t, "Pusat Kota", updated.Name)

	_, err = svc.UpdateBranch(ctx, actor, branch.ID, masterdata.BranchInput{Code: "BR09", Name: "x"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.GetBranch(ctx, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestProductLifecycle(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	cat, err := svc.CreateCategory(ctx, actor, masterdata.CategoryInput{Code: "bev", Name: "Beverages"})
	require.NoError(t, err)

	product, err := svc.CreateProduct(ctx, actor, masterdata.ProductInput{
		SKU:        "tea-01",
		Name:       "Teh Botol",
		CategoryID: &cat.ID,
		Price:      decimal.RequireFromString("5000"),
	})
	require.NoError(t, err)
	require.Equal(t, "TEA-01", product.SKU)

	missing := int64(404)
	_, err = svc.CreateProduct(ctx, actor, masterdata.ProductInput{SKU: "X1", Name: "x", CategoryID: &missing})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateProduct(ctx, actor, masterdata.ProductInput{SKU: "X2", Name: "x", Price: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, shared.ErrValidation)

	updated, err := svc.UpdateProduct(ctx, actor, product.ID, masterdata.ProductInput{Name: "Teh Botol 350ml", Price: decimal.RequireFromString("5500")})
	require.NoError(t, err)
	require.Equal(t, "TEA-01", updated.SKU)
	require.True(t, updated.Price.Equal(decimal.RequireFromString("5500")))

	inactive, err := svc.SetProductActive(ctx, actor, product.ID, false)
	require.NoError(t, err)
	require.False(t, inactive.IsActive)

	active := true
	list, err := svc.ListProducts(ctx, masterdata.ListFilters{IsActive: &active})
	require.NoError(t, err)
	require.Empty(t, list)
}

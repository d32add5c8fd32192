package sales_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/inventory/inventorytest"
	"github.com/odyssey-erp/odyssey-retail/internal/masterdata"
	"github.com/odyssey-erp/odyssey-retail/internal/masterdata/masterdatatest"
	"github.com/odyssey-erp/odyssey-retail/internal/numbering"
	"github.com/odyssey-erp/odyssey-retail/internal/sales"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const cashier = int64(21)

var now = time.Date(2024, 3, 28, 14, 0, 0, 0, time.UTC)

type fixture struct {
	inv     *inventorytest.Store
	repo    *memRepo
	catalog *masterdatatest.Repository
	svc     *sales.Service
	branch  masterdata.Branch
	soap    masterdata.Product
	rice    masterdata.Product
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	catalogRepo := masterdatatest.NewRepository()
	f := fixture{
		catalog: catalogRepo,
		branch:  catalogRepo.AddBranch("JKT"),
		soap:    catalogRepo.AddProduct("SOAP-01", "4500"),
		rice:    catalogRepo.AddProduct("RICE-05", "68000"),
	}
	f.inv = inventorytest.New()
	f.repo = newMemRepo(f.inv)
	f.svc = sales.NewService(sales.Deps{
		Repo:    f.repo,
		Ledger:  inventory.NewLedger(shared.FixedClock(now), nil),
		Catalog: masterdata.NewService(catalogRepo, shared.AllowAll{}, shared.FixedClock(now), nil),
		Authz:   shared.AllowAll{},
		Clock:   shared.FixedClock(now),
	})
	return f
}

func price(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func (f fixture) sell(items ...sales.ItemInput) (sales.Sale, error) {
	return f.svc.RecordSale(context.Background(), cashier, sales.RecordSaleInput{
		BranchID:      f.branch.ID,
		Items:         items,
		PaymentMethod: sales.PaymentCash,
	})
}

func TestSaleDecrementsStock(t *testing.T) {
	f := newFixture(t)
	f.inv.Seed(f.branch.ID, f.soap.ID, 10, 0)

	sale, err := f.sell(sales.ItemInput{ProductID: f.soap.ID, Quantity: 4})
	require.NoError(t, err)
	require.Equal(t, "INV/JKT/2024/03/001", sale.InvoiceNumber)
	require.Equal(t, cashier, sale.OperatorID)
	require.Equal(t, now, sale.SaleDate)
	require.Equal(t, int64(6), f.inv.Quantity(f.branch.ID, f.soap.ID))

	movements := f.inv.Movements()
	require.Len(t, movements, 2)
	mv := movements[1]
	require.Equal(t, inventory.DirectionOut, mv.Direction)
	require.Equal(t, int64(4), mv.Quantity)
	require.Equal(t, int64(10), mv.StockBefore)
	require.Equal(t, int64(6), mv.StockAfter)
	require.Equal(t, inventory.RefSale, mv.ReferenceType)
	require.Equal(t, sale.ID, mv.ReferenceID)
	require.Equal(t, sale.InvoiceNumber, mv.Notes)
}

func TestSaleTotals(t *testing.T) {
	f := newFixture(t)
	f.inv.Seed(f.branch.ID, f.soap.ID, 10, 0)
	f.inv.Seed(f.branch.ID, f.rice.ID, 10, 0)

	sale, err := f.svc.RecordSale(context.Background(), cashier, sales.RecordSaleInput{
		BranchID: f.branch.ID,
		Items: []sales.ItemInput{
			{ProductID: f.rice.ID, Quantity: 1},
			{ProductID: f.soap.ID, Quantity: 3, UnitPrice: price("4000.50")},
		},
		Discount:      decimal.RequireFromString("1500"),
		PaymentMethod: sales.PaymentDebit,
		CustomerName:  " Budi ",
	})
	require.NoError(t, err)

	require.True(t, decimal.RequireFromString("68000").Equal(sale.Items[0].UnitPrice))
	require.True(t, decimal.RequireFromString("12001.50").Equal(sale.Items[1].Subtotal))
	require.True(t, decimal.RequireFromString("80001.50").Equal(sale.Subtotal))
	require.True(t, decimal.RequireFromString("78501.50").Equal(sale.GrandTotal))
	require.True(t, sale.GrandTotal.Equal(sale.Subtotal.Sub(sale.Discount)))
	require.Equal(t, "Budi", sale.CustomerName)

	sum := decimal.Zero
	for _, item := range sale.Items {
		require.True(t, item.Subtotal.Equal(item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))))
		sum = sum.Add(item.Subtotal)
	}
	require.True(t, sum.Equal(sale.Subtotal))
}

func TestUnitPriceIsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.inv.Seed(f.branch.ID, f.soap.ID, 10, 0)

	sale, err := f.sell(sales.ItemInput{ProductID: f.soap.ID, Quantity: 1})
	require.NoError(t, err)

	catalog := masterdata.NewService(f.catalog, shared.AllowAll{}, shared.FixedClock(now), nil)
	_, err = catalog.UpdateProduct(ctx, cashier, f.soap.ID, masterdata.ProductInput{
		SKU: f.soap.SKU, Name: f.soap.Name, Price: decimal.RequireFromString("5000"),
	})
	require.NoError(t, err)

	stored, err := f.svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("4500").Equal(stored.Items[0].UnitPrice))

	next, err := f.sell(sales.ItemInput{ProductID: f.soap.ID, Quantity: 1})
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("5000").Equal(next.Items[0].UnitPrice))
}

func TestInsufficientStockConsumesNoInvoice(t *testing.T) {
	f := newFixture(t)
	f.inv.Seed(f.branch.ID, f.soap.ID, 10, 0)

	_, err := f.sell(sales.ItemInput{ProductID: f.soap.ID, Quantity: 4})
	require.NoError(t, err)

	_, err = f.sell(sales.ItemInput{ProductID: f.soap.ID, Quantity: 20})
	var insufficient *inventory.InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	require.Equal(t, int64(20), insufficient.Requested)
	require.Equal(t, int64(6), insufficient.Available)
	require.Equal(t, int64(6), f.inv.Quantity(f.branch.ID, f.soap.ID))
	require.Equal(t, []string{"INV/JKT/2024/03/001"}, f.repo.invoices())

	next, err := f.sell(sales.ItemInput{ProductID: f.soap.ID, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, "INV/JKT/2024/03/002", next.InvoiceNumber)
}

func TestMultiItemSaleIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.inv.Seed(f.branch.ID, f.soap.ID, 10, 0)
	f.inv.Seed(f.branch.ID, f.rice.ID, 1, 0)

	_, err := f.sell(
		sales.ItemInput{ProductID: f.soap.ID, Quantity: 2},
		sales.ItemInput{ProductID: f.rice.ID, Quantity: 2},
	)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Equal(t, int64(10), f.inv.Quantity(f.branch.ID, f.soap.ID))
	require.Equal(t, int64(1), f.inv.Quantity(f.branch.ID, f.rice.ID))
	require.Len(t, f.inv.Movements(), 2)
	require.Empty(t, f.repo.invoices())
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.inv.Seed(f.branch.ID, f.soap.ID, 10, 0)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.sell(sales.ItemInput{ProductID: f.soap.ID, Quantity: 6})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, int64(4), f.inv.Quantity(f.branch.ID, f.soap.ID))
	require.Len(t, f.repo.invoices(), 1)
}

func TestInvoiceCollisionIsRetriedOnce(t *testing.T) {
	f := newFixture(t)
	f.inv.Seed(f.branch.ID, f.soap.ID, 10, 0)

	f.repo.collide = 1
	sale, err := f.sell(sales.ItemInput{ProductID: f.soap.ID, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, "INV/JKT/2024/03/001", sale.InvoiceNumber)

	f.repo.collide = 2
	_, err = f.sell(sales.ItemInput{ProductID: f.soap.ID, Quantity: 1})
	var conflict *numbering.ConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, "INV/JKT/2024/03/", conflict.Prefix)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, int64(9), f.inv.Quantity(f.branch.ID, f.soap.ID))
}

func TestRecordSaleValidation(t *testing.T) {
	f := newFixture(t)
	f.inv.Seed(f.branch.ID, f.soap.ID, 10, 0)
	valid := sales.RecordSaleInput{
		BranchID:      f.branch.ID,
		Items:         []sales.ItemInput{{ProductID: f.soap.ID, Quantity: 2}},
		PaymentMethod: sales.PaymentTransfer,
	}

	cases := map[string]func(in *sales.RecordSaleInput){
		"no items":          func(in *sales.RecordSaleInput) { in.Items = nil },
		"zero quantity":     func(in *sales.RecordSaleInput) { in.Items[0].Quantity = 0 },
		"negative price":    func(in *sales.RecordSaleInput) { in.Items[0].UnitPrice = price("-1") },
		"negative discount": func(in *sales.RecordSaleInput) { in.Discount = decimal.RequireFromString("-100") },
		"discount too big":  func(in *sales.RecordSaleInput) { in.Discount = decimal.RequireFromString("9000.01") },
		"unknown payment":   func(in *sales.RecordSaleInput) { in.PaymentMethod = "voucher" },
		"duplicate product": func(in *sales.RecordSaleInput) {
			in.Items = append(in.Items, sales.ItemInput{ProductID: f.soap.ID, Quantity: 1})
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			in.Items = append([]sales.ItemInput(nil), valid.Items...)
			mutate(&in)
			_, err := f.svc.RecordSale(context.Background(), cashier, in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	require.Equal(t, int64(10), f.inv.Quantity(f.branch.ID, f.soap.ID))
	require.Empty(t, f.repo.invoices())

	// A discount equal to the subtotal is allowed.
	in := valid
	in.Discount = decimal.RequireFromString("9000")
	sale, err := f.svc.RecordSale(context.Background(), cashier, in)
	require.NoError(t, err)
	require.True(t, sale.GrandTotal.IsZero())
}

func TestRecordSaleUnknownProduct(t *testing.T) {
	f := newFixture(t)
	_, err := f.sell(sales.ItemInput{ProductID: 404, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Get(context.Background(), 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPaymentLabels(t *testing.T) {
	for _, m := range []sales.PaymentMethod{sales.PaymentCash, sales.PaymentTransfer, sales.PaymentDebit} {
		require.True(t, m.Valid())
		require.NotEqual(t, string(m), m.Label())
	}
	require.False(t, sales.PaymentMethod("qris").Valid())
}

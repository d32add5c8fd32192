package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/inventory/inventorytest"
	"github.com/odyssey-erp/odyssey-retail/internal/masterdata"
	"github.com/odyssey-erp/odyssey-retail/internal/masterdata/masterdatatest"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const actor = int64(9)

var now = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store    *inventorytest.Store
	svc      *inventory.Service
	branch   masterdata.Branch
	product  masterdata.Product
	notifier *recordingNotifier
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []inventory.LowStockAlert
}

func (n *recordingNotifier) NotifyLowStock(_ context.Context, alert inventory.LowStockAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

func newFixture(t *testing.T, cache *inventory.LowStockCache) fixture {
	t.Helper()
	catalogRepo := masterdatatest.NewRepository()
	branch := catalogRepo.AddBranch("BR01")
	product := catalogRepo.AddProduct("SKU-1", "12000")
	catalog := masterdata.NewService(catalogRepo, shared.AllowAll{}, shared.FixedClock(now), nil)

	store := inventorytest.New()
	metrics := inventory.NewMetrics(prometheus.NewRegistry())
	notifier := &recordingNotifier{}
	svc := inventory.NewService(inventory.Deps{
		Repo:    store,
		Ledger:  inventory.NewLedger(shared.FixedClock(now), metrics),
		Catalog: catalog,
		Authz:   shared.AllowAll{},
		Hook:    inventory.NewCommitHook(store, notifier, cache, metrics, nil),
		Cache:   cache,
		Clock:   shared.FixedClock(now),
	})
	return fixture{store: store, svc: svc, branch: branch, product: product, notifier: notifier}
}

func TestLedgerKeepsProjectionConsistent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.SetInitialStock(ctx, actor, inventory.InitialStockInput{BranchID: f.branch.ID, ProductID: f.product.ID, Quantity: 10})
	require.NoError(t, err)

	out, err := f.svc.Adjust(ctx, actor, inventory.AdjustInput{BranchID: f.branch.ID, ProductID: f.product.ID, Direction: inventory.DirectionOut, Quantity: 3, Notes: "rusak"})
	require.NoError(t, err)
	require.Equal(t, int64(10), out.StockBefore)
	require.Equal(t, int64(7), out.StockAfter)
	require.Equal(t, inventory.RefAdjustment, out.ReferenceType)
	require.Equal(t, actor, out.CreatedBy)
	require.Equal(t, now, out.CreatedAt)

	in, err := f.svc.Adjust(ctx, actor, inventory.AdjustInput{BranchID: f.branch.ID, ProductID: f.product.ID, Direction: inventory.DirectionIn, Quantity: 5, Notes: "opname"})
	require.NoError(t, err)
	require.Equal(t, int64(7), in.StockBefore)
	require.Equal(t, int64(12), in.StockAfter)

	qty, err := f.svc.QuantityOf(ctx, f.branch.ID, f.product.ID)
	require.NoError(t, err)
	require.Equal(t, int64(12), qty)

	report, err := f.svc.VerifyLedger(ctx, f.branch.ID, f.product.ID)
	require.NoError(t, err)
	require.True(t, report.Consistent)
	require.Equal(t, 3, report.Movements)
	require.Equal(t, int64(12), report.SignedSum)

	movements := f.store.Movements()
	for i := 1; i < len(movements); i++ {
		require.Equal(t, movements[i-1].StockAfter, movements[i].StockBefore)
	}
}

func TestInsufficientStockWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.Seed(f.branch.ID, f.product.ID, 2, 0)

	_, err := f.svc.Adjust(ctx, actor, inventory.AdjustInput{BranchID: f.branch.ID, ProductID: f.product.ID, Direction: inventory.DirectionOut, Quantity: 3, Notes: "hilang"})
	var insufficient *inventory.InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	require.Equal(t, int64(3), insufficient.Requested)
	require.Equal(t, int64(2), insufficient.Available)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.ErrorIs(t, err, shared.ErrConflict)

	require.Equal(t, int64(2), f.store.Quantity(f.branch.ID, f.product.ID))
	require.Len(t, f.store.Movements(), 1)
}

func TestQuantityOfUnknownPairIsZero(t *testing.T) {
	f := newFixture(t, nil)
	qty, err := f.svc.QuantityOf(context.Background(), f.branch.ID, 999)
	require.NoError(t, err)
	require.Zero(t, qty)

	_, err = f.svc.GetStock(context.Background(), f.branch.ID, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdjustValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	base := inventory.AdjustInput{BranchID: f.branch.ID, ProductID: f.product.ID, Direction: inventory.DirectionIn, Quantity: 1, Notes: "x"}

	bad := base
	bad.Quantity = 0
	_, err := f.svc.Adjust(ctx, actor, bad)
	require.ErrorIs(t, err, shared.ErrValidation)

	bad = base
	bad.Notes = "  "
	_, err = f.svc.Adjust(ctx, actor, bad)
	require.ErrorIs(t, err, shared.ErrValidation)

	bad = base
	bad.Direction = "sideways"
	_, err = f.svc.Adjust(ctx, actor, bad)
	require.ErrorIs(t, err, shared.ErrValidation)

	bad = base
	bad.ProductID = 404
	_, err = f.svc.Adjust(ctx, actor, bad)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Adjust(ctx, 0, base)
	require.ErrorIs(t, err, shared.ErrForbidden)

	require.Empty(t, f.store.Movements())
}

func TestLedgerRejectsMismatchedReference(t *testing.T) {
	store := inventorytest.New()
	ledger := inventory.NewLedger(shared.FixedClock(now), nil)
	err := store.Atomic(func(tx *inventorytest.Tx) error {
		_, err := ledger.Record(context.Background(), tx, inventory.MovementInput{
			BranchID: 1, ProductID: 1, Direction: inventory.DirectionIn, Quantity: 1,
			ReferenceType: inventory.RefSale, ReferenceID: 1, ActorID: actor,
		})
		return err
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestInitialStockOnlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	minStock := int64(4)

	_, err := f.svc.SetInitialStock(ctx, actor, inventory.InitialStockInput{BranchID: f.branch.ID, ProductID: f.product.ID, Quantity: 10, MinStock: &minStock})
	require.NoError(t, err)
	stock, err := f.svc.GetStock(ctx, f.branch.ID, f.product.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4), stock.MinStock)

	_, err = f.svc.SetInitialStock(ctx, actor, inventory.InitialStockInput{BranchID: f.branch.ID, ProductID: f.product.ID, Quantity: 5})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.ErrorIs(t, err, inventory.ErrAlreadyInitialised)
	require.Equal(t, int64(10), f.store.Quantity(f.branch.ID, f.product.ID))
}

func TestLowStockAlertAfterOutMovement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.Seed(f.branch.ID, f.product.ID, 8, 0)

	_, err := f.svc.SetMinStock(ctx, actor, f.branch.ID, f.product.ID, 5)
	require.NoError(t, err)

	_, err = f.svc.Adjust(ctx, actor, inventory.AdjustInput{BranchID: f.branch.ID, ProductID: f.product.ID, Direction: inventory.DirectionOut, Quantity: 2, Notes: "sampel"})
	require.NoError(t, err)
	require.Empty(t, f.notifier.alerts)

	_, err = f.svc.Adjust(ctx, actor, inventory.AdjustInput{BranchID: f.branch.ID, ProductID: f.product.ID, Direction: inventory.DirectionOut, Quantity: 1, Notes: "sampel"})
	require.NoError(t, err)
	require.Len(t, f.notifier.alerts, 1)
	require.Equal(t, int64(5), f.notifier.alerts[0].Quantity)
	require.Equal(t, int64(5), f.notifier.alerts[0].MinStock)

	low, err := f.svc.ListLowStock(ctx, &f.branch.ID)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.True(t, low[0].IsLowStock())
}

func TestLowStockCacheInvalidatedByMovements(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, inventory.NewLowStockCache(client, time.Minute))
	ctx := context.Background()
	f.store.Seed(f.branch.ID, f.product.ID, 6, 5)

	low, err := f.svc.ListLowStock(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, low)

	// Bypass the service so only the cache can answer.
	f.store.CorruptQuantity(f.branch.ID, f.product.ID, 1)
	low, err = f.svc.ListLowStock(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, low)

	f.store.CorruptQuantity(f.branch.ID, f.product.ID, 6)
	_, err = f.svc.Adjust(ctx, actor, inventory.AdjustInput{BranchID: f.branch.ID, ProductID: f.product.ID, Direction: inventory.DirectionOut, Quantity: 2, Notes: "retur"})
	require.NoError(t, err)

	low, err = f.svc.ListLowStock(ctx, nil)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, int64(4), low[0].Quantity)
}

// cancelAwareRepo fails low stock reads once the caller's context is done,
// like a pgx query would.
type cancelAwareRepo struct {
	*inventorytest.Store
}

func (r cancelAwareRepo) ListLowStock(ctx context.Context, branchID int64) ([]inventory.BranchStock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Store.ListLowStock(ctx, branchID)
}

func TestLowStockFillOutlivesCancelledCaller(t *testing.T) {
	store := inventorytest.New()
	store.Seed(1, 2, 3, 5)
	svc := inventory.NewService(inventory.Deps{Repo: cancelAwareRepo{Store: store}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	low, err := svc.ListLowStock(ctx, nil)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, int64(3), low[0].Quantity)
}

func TestVerifyAllFindsDrift(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.Seed(f.branch.ID, f.product.ID, 5, 0)

	broken, err := f.svc.VerifyAll(ctx)
	require.NoError(t, err)
	require.Empty(t, broken)

	f.store.CorruptQuantity(f.branch.ID, f.product.ID, 7)
	broken, err = f.svc.VerifyAll(ctx)
	require.NoError(t, err)
	require.Len(t, broken, 1)
	require.Equal(t, int64(7), broken[0].Quantity)
	require.Equal(t, int64(5), broken[0].LastStockAfter)
}

// racingRepo starts a competing adjustment right after VerifyLedger reads the
// projection row, before it reads the movements.
type racingRepo struct {
	*inventorytest.Store
	once  sync.Once
	race  func()
	ready chan struct{}
}

func (r *racingRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.Store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		return fn(ctx, &racingTx{TxRepository: tx, repo: r})
	})
}

type racingTx struct {
	inventory.TxRepository
	repo *racingRepo
}

func (t *racingTx) ReadStock(ctx context.Context, branchID, productID int64) (inventory.BranchStock, error) {
	stock, err := t.TxRepository.ReadStock(ctx, branchID, productID)
	t.repo.once.Do(func() {
		go t.repo.race()
		<-t.repo.ready
		// Give the adjustment the chance to commit if nothing holds it back.
		time.Sleep(20 * time.Millisecond)
	})
	return stock, err
}

func TestVerifyLedgerIgnoresConcurrentCommit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.Seed(f.branch.ID, f.product.ID, 10, 0)

	repo := &racingRepo{Store: f.store, ready: make(chan struct{})}
	svc := inventory.NewService(inventory.Deps{
		Repo:  repo,
		Authz: shared.AllowAll{},
		Clock: shared.FixedClock(now),
	})
	done := make(chan error, 1)
	repo.race = func() {
		close(repo.ready)
		_, err := svc.Adjust(ctx, actor, inventory.AdjustInput{
			BranchID: f.branch.ID, ProductID: f.product.ID, Direction: inventory.DirectionOut, Quantity: 2, Notes: "terjual",
		})
		done <- err
	}

	report, err := svc.VerifyLedger(ctx, f.branch.ID, f.product.ID)
	require.NoError(t, err)
	require.True(t, report.Consistent, "%+v", report)
	require.Equal(t, int64(10), report.Quantity)
	require.Equal(t, 1, report.Movements)

	require.NoError(t, <-done)
	report, err = svc.VerifyLedger(ctx, f.branch.ID, f.product.ID)
	require.NoError(t, err)
	require.True(t, report.Consistent)
	require.Equal(t, int64(8), report.Quantity)
	require.Equal(t, 2, report.Movements)
}

func TestConcurrentOutMovementsNeverOversell(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.Seed(f.branch.ID, f.product.ID, 10, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, insufficient := 0, 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Adjust(ctx, actor, inventory.AdjustInput{BranchID: f.branch.ID, ProductID: f.product.ID, Direction: inventory.DirectionOut, Quantity: 1, Notes: "paralel"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, inventory.ErrInsufficientStock):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, succeeded)
	require.Equal(t, 15, insufficient)
	require.Zero(t, f.store.Quantity(f.branch.ID, f.product.ID))
}

func TestLabels(t *testing.T) {
	require.Equal(t, "Masuk", inventory.DirectionIn.Label())
	require.Equal(t, "Keluar", inventory.DirectionOut.Label())
	for _, ref := range []inventory.ReferenceType{inventory.RefSale, inventory.RefTransferIn, inventory.RefTransferOut, inventory.RefAdjustment, inventory.RefInitial} {
		require.True(t, ref.Valid())
		require.NotEqual(t, string(ref), ref.Label())
	}
}

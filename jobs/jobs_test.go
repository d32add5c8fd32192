package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-retail/internal/jobs"
)

type stubVerifier struct {
	reports []inventory.LedgerReport
	err     error
	calls   int
}

func (s *stubVerifier) VerifyAll(context.Context) ([]inventory.LedgerReport, error) {
	s.calls++
	return s.reports, s.err
}

type stubPurger struct {
	removed int64
	got     time.Duration
}

func (s *stubPurger) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.got = olderThan
	return s.removed, nil
}

func newMetrics(t *testing.T) (*jobmetrics.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return jobmetrics.NewMetrics(reg), reg
}

func TestLowStockAlertJob(t *testing.T) {
	metrics, reg := newMetrics(t)
	job := NewLowStockAlertJob(nil, metrics)
	task, err := NewLowStockAlertTask(inventory.LowStockAlert{
		BranchID: 2, ProductID: 7, Quantity: 1, MinStock: 5,
		ReferenceType: inventory.RefSale, ReferenceID: 40,
	})
	require.NoError(t, err)
	require.Equal(t, TaskLowStockAlert, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, float64(1), counterValue(t, reg, "odyssey_low_stock_alerts_handled_total"))

	err = job.Handle(context.Background(), asynq.NewTask(TaskLowStockAlert, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	err = job.Handle(context.Background(), asynq.NewTask(TaskLowStockAlert, []byte(`{"product_id":7}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLedgerIntegrityJob(t *testing.T) {
	metrics, reg := newMetrics(t)
	verifier := &stubVerifier{}
	job := NewLedgerIntegrityJob(verifier, nil, metrics)
	task, err := NewLedgerIntegrityTask(LedgerIntegrityPayload{Source: "test"})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, verifier.calls)

	verifier.reports = []inventory.LedgerReport{{BranchID: 1, ProductID: 2, Quantity: 5, SignedSum: 4}}
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, ErrLedgerMismatch)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	assert.Equal(t, float64(1), counterValue(t, reg, "odyssey_ledger_mismatches_total"))

	verifier.reports = nil
	verifier.err = errors.New("db down")
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	assert.Equal(t, float64(2), counterValue(t, reg, "odyssey_jobs_failures_total"))
	assert.Equal(t, float64(1), counterValue(t, reg, "odyssey_jobs_total")-counterValue(t, reg, "odyssey_jobs_failures_total"))
}

func TestLedgerIntegrityJobRequiresVerifier(t *testing.T) {
	job := NewLedgerIntegrityJob(nil, nil, nil)
	task, err := NewLedgerIntegrityTask(LedgerIntegrityPayload{})
	require.NoError(t, err)
	assert.Error(t, job.Handle(context.Background(), task))
}

func TestIdempotencyCleanupJob(t *testing.T) {
	metrics, _ := newMetrics(t)
	purger := &stubPurger{removed: 12}
	job := NewIdempotencyCleanupJob(purger, nil, metrics)

	task, err := NewIdempotencyCleanupTask(72 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 72*time.Hour, purger.got)

	err = job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte(`{"retention_hours":0}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestCleanupRetentionHasOneHourFloor(t *testing.T) {
	task, err := NewIdempotencyCleanupTask(10 * time.Minute)
	require.NoError(t, err)
	var payload IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, 1, payload.RetentionHours)
}

func TestDefaultCron(t *testing.T) {
	cron, err := DefaultCron(7 * 24 * time.Hour)
	require.NoError(t, err)
	require.Len(t, cron, 2)
	assert.Equal(t, TaskLedgerIntegrity, cron[0].Task.Type())
	assert.Equal(t, LedgerIntegritySchedule, cron[0].Spec)
	assert.Equal(t, TaskIdempotencyCleanup, cron[1].Task.Type())
}

func TestRetailHandlersCoverEveryTask(t *testing.T) {
	handlers := RetailHandlers(HandlerDeps{})
	types := make([]string, 0, len(handlers))
	for _, h := range handlers {
		require.NotNil(t, h.Handler)
		types = append(types, h.Type)
	}
	assert.ElementsMatch(t, []string{TaskLowStockAlert, TaskLedgerIntegrity, TaskIdempotencyCleanup}, types)
}

func TestClientNotifyLowStockEnqueues(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.NotifyLowStock(context.Background(), inventory.LowStockAlert{BranchID: 1, ProductID: 3}))

	pending, err := mr.List("asynq:{" + QueueDefault + "}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, QueueDefault, body.Queue)
	assert.Zero(t, body.Pending)
}

func TestHealthOnQueueWithoutTasks(t *testing.T) {
	mr := miniredis.RunT(t)
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = inspector.Close() })

	r := chi.NewRouter()
	NewHandler(inspector, nil).MountRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, QueueDefault, body.Queue)
}

func TestQueueRegisteredAfterEnqueue(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}
	inspector := asynq.NewInspector(opts)
	t.Cleanup(func() { _ = inspector.Close() })

	registered, err := QueueRegistered(inspector, QueueDefault)
	require.NoError(t, err)
	require.False(t, registered)

	client, err := NewClient(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = client.EnqueueLedgerIntegrity(context.Background(), "test")
	require.NoError(t, err)

	registered, err = QueueRegistered(inspector, QueueDefault)
	require.NoError(t, err)
	require.True(t, registered)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

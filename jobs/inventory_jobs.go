package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-retail/internal/jobs"
)

// LowStockAlertJob records alerts raised after committed out movements.
type LowStockAlertJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockAlertJob initialises the alert handler.
func NewLowStockAlertJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockAlertJob {
	return &LowStockAlertJob{Logger: logger, Metrics: metrics}
}

// Handle logs the alert and counts it per branch.
func (j *LowStockAlertJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	var alert LowStockAlertPayload
	if err := json.Unmarshal(t.Payload(), &alert); err != nil {
		return fmt.Errorf("low stock alert payload: %v: %w", err, asynq.SkipRetry)
	}
	if alert.BranchID <= 0 || alert.ProductID <= 0 {
		return fmt.Errorf("low stock alert: missing branch or product: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskLowStockAlert)
	defer func() { err = tracker.End(err) }()

	logger(j.Logger).Warn("low stock",
		slog.Int64("branch_id", alert.BranchID),
		slog.Int64("product_id", alert.ProductID),
		slog.Int64("quantity", alert.Quantity),
		slog.Int64("min_stock", alert.MinStock),
		slog.String("reference_type", string(alert.ReferenceType)),
		slog.Int64("reference_id", alert.ReferenceID),
	)
	j.Metrics.AddLowStockAlert(alert.BranchID)
	return nil
}

// LedgerVerifier recomputes stock pairs and returns the inconsistent ones.
type LedgerVerifier interface {
	VerifyAll(ctx context.Context) ([]inventory.LedgerReport, error)
}

// LedgerIntegrityJob checks every projection row against its movements.
type LedgerIntegrityJob struct {
	Verifier LedgerVerifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewLedgerIntegrityJob initialises the integrity handler.
func NewLedgerIntegrityJob(verifier LedgerVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Verifier: verifier, Logger: logger, Metrics: metrics}
}

// ErrLedgerMismatch is returned when at least one pair fails verification, so
// the run is recorded as failed.
var ErrLedgerMismatch = errors.New("jobs: ledger mismatch detected")

// Handle verifies all pairs. Mismatches are logged individually by the
// inventory service; the job reports the count.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Verifier == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("ledger integrity payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	start := time.Now()
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	defer func() { err = tracker.End(err) }()

	log := logger(j.Logger).With(slog.String("source", payload.Source))
	log.Info("starting ledger integrity check")
	broken, err := j.Verifier.VerifyAll(ctx)
	if err != nil {
		log.Error("ledger integrity check failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddLedgerMismatches(len(broken))
	log.Info("completed ledger integrity check",
		slog.Int("mismatches", len(broken)),
		slog.Duration("duration", time.Since(start)),
	)
	if len(broken) > 0 {
		return fmt.Errorf("%w: %d pairs: %w", ErrLedgerMismatch, len(broken), asynq.SkipRetry)
	}
	return nil
}

// IdempotencyPurger deletes idempotency keys older than a retention window.
type IdempotencyPurger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob bounds the size of the idempotency table.
type IdempotencyCleanupJob struct {
	Store   IdempotencyPurger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob initialises the cleanup handler.
func NewIdempotencyCleanupJob(store IdempotencyPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle purges expired keys.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("idempotency cleanup payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RetentionHours <= 0 {
		return fmt.Errorf("idempotency cleanup: retention must be positive: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	removed, err := j.Store.Cleanup(ctx, payload.Retention())
	if err != nil {
		return err
	}
	j.Metrics.AddIdempotencyPurged(removed)
	logger(j.Logger).Info("idempotency keys purged",
		slog.Int64("removed", removed),
		slog.Int("retention_hours", payload.RetentionHours),
	)
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

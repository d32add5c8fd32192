package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockAlert reports a pair that fell to or below its minimum stock.
	TaskLowStockAlert = "inventory:low_stock_alert"
	// TaskLedgerIntegrity recomputes every stock pair from its movements.
	TaskLedgerIntegrity = "inventory:ledger_integrity"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// Cron schedules, UTC.
const (
	LedgerIntegritySchedule    = "0 2 * * *"
	IdempotencyCleanupSchedule = "30 3 * * *"
)

// LowStockAlertPayload is the serialized inventory alert.
type LowStockAlertPayload = inventory.LowStockAlert

// LedgerIntegrityPayload records who triggered a verification run.
type LedgerIntegrityPayload struct {
	Source string `json:"source"`
}

// IdempotencyCleanupPayload carries the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// Retention converts the payload window to a duration.
func (p IdempotencyCleanupPayload) Retention() time.Duration {
	return time.Duration(p.RetentionHours) * time.Hour
}

// NewLowStockAlertTask constructs an alert task.
func NewLowStockAlertTask(alert inventory.LowStockAlert) (*asynq.Task, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockAlert, data, asynq.MaxRetry(3)), nil
}

// NewLedgerIntegrityTask constructs a ledger verification task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data, asynq.MaxRetry(1), asynq.Timeout(30*time.Minute)), nil
}

// NewIdempotencyCleanupTask constructs a cleanup task for the given retention.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	hours := int(retention / time.Hour)
	if hours < 1 {
		hours = 1
	}
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.MaxRetry(3)), nil
}

// DefaultCron returns the nightly maintenance schedule.
func DefaultCron(idempotencyRetention time.Duration) ([]CronRegistration, error) {
	integrity, err := NewLedgerIntegrityTask(LedgerIntegrityPayload{Source: "cron"})
	if err != nil {
		return nil, err
	}
	cleanup, err := NewIdempotencyCleanupTask(idempotencyRetention)
	if err != nil {
		return nil, err
	}
	return []CronRegistration{
		{Spec: LedgerIntegritySchedule, Task: integrity, Options: []asynq.Option{asynq.Queue(QueueDefault)}},
		{Spec: IdempotencyCleanupSchedule, Task: cleanup, Options: []asynq.Option{asynq.Queue(QueueDefault)}},
	}, nil
}

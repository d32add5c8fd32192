package shared

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// Audit actions recorded by the retail modules.
const (
	AuditStockAdjusted    = "stock.adjusted"
	AuditStockInitialised = "stock.initialised"
	AuditMinStockChanged  = "stock.min_changed"
	AuditTransferCreated  = "transfer.created"
	AuditTransferSent     = "transfer.sent"
	AuditTransferReceived = "transfer.received"
	AuditTransferDeleted  = "transfer.deleted"
	AuditSaleRecorded     = "sale.recorded"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db  DBTX
	now Clock
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db DBTX, now Clock) *AuditLogger {
	return &AuditLogger{db: db, now: now.OrSystem()}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.At.IsZero() {
		log.At = l.now()
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, log.At)
	return err
}

// FormatID renders an entity id for AuditLog.EntityID.
func FormatID(id int64) string { return strconv.FormatInt(id, 10) }

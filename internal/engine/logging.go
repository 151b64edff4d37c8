package engine

import (
	"context"

	"go.uber.org/zap"
)

const (
	operationStatusOK    = "ok"
	operationStatusError = "error"

	operationCredit        = "credit"
	operationDebit         = "debit"
	operationBook          = "book"
	operationCancel        = "cancel"
	operationReward        = "reward"
	operationBeginPurchase = "begin_purchase"
	operationDispatchLinks = "dispatch_links"
)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing engine operation.
type OperationLog struct {
	Operation     string
	UserID        string
	ReservationID string
	PurchaseID    string
	Minutes       int64
	Count         int
	Status        string
	Error         error
}

// ZapOperationLogger adapts a zap logger to the OperationLogger contract.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wires a ZapOperationLogger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	return &ZapOperationLogger{logger: logger}
}

// LogOperation emits one structured record per operation.
func (zapLogger *ZapOperationLogger) LogOperation(_ context.Context, entry OperationLog) {
	if zapLogger.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("user_id", entry.UserID),
	}
	if entry.ReservationID != "" {
		fields = append(fields, zap.String("reservation_id", entry.ReservationID))
	}
	if entry.PurchaseID != "" {
		fields = append(fields, zap.String("purchase_id", entry.PurchaseID))
	}
	if entry.Minutes != 0 {
		fields = append(fields, zap.Int64("minutes", entry.Minutes))
	}
	if entry.Count != 0 {
		fields = append(fields, zap.Int("count", entry.Count))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		zapLogger.logger.Warn("engine operation failed", fields...)
		return
	}
	zapLogger.logger.Info("engine operation", fields...)
}

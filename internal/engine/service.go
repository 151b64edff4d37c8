package engine

import (
	"context"
	"fmt"
	"time"
)

// Service contains the domain logic over a Store. It bundles the
// availability resolver, the credit ledger and the reward processor behind
// one transactional boundary.
type Service struct {
	store    Store
	nowFn    func() time.Time
	logger   OperationLogger
	notifier Notifier
}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithOperationLogger wires a logger that receives callbacks for every
// state-changing operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithNotifier wires the email collaborator. Send failures never fail the
// originating operation.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Bootstrap ensures a user row exists for a validated session identity.
func (service *Service) Bootstrap(ctx context.Context, userID string, email string, displayName string) (User, error) {
	return service.store.GetOrCreateUser(ctx, userID, email, displayName)
}

// ReservationsForUser lists a user's reservations, newest first.
func (service *Service) ReservationsForUser(ctx context.Context, userID string) ([]Reservation, error) {
	return service.store.ReservationsForUser(ctx, userID)
}

// PurchasesForUser lists a user's purchases, newest first.
func (service *Service) PurchasesForUser(ctx context.Context, userID string) ([]Purchase, error) {
	return service.store.PurchasesForUser(ctx, userID)
}

// PurchaseByReference resolves a purchase from a payment-provider reference.
func (service *Service) PurchaseByReference(ctx context.Context, externalRef string) (Purchase, error) {
	return service.store.PurchaseByExternalRef(ctx, externalRef)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

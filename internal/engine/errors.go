package engine

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the engine.
var (
	ErrUserNotFound          = errors.New("user not found")
	ErrProductNotFound       = errors.New("product not found")
	ErrGameNotFound          = errors.New("game not found")
	ErrPCNotFound            = errors.New("pc not found")
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrPurchaseNotFound      = errors.New("purchase not found")
	ErrInvalidWindow         = errors.New("invalid time window")
	ErrInvalidDuration       = errors.New("invalid duration")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrNoPCAvailable         = errors.New("no pcs available")
	ErrGameCapacityExhausted = errors.New("game unavailable")
	ErrForbidden             = errors.New("forbidden")
	ErrAlreadyExists         = errors.New("already exists")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

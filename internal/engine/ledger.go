package engine

import "context"

// Credit adds prepaid minutes to a user. Used by admin grants and the
// reward processor's direct path.
func (service *Service) Credit(ctx context.Context, userID string, minutes int64) error {
	operationError := func() error {
		if minutes <= 0 {
			return ErrInvalidAmount
		}
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			if _, err := txStore.UserByIDForUpdate(ctx, userID); err != nil {
				return err
			}
			return txStore.AddUserMinutes(ctx, userID, minutes)
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		UserID:    userID,
		Minutes:   minutes,
		Error:     operationError,
	})
	return operationError
}

// Debit removes prepaid minutes from a user, refusing to overdraw.
func (service *Service) Debit(ctx context.Context, userID string, minutes int64) error {
	operationError := func() error {
		if minutes <= 0 {
			return ErrInvalidAmount
		}
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			if _, err := txStore.UserByIDForUpdate(ctx, userID); err != nil {
				return err
			}
			return txStore.DebitUserMinutes(ctx, userID, minutes)
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationDebit,
		UserID:    userID,
		Minutes:   minutes,
		Error:     operationError,
	})
	return operationError
}

// Balance returns the user's prepaid minute balance.
func (service *Service) Balance(ctx context.Context, userID string) (Balance, error) {
	user, err := service.store.UserByID(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Minutes: user.Minutes}, nil
}

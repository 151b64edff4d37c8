package engine

import "context"

// Book reserves a PC for the window, debiting the user's balance for the
// whole minutes the window covers. The balance check, the availability
// resolution, the debit and the reservation insert run in one transaction;
// the confirmation email is fired after commit and never fails the booking.
func (service *Service) Book(ctx context.Context, userID string, window Window, gameID string) (Reservation, error) {
	var (
		reservation Reservation
		user        User
		pc          PC
	)
	operationError := func() error {
		if !window.Valid() {
			return ErrInvalidWindow
		}
		durationMinutes := window.DurationMinutes()
		if durationMinutes <= 0 {
			return ErrInvalidDuration
		}
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			var err error
			user, err = txStore.UserByIDForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			// Fail fast; DebitUserMinutes re-checks under the same lock.
			if user.Minutes < durationMinutes {
				return ErrInsufficientBalance
			}
			pcID, err := findAssignment(ctx, txStore, window, gameID, true)
			if err != nil {
				return err
			}
			if err := txStore.DebitUserMinutes(ctx, userID, durationMinutes); err != nil {
				return err
			}
			reservation = Reservation{
				UserID:    userID,
				PCID:      pcID,
				GameID:    gameID,
				StartTime: window.Start.UTC(),
				EndTime:   window.End.UTC(),
				Status:    ReservationConfirmed,
			}
			if err := txStore.CreateReservation(ctx, &reservation); err != nil {
				return err
			}
			pc, err = txStore.PCByID(ctx, pcID)
			return err
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:     operationBook,
		UserID:        userID,
		ReservationID: reservation.ID,
		Minutes:       window.DurationMinutes(),
		Error:         operationError,
	})
	if operationError != nil {
		return Reservation{}, operationError
	}
	if service.notifier != nil {
		// Best effort; the notifier logs its own failures.
		_ = service.notifier.BookingConfirmed(ctx, user, reservation, pc)
	}
	return reservation, nil
}

// Cancel soft-cancels a reservation owned by the requesting user. Credits
// are not refunded; cancelling an already cancelled reservation is a no-op.
func (service *Service) Cancel(ctx context.Context, reservationID string, requestingUserID string) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		reservation, err := txStore.ReservationByID(ctx, reservationID)
		if err != nil {
			return err
		}
		if reservation.UserID != requestingUserID {
			return ErrForbidden
		}
		if reservation.Status == ReservationCancelled {
			return nil
		}
		return txStore.UpdateReservationStatus(ctx, reservationID, ReservationConfirmed, ReservationCancelled)
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationCancel,
		UserID:        requestingUserID,
		ReservationID: reservationID,
		Error:         operationError,
	})
	return operationError
}

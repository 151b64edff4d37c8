package engine

import (
	"context"
	"time"
)

// DispatchPendingLinks emails connection links for confirmed reservations
// starting within the lookahead window whose link has not been sent yet,
// then flips the set-once link_sent flag. Returns the number of links
// dispatched. Safe to invoke repeatedly; the guarded flag update makes each
// reservation's flip idempotent.
func (service *Service) DispatchPendingLinks(ctx context.Context, lookahead time.Duration) (int, error) {
	// No sender means nothing was delivered; flipping link_sent here would
	// permanently swallow the emails.
	if service.notifier == nil {
		return 0, nil
	}
	now := service.nowFn().UTC()
	pending, err := service.store.PendingLinkReservations(ctx, now, now.Add(lookahead))
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationDispatchLinks, Error: err})
		return 0, err
	}
	dispatched := 0
	for _, entry := range pending {
		if err := service.notifier.ConnectionLink(ctx, entry.UserEmail, entry.Reservation, entry.PCName, entry.Link); err != nil {
			// Leave link_sent unset so the next tick retries.
			continue
		}
		flipped, err := service.store.MarkLinkSent(ctx, entry.Reservation.ID)
		if err != nil {
			service.logOperation(ctx, OperationLog{
				Operation:     operationDispatchLinks,
				ReservationID: entry.Reservation.ID,
				Error:         err,
			})
			return dispatched, err
		}
		if flipped {
			dispatched++
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationDispatchLinks,
		Count:     dispatched,
	})
	return dispatched, nil
}

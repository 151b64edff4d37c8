package engine

import "context"

// FindAssignment resolves which PC would serve a booking for the window,
// honoring the shared-game copy limit when gameID is set. Read-only; Book
// runs the same resolution inside its transaction.
func (service *Service) FindAssignment(ctx context.Context, window Window, gameID string) (string, error) {
	if !window.Valid() {
		return "", ErrInvalidWindow
	}
	return findAssignment(ctx, service.store, window, gameID, false)
}

// findAssignment picks the first free PC in name order. The deterministic
// tie-break keeps repeat customers on low, stable PC numbers instead of
// spreading load. With lock set the game row and the PC pool are read
// FOR UPDATE, which serializes concurrent booking transactions: the overlap
// reads below then run after any competing booking has committed.
func findAssignment(ctx context.Context, store Store, window Window, gameID string, lock bool) (string, error) {
	if gameID != "" {
		game, err := gameByID(ctx, store, gameID, lock)
		if err != nil {
			return "", err
		}
		if !game.Active {
			return "", ErrGameNotFound
		}
		overlapping, err := store.CountGameOverlaps(ctx, gameID, window)
		if err != nil {
			return "", err
		}
		if overlapping >= int64(game.MaxCopies) {
			return "", ErrGameCapacityExhausted
		}
	}
	pcs, err := availablePCs(ctx, store, lock)
	if err != nil {
		return "", err
	}
	occupied, err := store.OccupiedPCIDs(ctx, window)
	if err != nil {
		return "", err
	}
	for _, pc := range pcs {
		if _, taken := occupied[pc.ID]; !taken {
			return pc.ID, nil
		}
	}
	return "", ErrNoPCAvailable
}

func gameByID(ctx context.Context, store Store, gameID string, lock bool) (SharedGame, error) {
	if lock {
		return store.GameByIDForUpdate(ctx, gameID)
	}
	return store.GameByID(ctx, gameID)
}

func availablePCs(ctx context.Context, store Store, lock bool) ([]PC, error) {
	if lock {
		return store.AvailablePCsForUpdate(ctx)
	}
	return store.AvailablePCs(ctx)
}

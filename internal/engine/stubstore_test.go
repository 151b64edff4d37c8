package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

// stubStore is an in-memory Store. WithTx serializes callers the way a
// single-writer database would, so concurrent bookings exercise the same
// ordering guarantees the real store provides.
type stubStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users        map[string]*User
	pcs          map[string]PC
	games        map[string]SharedGame
	reservations map[string]*Reservation
	purchases    map[string]*Purchase
	products     map[string]Product
	achievements []Achievement

	nextReservation int
	nextPurchase    int

	lockedPCReads   int
	lockedGameReads int

	availablePCsError error
	occupiedError     error
	createResError    error
	addMinutesError   error
	markLinkError     error
	pendingLinksError error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		users:        map[string]*User{},
		pcs:          map[string]PC{},
		games:        map[string]SharedGame{},
		reservations: map[string]*Reservation{},
		purchases:    map[string]*Purchase{},
		products:     map[string]Product{},
	}
}

func (store *stubStore) addUser(userID string, minutes int64) {
	store.users[userID] = &User{ID: userID, Email: userID + "@example.com", Minutes: minutes}
}

func (store *stubStore) addPC(pcID string, name string, status PCStatus, link string) {
	store.pcs[pcID] = PC{ID: pcID, Name: name, Status: status, ConnectionLink: link}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMu.Lock()
	defer store.txMu.Unlock()
	return fn(ctx, store)
}

func (store *stubStore) GetOrCreateUser(_ context.Context, userID string, email string, displayName string) (User, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if user, ok := store.users[userID]; ok {
		return *user, nil
	}
	user := &User{ID: userID, Email: email, DisplayName: displayName, Role: RoleUser}
	store.users[userID] = user
	return *user, nil
}

func (store *stubStore) UserByID(_ context.Context, userID string) (User, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	user, ok := store.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return *user, nil
}

func (store *stubStore) UserByIDForUpdate(ctx context.Context, userID string) (User, error) {
	return store.UserByID(ctx, userID)
}

func (store *stubStore) AddUserMinutes(_ context.Context, userID string, minutes int64) error {
	if store.addMinutesError != nil {
		return store.addMinutesError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	user, ok := store.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.Minutes += minutes
	return nil
}

func (store *stubStore) DebitUserMinutes(_ context.Context, userID string, minutes int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	user, ok := store.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if user.Minutes < minutes {
		return ErrInsufficientBalance
	}
	user.Minutes -= minutes
	return nil
}

func (store *stubStore) UpdateUserProgress(_ context.Context, userID string, totalHours int64, level int64, unlocked []string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	user, ok := store.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.TotalHoursPurchased = totalHours
	user.Level = level
	user.AchievementsUnlocked = append([]string{}, unlocked...)
	return nil
}

func (store *stubStore) AvailablePCs(_ context.Context) ([]PC, error) {
	if store.availablePCsError != nil {
		return nil, store.availablePCsError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	var pcs []PC
	for _, pc := range store.pcs {
		if pc.Status == PCAvailable {
			pcs = append(pcs, pc)
		}
	}
	sort.Slice(pcs, func(i, j int) bool { return pcs[i].Name < pcs[j].Name })
	return pcs, nil
}

func (store *stubStore) AvailablePCsForUpdate(ctx context.Context) ([]PC, error) {
	store.mu.Lock()
	store.lockedPCReads++
	store.mu.Unlock()
	return store.AvailablePCs(ctx)
}

func (store *stubStore) PCByID(_ context.Context, pcID string) (PC, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	pc, ok := store.pcs[pcID]
	if !ok {
		return PC{}, ErrPCNotFound
	}
	return pc, nil
}

func (store *stubStore) OccupiedPCIDs(_ context.Context, window Window) (map[string]struct{}, error) {
	if store.occupiedError != nil {
		return nil, store.occupiedError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	occupied := map[string]struct{}{}
	for _, reservation := range store.reservations {
		if reservation.Status != ReservationConfirmed {
			continue
		}
		if reservation.Window().Overlaps(window) {
			occupied[reservation.PCID] = struct{}{}
		}
	}
	return occupied, nil
}

func (store *stubStore) GameByID(_ context.Context, gameID string) (SharedGame, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	game, ok := store.games[gameID]
	if !ok {
		return SharedGame{}, ErrGameNotFound
	}
	return game, nil
}

func (store *stubStore) GameByIDForUpdate(ctx context.Context, gameID string) (SharedGame, error) {
	store.mu.Lock()
	store.lockedGameReads++
	store.mu.Unlock()
	return store.GameByID(ctx, gameID)
}

func (store *stubStore) CountGameOverlaps(_ context.Context, gameID string, window Window) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var count int64
	for _, reservation := range store.reservations {
		if reservation.GameID != gameID || reservation.Status != ReservationConfirmed {
			continue
		}
		if reservation.Window().Overlaps(window) {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) CreateReservation(_ context.Context, reservation *Reservation) error {
	if store.createResError != nil {
		return store.createResError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if reservation.ID == "" {
		store.nextReservation++
		reservation.ID = fmt.Sprintf("res-%d", store.nextReservation)
	}
	reservation.CreatedAt = time.Now().UTC()
	clone := *reservation
	store.reservations[reservation.ID] = &clone
	return nil
}

func (store *stubStore) ReservationByID(_ context.Context, reservationID string) (Reservation, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return *reservation, nil
}

func (store *stubStore) UpdateReservationStatus(_ context.Context, reservationID string, from ReservationStatus, to ReservationStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	reservation, ok := store.reservations[reservationID]
	if !ok || reservation.Status != from {
		return ErrReservationNotFound
	}
	reservation.Status = to
	return nil
}

func (store *stubStore) ReservationsForUser(_ context.Context, userID string) ([]Reservation, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var reservations []Reservation
	for _, reservation := range store.reservations {
		if reservation.UserID == userID {
			reservations = append(reservations, *reservation)
		}
	}
	sort.Slice(reservations, func(i, j int) bool {
		return reservations[i].StartTime.After(reservations[j].StartTime)
	})
	return reservations, nil
}

func (store *stubStore) PendingLinkReservations(_ context.Context, from time.Time, until time.Time) ([]PendingLink, error) {
	if store.pendingLinksError != nil {
		return nil, store.pendingLinksError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	var pending []PendingLink
	for _, reservation := range store.reservations {
		if reservation.Status != ReservationConfirmed || reservation.LinkSent {
			continue
		}
		if reservation.StartTime.Before(from) || !reservation.StartTime.Before(until) {
			continue
		}
		pc, ok := store.pcs[reservation.PCID]
		if !ok || pc.ConnectionLink == "" {
			continue
		}
		user, ok := store.users[reservation.UserID]
		if !ok {
			continue
		}
		pending = append(pending, PendingLink{
			Reservation: *reservation,
			UserEmail:   user.Email,
			PCName:      pc.Name,
			Link:        pc.ConnectionLink,
		})
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Reservation.StartTime.Before(pending[j].Reservation.StartTime)
	})
	return pending, nil
}

func (store *stubStore) MarkLinkSent(_ context.Context, reservationID string) (bool, error) {
	if store.markLinkError != nil {
		return false, store.markLinkError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return false, ErrReservationNotFound
	}
	if reservation.LinkSent {
		return false, nil
	}
	reservation.LinkSent = true
	return true, nil
}

func (store *stubStore) ProductByID(_ context.Context, productID string) (Product, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	product, ok := store.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return product, nil
}

func (store *stubStore) AchievementsByMilestone(_ context.Context) ([]Achievement, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	achievements := append([]Achievement{}, store.achievements...)
	sort.Slice(achievements, func(i, j int) bool {
		return achievements[i].MilestoneHours < achievements[j].MilestoneHours
	})
	return achievements, nil
}

func (store *stubStore) CreatePurchase(_ context.Context, purchase *Purchase) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if purchase.ID == "" {
		store.nextPurchase++
		purchase.ID = fmt.Sprintf("pur-%d", store.nextPurchase)
	}
	if purchase.ExternalRef != "" {
		for _, existing := range store.purchases {
			if existing.ExternalRef == purchase.ExternalRef {
				return ErrAlreadyExists
			}
		}
	}
	purchase.CreatedAt = time.Now().UTC()
	clone := *purchase
	store.purchases[purchase.ID] = &clone
	return nil
}

func (store *stubStore) PurchaseByID(_ context.Context, purchaseID string) (Purchase, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	purchase, ok := store.purchases[purchaseID]
	if !ok {
		return Purchase{}, ErrPurchaseNotFound
	}
	return *purchase, nil
}

func (store *stubStore) PurchaseByIDForUpdate(ctx context.Context, purchaseID string) (Purchase, error) {
	return store.PurchaseByID(ctx, purchaseID)
}

func (store *stubStore) PurchaseByExternalRef(_ context.Context, externalRef string) (Purchase, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, purchase := range store.purchases {
		if purchase.ExternalRef == externalRef {
			return *purchase, nil
		}
	}
	return Purchase{}, ErrPurchaseNotFound
}

func (store *stubStore) UpdatePurchaseStatus(_ context.Context, purchaseID string, from PurchaseStatus, to PurchaseStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	purchase, ok := store.purchases[purchaseID]
	if !ok || purchase.Status != from {
		return ErrPurchaseNotFound
	}
	purchase.Status = to
	return nil
}

func (store *stubStore) SetPurchaseExternalRef(_ context.Context, purchaseID string, externalRef string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	purchase, ok := store.purchases[purchaseID]
	if !ok {
		return ErrPurchaseNotFound
	}
	for _, existing := range store.purchases {
		if existing.ID != purchaseID && existing.ExternalRef == externalRef {
			return ErrAlreadyExists
		}
	}
	purchase.ExternalRef = externalRef
	return nil
}

func (store *stubStore) PurchasesForUser(_ context.Context, userID string) ([]Purchase, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var purchases []Purchase
	for _, purchase := range store.purchases {
		if purchase.UserID == userID {
			purchases = append(purchases, *purchase)
		}
	}
	sort.Slice(purchases, func(i, j int) bool {
		return purchases[i].CreatedAt.After(purchases[j].CreatedAt)
	})
	return purchases, nil
}

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return testNow }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func testWindow(startOffset time.Duration, duration time.Duration) Window {
	start := testNow.Add(startOffset)
	return Window{Start: start, End: start.Add(duration)}
}

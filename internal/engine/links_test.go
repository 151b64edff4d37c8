package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedLinkableReservation(store *stubStore, reservationID string, startOffset time.Duration) {
	store.reservations[reservationID] = &Reservation{
		ID:        reservationID,
		UserID:    "user-1",
		PCID:      "pc-1",
		StartTime: testNow.Add(startOffset),
		EndTime:   testNow.Add(startOffset + time.Hour),
		Status:    ReservationConfirmed,
	}
}

func TestDispatchPendingLinksSendsAndFlipsOnce(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 0)
	store.addPC("pc-1", "PC-01", PCAvailable, "rdp://pc-01")
	seedLinkableReservation(store, "res-soon", 5*time.Minute)
	notifier := &recordingNotifier{}
	service := mustNewService(test, store, WithNotifier(notifier))

	dispatched, err := service.DispatchPendingLinks(context.Background(), 10*time.Minute)
	if err != nil {
		test.Fatalf("dispatch: %v", err)
	}
	if dispatched != 1 {
		test.Fatalf("expected 1 dispatched, got %d", dispatched)
	}
	if len(notifier.links) != 1 || notifier.links[0] != "res-soon" {
		test.Fatalf("expected link email for res-soon, got %v", notifier.links)
	}

	// Second tick finds nothing; the flag is set-once.
	dispatched, err = service.DispatchPendingLinks(context.Background(), 10*time.Minute)
	if err != nil {
		test.Fatalf("second dispatch: %v", err)
	}
	if dispatched != 0 || len(notifier.links) != 1 {
		test.Fatalf("link re-dispatched: count=%d emails=%v", dispatched, notifier.links)
	}
}

func TestDispatchHonorsLookaheadWindow(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 0)
	store.addPC("pc-1", "PC-01", PCAvailable, "rdp://pc-01")
	seedLinkableReservation(store, "res-soon", 5*time.Minute)
	seedLinkableReservation(store, "res-later", 2*time.Hour)
	notifier := &recordingNotifier{}
	service := mustNewService(test, store, WithNotifier(notifier))

	dispatched, err := service.DispatchPendingLinks(context.Background(), 10*time.Minute)
	if err != nil {
		test.Fatalf("dispatch: %v", err)
	}
	if dispatched != 1 || len(notifier.links) != 1 || notifier.links[0] != "res-soon" {
		test.Fatalf("expected only res-soon, got count=%d emails=%v", dispatched, notifier.links)
	}
}

func TestDispatchSkipsPCsWithoutConnectionLink(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 0)
	store.addPC("pc-1", "PC-01", PCAvailable, "")
	seedLinkableReservation(store, "res-soon", 5*time.Minute)
	notifier := &recordingNotifier{}
	service := mustNewService(test, store, WithNotifier(notifier))

	dispatched, err := service.DispatchPendingLinks(context.Background(), 10*time.Minute)
	if err != nil {
		test.Fatalf("dispatch: %v", err)
	}
	if dispatched != 0 || len(notifier.links) != 0 {
		test.Fatalf("dispatched link for PC without connection link")
	}
}

func TestDispatchRetriesAfterSendFailure(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 0)
	store.addPC("pc-1", "PC-01", PCAvailable, "rdp://pc-01")
	seedLinkableReservation(store, "res-soon", 5*time.Minute)
	notifier := &recordingNotifier{linkError: errors.New("smtp down")}
	service := mustNewService(test, store, WithNotifier(notifier))

	dispatched, err := service.DispatchPendingLinks(context.Background(), 10*time.Minute)
	if err != nil {
		test.Fatalf("dispatch: %v", err)
	}
	if dispatched != 0 {
		test.Fatalf("counted a failed send: %d", dispatched)
	}
	stored, _ := store.ReservationByID(context.Background(), "res-soon")
	if stored.LinkSent {
		test.Fatalf("link_sent flipped despite send failure")
	}

	// Mailer recovers; next tick delivers.
	notifier.linkError = nil
	dispatched, err = service.DispatchPendingLinks(context.Background(), 10*time.Minute)
	if err != nil {
		test.Fatalf("second dispatch: %v", err)
	}
	if dispatched != 1 || len(notifier.links) != 1 {
		test.Fatalf("expected delivery on retry, got count=%d emails=%v", dispatched, notifier.links)
	}
}

func TestDispatchPropagatesStoreErrors(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.pendingLinksError = errors.New("query failed")
	service := mustNewService(test, store, WithNotifier(&recordingNotifier{}))

	if _, err := service.DispatchPendingLinks(context.Background(), 10*time.Minute); err == nil {
		test.Fatalf("expected store error")
	}
}

func TestDispatchWithoutNotifierLeavesLinksPending(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 0)
	store.addPC("pc-1", "PC-01", PCAvailable, "rdp://pc-01")
	seedLinkableReservation(store, "res-soon", 5*time.Minute)
	service := mustNewService(test, store)

	dispatched, err := service.DispatchPendingLinks(context.Background(), 10*time.Minute)
	if err != nil {
		test.Fatalf("dispatch: %v", err)
	}
	if dispatched != 0 {
		test.Fatalf("dispatched %d links with no sender", dispatched)
	}
	stored, _ := store.ReservationByID(context.Background(), "res-soon")
	if stored.LinkSent {
		test.Fatalf("link_sent flipped with no sender configured")
	}
}

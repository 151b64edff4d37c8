package engine

import (
	"context"
	"errors"
	"testing"
)

func seedCatalog(store *stubStore) {
	store.products["prod-5h"] = Product{ID: "prod-5h", Name: "5 hour pack", PriceCents: 2000, Minutes: 300, Active: true}
	store.products["prod-90m"] = Product{ID: "prod-90m", Name: "90 minute pack", PriceCents: 800, Minutes: 90, Active: true}
	store.achievements = []Achievement{
		{ID: "ach-5", Name: "Regular", MilestoneHours: 5, RewardHours: 1},
		{ID: "ach-10", Name: "Veteran", MilestoneHours: 10, RewardHours: 2},
	}
}

func TestDirectBuyCreditsMinutesAndRecordsPurchase(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 0)
	seedCatalog(store)
	service := mustNewService(test, store)

	outcome, err := service.ProcessPurchaseRewards(context.Background(), "user-1", "prod-90m", "")
	if err != nil {
		test.Fatalf("process: %v", err)
	}
	if outcome.Purchase.Status != PurchaseCompleted {
		test.Fatalf("expected COMPLETED purchase, got %s", outcome.Purchase.Status)
	}
	// 90 minutes bought, floor(90/60)=1 hour of progress, below any milestone.
	if outcome.BonusMinutes != 0 || len(outcome.NewlyUnlocked) != 0 {
		test.Fatalf("unexpected bonus: %+v", outcome)
	}
	if outcome.NewLevel != 1 {
		test.Fatalf("expected level 1, got %d", outcome.NewLevel)
	}
	balance, _ := service.Balance(context.Background(), "user-1")
	if balance.Minutes != 90 {
		test.Fatalf("expected 90 minutes, got %d", balance.Minutes)
	}
}

func TestMilestoneUnlockGrantsBonusOnce(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 0)
	seedCatalog(store)
	service := mustNewService(test, store)

	outcome, err := service.ProcessPurchaseRewards(context.Background(), "user-1", "prod-5h", "")
	if err != nil {
		test.Fatalf("first purchase: %v", err)
	}
	if len(outcome.NewlyUnlocked) != 1 || outcome.NewlyUnlocked[0].ID != "ach-5" {
		test.Fatalf("expected ach-5 unlock, got %+v", outcome.NewlyUnlocked)
	}
	if outcome.BonusMinutes != 60 {
		test.Fatalf("expected 60 bonus minutes, got %d", outcome.BonusMinutes)
	}
	balance, _ := service.Balance(context.Background(), "user-1")
	if balance.Minutes != 360 {
		test.Fatalf("expected 300+60 minutes, got %d", balance.Minutes)
	}

	// Second 5h pack crosses the 10h milestone only; ach-5 stays one-shot.
	outcome, err = service.ProcessPurchaseRewards(context.Background(), "user-1", "prod-5h", "")
	if err != nil {
		test.Fatalf("second purchase: %v", err)
	}
	if len(outcome.NewlyUnlocked) != 1 || outcome.NewlyUnlocked[0].ID != "ach-10" {
		test.Fatalf("expected only ach-10, got %+v", outcome.NewlyUnlocked)
	}
	if outcome.BonusMinutes != 120 {
		test.Fatalf("expected 120 bonus minutes, got %d", outcome.BonusMinutes)
	}
	if outcome.NewLevel != 10 {
		test.Fatalf("expected level 10, got %d", outcome.NewLevel)
	}
	user, _ := store.UserByID(context.Background(), "user-1")
	if len(user.AchievementsUnlocked) != 2 {
		test.Fatalf("expected 2 unlocked achievements, got %v", user.AchievementsUnlocked)
	}
}

func TestWebhookPathFlipsPendingPurchaseExactlyOnce(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 0)
	seedCatalog(store)
	service := mustNewService(test, store)

	purchase, err := service.BeginPurchase(context.Background(), "user-1", "prod-5h", 0)
	if err != nil {
		test.Fatalf("begin purchase: %v", err)
	}
	if purchase.Status != PurchasePending {
		test.Fatalf("expected PENDING, got %s", purchase.Status)
	}
	if err := service.AttachPaymentReference(context.Background(), purchase.ID, "mp-123"); err != nil {
		test.Fatalf("attach reference: %v", err)
	}
	resolved, err := service.PurchaseByReference(context.Background(), "mp-123")
	if err != nil || resolved.ID != purchase.ID {
		test.Fatalf("resolve by reference: %v (%+v)", err, resolved)
	}

	outcome, err := service.ProcessPurchaseRewards(context.Background(), "user-1", "prod-5h", purchase.ID)
	if err != nil {
		test.Fatalf("process: %v", err)
	}
	if outcome.AlreadyCompleted {
		test.Fatalf("first processing flagged as already completed")
	}
	balance, _ := service.Balance(context.Background(), "user-1")
	if balance.Minutes != 360 {
		test.Fatalf("expected 360 minutes after first processing, got %d", balance.Minutes)
	}

	// Retried webhook: no further credit, no new unlocks.
	outcome, err = service.ProcessPurchaseRewards(context.Background(), "user-1", "prod-5h", purchase.ID)
	if err != nil {
		test.Fatalf("retry: %v", err)
	}
	if !outcome.AlreadyCompleted {
		test.Fatalf("expected AlreadyCompleted on retry")
	}
	balance, _ = service.Balance(context.Background(), "user-1")
	if balance.Minutes != 360 {
		test.Fatalf("retry credited again: %d", balance.Minutes)
	}
}

func TestProcessRejectsForeignPurchase(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 0)
	store.addUser("user-2", 0)
	seedCatalog(store)
	service := mustNewService(test, store)

	purchase, err := service.BeginPurchase(context.Background(), "user-1", "prod-5h", 0)
	if err != nil {
		test.Fatalf("begin purchase: %v", err)
	}
	_, err = service.ProcessPurchaseRewards(context.Background(), "user-2", "prod-5h", purchase.ID)
	if !errors.Is(err, ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestProcessUnknownProductAndUser(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 0)
	seedCatalog(store)
	service := mustNewService(test, store)

	if _, err := service.ProcessPurchaseRewards(context.Background(), "user-1", "missing", ""); !errors.Is(err, ErrProductNotFound) {
		test.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	if _, err := service.ProcessPurchaseRewards(context.Background(), "ghost", "prod-5h", ""); !errors.Is(err, ErrUserNotFound) {
		test.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestInactiveProductIsNotPurchasable(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 0)
	seedCatalog(store)
	store.products["prod-old"] = Product{ID: "prod-old", Name: "Retired pack", PriceCents: 500, Minutes: 60, Active: false}
	service := mustNewService(test, store)

	if _, err := service.BeginPurchase(context.Background(), "user-1", "prod-old", 0); !errors.Is(err, ErrProductNotFound) {
		test.Fatalf("begin: expected ErrProductNotFound, got %v", err)
	}
	if _, err := service.ProcessPurchaseRewards(context.Background(), "user-1", "prod-old", ""); !errors.Is(err, ErrProductNotFound) {
		test.Fatalf("direct buy: expected ErrProductNotFound, got %v", err)
	}
	balance, _ := service.Balance(context.Background(), "user-1")
	if balance.Minutes != 0 {
		test.Fatalf("inactive product credited minutes: %d", balance.Minutes)
	}
}

// A purchase opened while the product was active still completes when the
// payment notification arrives after the product is withdrawn.
func TestWebhookCompletesPurchaseOfSinceWithdrawnProduct(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 0)
	seedCatalog(store)
	service := mustNewService(test, store)

	purchase, err := service.BeginPurchase(context.Background(), "user-1", "prod-90m", 0)
	if err != nil {
		test.Fatalf("begin purchase: %v", err)
	}
	retired := store.products["prod-90m"]
	retired.Active = false
	store.products["prod-90m"] = retired

	outcome, err := service.ProcessPurchaseRewards(context.Background(), "user-1", "prod-90m", purchase.ID)
	if err != nil {
		test.Fatalf("process: %v", err)
	}
	if outcome.Purchase.Status != PurchaseCompleted {
		test.Fatalf("expected COMPLETED, got %s", outcome.Purchase.Status)
	}
	balance, _ := service.Balance(context.Background(), "user-1")
	if balance.Minutes != 90 {
		test.Fatalf("expected 90 minutes, got %d", balance.Minutes)
	}
}

func TestBeginPurchaseAppliesDiscount(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addUser("user-1", 0)
	seedCatalog(store)
	service := mustNewService(test, store)

	purchase, err := service.BeginPurchase(context.Background(), "user-1", "prod-5h", 25)
	if err != nil {
		test.Fatalf("begin purchase: %v", err)
	}
	if purchase.AmountCents != 1500 {
		test.Fatalf("expected 1500 cents after 25%% discount, got %d", purchase.AmountCents)
	}

	for _, discount := range []float64{-1, 100, 150} {
		if _, err := service.BeginPurchase(context.Background(), "user-1", "prod-5h", discount); !errors.Is(err, ErrInvalidAmount) {
			test.Fatalf("discount %v: expected ErrInvalidAmount, got %v", discount, err)
		}
	}
}

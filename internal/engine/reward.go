package engine

import "context"

// ProcessPurchaseRewards converts a completed purchase into ledger credit
// plus milestone bonuses and achievement unlocks. When purchaseID is set the
// PENDING -> COMPLETED flip is the idempotency fence: a purchase already
// COMPLETED returns AlreadyCompleted with no further mutation, so retried
// payment webhooks credit at most once. When purchaseID is empty a COMPLETED
// purchase row is created directly (direct-buy path).
func (service *Service) ProcessPurchaseRewards(ctx context.Context, userID string, productID string, purchaseID string) (RewardOutcome, error) {
	var outcome RewardOutcome
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		product, err := txStore.ProductByID(ctx, productID)
		if err != nil {
			return err
		}
		// Direct buys of withdrawn products are refused; a purchase begun
		// while the product was active still completes when the webhook
		// lands after deactivation.
		if purchaseID == "" && !product.Active {
			return ErrProductNotFound
		}
		user, err := txStore.UserByIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		var purchase Purchase
		if purchaseID != "" {
			purchase, err = txStore.PurchaseByIDForUpdate(ctx, purchaseID)
			if err != nil {
				return err
			}
			if purchase.UserID != userID {
				return ErrForbidden
			}
			if purchase.Status == PurchaseCompleted {
				outcome = RewardOutcome{Purchase: purchase, NewLevel: user.Level, AlreadyCompleted: true}
				return nil
			}
			if err := txStore.UpdatePurchaseStatus(ctx, purchaseID, PurchasePending, PurchaseCompleted); err != nil {
				return err
			}
			purchase.Status = PurchaseCompleted
		} else {
			purchase = Purchase{
				UserID:      userID,
				ProductID:   productID,
				AmountCents: product.PriceCents,
				Status:      PurchaseCompleted,
			}
			if err := txStore.CreatePurchase(ctx, &purchase); err != nil {
				return err
			}
		}

		// Partial product hours are truncated per purchase, not carried over.
		hoursPurchased := product.Minutes / 60
		newTotalHours := user.TotalHoursPurchased + hoursPurchased
		newLevel := newTotalHours

		achievements, err := txStore.AchievementsByMilestone(ctx)
		if err != nil {
			return err
		}
		alreadyUnlocked := make(map[string]struct{}, len(user.AchievementsUnlocked))
		for _, achievementID := range user.AchievementsUnlocked {
			alreadyUnlocked[achievementID] = struct{}{}
		}
		var newlyUnlocked []Achievement
		var bonusMinutes int64
		for _, achievement := range achievements {
			if achievement.MilestoneHours > newTotalHours {
				continue
			}
			if _, unlocked := alreadyUnlocked[achievement.ID]; unlocked {
				continue
			}
			newlyUnlocked = append(newlyUnlocked, achievement)
			bonusMinutes += achievement.RewardHours * 60
		}

		if err := txStore.AddUserMinutes(ctx, userID, product.Minutes+bonusMinutes); err != nil {
			return err
		}
		unlockedIDs := append([]string{}, user.AchievementsUnlocked...)
		for _, achievement := range newlyUnlocked {
			unlockedIDs = append(unlockedIDs, achievement.ID)
		}
		if err := txStore.UpdateUserProgress(ctx, userID, newTotalHours, newLevel, unlockedIDs); err != nil {
			return err
		}

		outcome = RewardOutcome{
			Purchase:      purchase,
			NewlyUnlocked: newlyUnlocked,
			BonusMinutes:  bonusMinutes,
			NewLevel:      newLevel,
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationReward,
		UserID:     userID,
		PurchaseID: purchaseID,
		Minutes:    outcome.BonusMinutes,
		Error:      operationError,
	})
	if operationError != nil {
		return RewardOutcome{}, operationError
	}
	return outcome, nil
}

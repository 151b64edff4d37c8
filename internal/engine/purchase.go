package engine

import (
	"context"
	"math"
)

// BeginPurchase opens a PENDING purchase for a product at the current
// discounted price. The purchase completes later, either through the payment
// webhook or the direct-buy path, both funnelled through
// ProcessPurchaseRewards.
func (service *Service) BeginPurchase(ctx context.Context, userID string, productID string, discountPercent float64) (Purchase, error) {
	var purchase Purchase
	operationError := func() error {
		if discountPercent < 0 || discountPercent >= 100 {
			return ErrInvalidAmount
		}
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			product, err := txStore.ProductByID(ctx, productID)
			if err != nil {
				return err
			}
			// Withdrawn products stay resolvable by ID; don't sell them.
			if !product.Active {
				return ErrProductNotFound
			}
			if _, err := txStore.UserByID(ctx, userID); err != nil {
				return err
			}
			amountCents := int64(math.Round(float64(product.PriceCents) * (1 - discountPercent/100)))
			purchase = Purchase{
				UserID:      userID,
				ProductID:   productID,
				AmountCents: amountCents,
				Status:      PurchasePending,
			}
			return txStore.CreatePurchase(ctx, &purchase)
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:  operationBeginPurchase,
		UserID:     userID,
		PurchaseID: purchase.ID,
		Error:      operationError,
	})
	if operationError != nil {
		return Purchase{}, operationError
	}
	return purchase, nil
}

// AttachPaymentReference records the provider reference on a pending
// purchase so a later notification can be mapped back to it.
func (service *Service) AttachPaymentReference(ctx context.Context, purchaseID string, externalRef string) error {
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if _, err := txStore.PurchaseByIDForUpdate(ctx, purchaseID); err != nil {
			return err
		}
		return txStore.SetPurchaseExternalRef(ctx, purchaseID, externalRef)
	})
}

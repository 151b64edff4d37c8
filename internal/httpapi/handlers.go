package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lanpoint/gamecenter/internal/engine"
	"github.com/lanpoint/gamecenter/internal/payment"
	"github.com/lanpoint/gamecenter/internal/store/gormstore"
)

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id": claims.GetUserID(),
		"email":   claims.GetUserEmail(),
		"display": claims.GetUserDisplayName(),
		"roles":   claims.GetUserRoles(),
		"expires": claims.GetExpiresAt().Unix(),
	})
}

func (handler *httpHandler) handleBootstrap(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	user, err := handler.engine.Bootstrap(ctx.Request.Context(), claims.GetUserID(), claims.GetUserEmail(), claims.GetUserDisplayName())
	if err != nil {
		handler.respondError(ctx, err, "bootstrap failed")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user": userPayloadFrom(user)})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	balance, err := handler.engine.Balance(ctx.Request.Context(), claims.GetUserID())
	if err != nil {
		handler.respondError(ctx, err, "wallet unavailable")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": gin.H{
		"minutes": balance.Minutes,
		"hours":   balance.Hours(),
	}})
}

func (handler *httpHandler) handleProducts(ctx *gin.Context) {
	products, err := handler.catalog.ActiveProducts(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err, "catalog unavailable")
		return
	}
	payload := make([]gin.H, 0, len(products))
	for _, product := range products {
		payload = append(payload, productPayloadFrom(product))
	}
	ctx.JSON(http.StatusOK, gin.H{"products": payload})
}

func (handler *httpHandler) handleAchievements(ctx *gin.Context) {
	achievements, err := handler.catalog.Achievements(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err, "catalog unavailable")
		return
	}
	payload := make([]gin.H, 0, len(achievements))
	for _, achievement := range achievements {
		payload = append(payload, gin.H{
			"id":              achievement.ID,
			"name":            achievement.Name,
			"milestone_hours": achievement.MilestoneHours,
			"reward_hours":    achievement.RewardHours,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"achievements": payload})
}

// handleListPCs omits the connection link; customers receive it by email
// shortly before their session starts.
func (handler *httpHandler) handleListPCs(ctx *gin.Context) {
	pcs, err := handler.catalog.PCs(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err, "catalog unavailable")
		return
	}
	payload := make([]gin.H, 0, len(pcs))
	for _, pc := range pcs {
		payload = append(payload, gin.H{
			"id":     pc.ID,
			"name":   pc.Name,
			"status": pc.Status,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"pcs": payload})
}

func (handler *httpHandler) handleListGames(ctx *gin.Context) {
	games, err := handler.catalog.Games(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err, "catalog unavailable")
		return
	}
	payload := make([]gin.H, 0, len(games))
	for _, game := range games {
		if !game.Active {
			continue
		}
		payload = append(payload, gin.H{
			"id":         game.ID,
			"name":       game.Name,
			"max_copies": game.MaxCopies,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"games": payload})
}

func (handler *httpHandler) handleAvailability(ctx *gin.Context) {
	window, ok := parseWindowQuery(ctx)
	if !ok {
		return
	}
	pcID, err := handler.engine.FindAssignment(ctx.Request.Context(), window, ctx.Query("game_id"))
	if err != nil {
		if errors.Is(err, engine.ErrNoPCAvailable) || errors.Is(err, engine.ErrGameCapacityExhausted) {
			ctx.JSON(http.StatusOK, gin.H{"available": false, "reason": errorCodeFor(err)})
			return
		}
		handler.respondError(ctx, err, "availability check failed")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"available": true, "pc_id": pcID})
}

type bookingRequest struct {
	Start  time.Time `json:"start" binding:"required"`
	End    time.Time `json:"end" binding:"required"`
	GameID string    `json:"game_id"`
}

func (handler *httpHandler) handleCreateBooking(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request bookingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected start and end timestamps"))
		return
	}
	reservation, err := handler.engine.Book(ctx.Request.Context(), claims.GetUserID(), engine.Window{Start: request.Start, End: request.End}, request.GameID)
	if err != nil {
		handler.respondError(ctx, err, "booking failed")
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"reservation": reservationPayloadFrom(reservation)})
}

func (handler *httpHandler) handleCancelBooking(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if err := handler.engine.Cancel(ctx.Request.Context(), ctx.Param("id"), claims.GetUserID()); err != nil {
		handler.respondError(ctx, err, "cancel failed")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (handler *httpHandler) handleListBookings(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	reservations, err := handler.engine.ReservationsForUser(ctx.Request.Context(), claims.GetUserID())
	if err != nil {
		handler.respondError(ctx, err, "bookings unavailable")
		return
	}
	payload := make([]gin.H, 0, len(reservations))
	for _, reservation := range reservations {
		payload = append(payload, reservationPayloadFrom(reservation))
	}
	ctx.JSON(http.StatusOK, gin.H{"reservations": payload})
}

type purchaseRequest struct {
	ProductID string `json:"product_id" binding:"required"`
}

// handleCreatePurchase opens a pending purchase and a checkout session at
// the payment provider. Without a provider the purchase completes
// immediately (local development).
func (handler *httpHandler) handleCreatePurchase(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected product_id"))
		return
	}
	requestCtx := ctx.Request.Context()

	if handler.provider == nil {
		outcome, err := handler.engine.ProcessPurchaseRewards(requestCtx, claims.GetUserID(), request.ProductID, "")
		if err != nil {
			handler.respondError(ctx, err, "purchase failed")
			return
		}
		ctx.JSON(http.StatusCreated, gin.H{"purchase": purchasePayloadFrom(outcome.Purchase), "outcome": outcomePayloadFrom(outcome)})
		return
	}

	discount, err := handler.currentDiscount(ctx)
	if err != nil {
		handler.respondError(ctx, err, "purchase failed")
		return
	}
	purchase, err := handler.engine.BeginPurchase(requestCtx, claims.GetUserID(), request.ProductID, discount)
	if err != nil {
		handler.respondError(ctx, err, "purchase failed")
		return
	}
	product, err := handler.productByID(ctx, request.ProductID)
	if err != nil {
		handler.respondError(ctx, err, "purchase failed")
		return
	}
	preference, err := handler.provider.CreatePreference(requestCtx, purchase, product)
	if err != nil {
		handler.logger.Error("payment preference failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("payment_error", "checkout unavailable"))
		return
	}
	if err := handler.engine.AttachPaymentReference(requestCtx, purchase.ID, preference.ExternalRef); err != nil {
		handler.respondError(ctx, err, "purchase failed")
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"purchase":     purchasePayloadFrom(purchase),
		"checkout_url": preference.CheckoutURL,
	})
}

// handleDirectPurchase completes a purchase without a checkout session.
// Only available when no payment provider is configured.
func (handler *httpHandler) handleDirectPurchase(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if handler.provider != nil {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "direct purchases disabled"))
		return
	}
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected product_id"))
		return
	}
	outcome, err := handler.engine.ProcessPurchaseRewards(ctx.Request.Context(), claims.GetUserID(), request.ProductID, "")
	if err != nil {
		handler.respondError(ctx, err, "purchase failed")
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"purchase": purchasePayloadFrom(outcome.Purchase), "outcome": outcomePayloadFrom(outcome)})
}

func (handler *httpHandler) handleListPurchases(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	purchases, err := handler.engine.PurchasesForUser(ctx.Request.Context(), claims.GetUserID())
	if err != nil {
		handler.respondError(ctx, err, "purchases unavailable")
		return
	}
	payload := make([]gin.H, 0, len(purchases))
	for _, purchase := range purchases {
		payload = append(payload, purchasePayloadFrom(purchase))
	}
	ctx.JSON(http.StatusOK, gin.H{"purchases": payload})
}

// handlePaymentWebhook acknowledges a notification only after the reward
// transaction commits; a failure returns 5xx so the provider retries. The
// completed-purchase fence makes those retries harmless.
func (handler *httpHandler) handlePaymentWebhook(ctx *gin.Context) {
	if handler.provider == nil {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "payments disabled"))
		return
	}
	notification, err := handler.provider.ParseNotification(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "unreadable notification"))
		return
	}
	if !notification.Approved() {
		ctx.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	requestCtx := ctx.Request.Context()
	purchase, err := handler.engine.PurchaseByReference(requestCtx, notification.ExternalRef)
	if err != nil {
		if errors.Is(err, engine.ErrPurchaseNotFound) {
			// Not ours; ack so the provider stops retrying.
			ctx.JSON(http.StatusOK, gin.H{"status": "unknown_reference"})
			return
		}
		handler.logger.Error("webhook purchase lookup failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "lookup failed"))
		return
	}
	outcome, err := handler.engine.ProcessPurchaseRewards(requestCtx, purchase.UserID, purchase.ProductID, purchase.ID)
	if err != nil {
		handler.logger.Error("webhook reward processing failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "processing failed"))
		return
	}
	if outcome.AlreadyCompleted {
		ctx.JSON(http.StatusOK, gin.H{"status": "already_processed"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "processed", "outcome": outcomePayloadFrom(outcome)})
}

type passwordResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// handlePasswordReset always answers 202 so the endpoint does not leak
// which emails have accounts.
func (handler *httpHandler) handlePasswordReset(ctx *gin.Context) {
	if handler.resetFlow == nil {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "password reset disabled"))
		return
	}
	var request passwordResetRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected email"))
		return
	}
	token, user, err := handler.resetFlow.Begin(ctx.Request.Context(), request.Email)
	if err != nil {
		if !errors.Is(err, engine.ErrUserNotFound) {
			handler.logger.Error("password reset begin failed", zap.Error(err))
		}
		ctx.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		return
	}
	if handler.resetMailer != nil {
		_ = handler.resetMailer.PasswordReset(ctx.Request.Context(), user.Email, token)
	}
	ctx.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type passwordResetConfirmRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func (handler *httpHandler) handlePasswordResetConfirm(ctx *gin.Context) {
	if handler.resetFlow == nil {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "password reset disabled"))
		return
	}
	var request passwordResetConfirmRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected token and new_password"))
		return
	}
	if err := handler.resetFlow.Confirm(ctx.Request.Context(), request.Token, request.NewPassword); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_token", "token invalid, expired or already used"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "password_updated"})
}

func (handler *httpHandler) handleDispatchLinks(ctx *gin.Context) {
	dispatched, err := handler.engine.DispatchPendingLinks(ctx.Request.Context(), handler.cfg.LinkLookahead)
	if err != nil {
		handler.respondError(ctx, err, "dispatch failed")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"dispatched": dispatched})
}

func (handler *httpHandler) currentDiscount(ctx *gin.Context) (float64, error) {
	raw, err := handler.catalog.SettingValue(ctx.Request.Context(), gormstore.SettingGeneralDiscount, "0")
	if err != nil {
		return 0, err
	}
	discount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, nil
	}
	return discount, nil
}

func (handler *httpHandler) productByID(ctx *gin.Context, productID string) (engine.Product, error) {
	products, err := handler.catalog.Products(ctx.Request.Context())
	if err != nil {
		return engine.Product{}, err
	}
	for _, product := range products {
		if product.ID == productID {
			return product, nil
		}
	}
	return engine.Product{}, engine.ErrProductNotFound
}

func parseWindowQuery(ctx *gin.Context) (engine.Window, bool) {
	start, startErr := time.Parse(time.RFC3339, ctx.Query("start"))
	end, endErr := time.Parse(time.RFC3339, ctx.Query("end"))
	if startErr != nil || endErr != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_window", "start and end must be RFC3339 timestamps"))
		return engine.Window{}, false
	}
	return engine.Window{Start: start, End: end}, true
}

// respondError maps domain sentinels onto HTTP statuses; anything
// unmapped is a 500 with the message hidden.
func (handler *httpHandler) respondError(ctx *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, engine.ErrUserNotFound),
		errors.Is(err, engine.ErrProductNotFound),
		errors.Is(err, engine.ErrGameNotFound),
		errors.Is(err, engine.ErrPCNotFound),
		errors.Is(err, engine.ErrReservationNotFound),
		errors.Is(err, engine.ErrPurchaseNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse(errorCodeFor(err), err.Error()))
	case errors.Is(err, engine.ErrInvalidWindow),
		errors.Is(err, engine.ErrInvalidDuration),
		errors.Is(err, engine.ErrInvalidAmount):
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeFor(err), err.Error()))
	case errors.Is(err, engine.ErrInsufficientBalance):
		ctx.JSON(http.StatusPaymentRequired, errorResponse("insufficient_balance", err.Error()))
	case errors.Is(err, engine.ErrNoPCAvailable),
		errors.Is(err, engine.ErrGameCapacityExhausted),
		errors.Is(err, engine.ErrAlreadyExists):
		ctx.JSON(http.StatusConflict, errorResponse(errorCodeFor(err), err.Error()))
	case errors.Is(err, engine.ErrForbidden):
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", err.Error()))
	case errors.Is(err, payment.ErrInvalidNotification):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", err.Error()))
	default:
		handler.logger.Error(message, zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", message))
	}
}

func errorCodeFor(err error) string {
	switch {
	case errors.Is(err, engine.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, engine.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, engine.ErrGameNotFound):
		return "game_not_found"
	case errors.Is(err, engine.ErrPCNotFound):
		return "pc_not_found"
	case errors.Is(err, engine.ErrReservationNotFound):
		return "reservation_not_found"
	case errors.Is(err, engine.ErrPurchaseNotFound):
		return "purchase_not_found"
	case errors.Is(err, engine.ErrInvalidWindow):
		return "invalid_window"
	case errors.Is(err, engine.ErrInvalidDuration):
		return "invalid_duration"
	case errors.Is(err, engine.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, engine.ErrNoPCAvailable):
		return "no_pc_available"
	case errors.Is(err, engine.ErrGameCapacityExhausted):
		return "game_unavailable"
	case errors.Is(err, engine.ErrAlreadyExists):
		return "already_exists"
	default:
		return "internal"
	}
}

func userPayloadFrom(user engine.User) gin.H {
	return gin.H{
		"id":                    user.ID,
		"email":                 user.Email,
		"display_name":          user.DisplayName,
		"role":                  user.Role,
		"minutes":               user.Minutes,
		"total_hours_purchased": user.TotalHoursPurchased,
		"level":                 user.Level,
		"achievements_unlocked": user.AchievementsUnlocked,
	}
}

func productPayloadFrom(product engine.Product) gin.H {
	return gin.H{
		"id":          product.ID,
		"name":        product.Name,
		"price_cents": product.PriceCents,
		"minutes":     product.Minutes,
		"type":        product.Type,
		"active":      product.Active,
		"popular":     product.Popular,
	}
}

func reservationPayloadFrom(reservation engine.Reservation) gin.H {
	payload := gin.H{
		"id":         reservation.ID,
		"user_id":    reservation.UserID,
		"pc_id":      reservation.PCID,
		"start_time": reservation.StartTime,
		"end_time":   reservation.EndTime,
		"status":     reservation.Status,
		"link_sent":  reservation.LinkSent,
		"created_at": reservation.CreatedAt,
	}
	if reservation.GameID != "" {
		payload["game_id"] = reservation.GameID
	}
	return payload
}

func purchasePayloadFrom(purchase engine.Purchase) gin.H {
	return gin.H{
		"id":           purchase.ID,
		"user_id":      purchase.UserID,
		"product_id":   purchase.ProductID,
		"amount_cents": purchase.AmountCents,
		"status":       purchase.Status,
		"external_ref": purchase.ExternalRef,
		"created_at":   purchase.CreatedAt,
	}
}

func outcomePayloadFrom(outcome engine.RewardOutcome) gin.H {
	unlocked := make([]gin.H, 0, len(outcome.NewlyUnlocked))
	for _, achievement := range outcome.NewlyUnlocked {
		unlocked = append(unlocked, gin.H{
			"id":           achievement.ID,
			"name":         achievement.Name,
			"reward_hours": achievement.RewardHours,
		})
	}
	return gin.H{
		"bonus_minutes":     outcome.BonusMinutes,
		"new_level":         outcome.NewLevel,
		"newly_unlocked":    unlocked,
		"already_completed": outcome.AlreadyCompleted,
	}
}

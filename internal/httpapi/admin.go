package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lanpoint/gamecenter/internal/engine"
	"github.com/lanpoint/gamecenter/internal/store/gormstore"
)

func (handler *httpHandler) handleAdminListProducts(ctx *gin.Context) {
	products, err := handler.catalog.Products(ctx.Request.Context())
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

type productRequest struct {
	Name       string `json:"name" binding:"required"`
	PriceCents int64  `json:"price_cents" binding:"required,gt=0"`
	Minutes    int64  `json:"minutes" binding:"required,gt=0"`
	Type       string `json:"type"`
	Active     bool   `json:"active"`
	Popular    bool   `json:"popular"`
}

func (handler *httpHandler) handleAdminCreateProduct(ctx *gin.Context) {
	var request productRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected name, price_cents and minutes"))
		return
	}
	product := engine.Product{
		Name:       request.Name,
		PriceCents: request.PriceCents,
		Minutes:    request.Minutes,
		Type:       request.Type,
		Active:     request.Active,
		Popular:    request.Popular,
	}
	if err := handler.catalog.CreateProduct(ctx.Request.Context(), &product); err != nil {
		handler.respondError(ctx, err, "product create failed")
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"product": productPayloadFrom(product)})
}

func (handler *httpHandler) handleAdminUpdateProduct(ctx *gin.Context) {
	var request productRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected name, price_cents and minutes"))
		return
	}
	product := engine.Product{
		ID:         ctx.Param("id"),
		Name:       request.Name,
		PriceCents: request.PriceCents,
		Minutes:    request.Minutes,
		Type:       request.Type,
		Active:     request.Active,
		Popular:    request.Popular,
	}
	if err := handler.catalog.UpdateProduct(ctx.Request.Context(), product); err != nil {
		handler.respondError(ctx, err, "product update failed")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"product": productPayloadFrom(product)})
}

func (handler *httpHandler) handleAdminListAchievements(ctx *gin.Context) {
	handler.handleAchievements(ctx)
}

type achievementRequest struct {
	Name           string `json:"name" binding:"required"`
	MilestoneHours int64  `json:"milestone_hours" binding:"required,gt=0"`
	RewardHours    int64  `json:"reward_hours" binding:"required,gt=0"`
}

func (handler *httpHandler) handleAdminCreateAchievement(ctx *gin.Context) {
	var request achievementRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected name, milestone_hours and reward_hours"))
		return
	}
	achievement := engine.Achievement{
		Name:           request.Name,
		MilestoneHours: request.MilestoneHours,
		RewardHours:    request.RewardHours,
	}
	if err := handler.catalog.CreateAchievement(ctx.Request.Context(), &achievement); err != nil {
		handler.respondError(ctx, err, "achievement create failed")
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"achievement": gin.H{
		"id":              achievement.ID,
		"name":            achievement.Name,
		"milestone_hours": achievement.MilestoneHours,
		"reward_hours":    achievement.RewardHours,
	}})
}

func (handler *httpHandler) handleAdminListPCs(ctx *gin.Context) {
	pcs, err := handler.catalog.PCs(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err, "pcs unavailable")
		return
	}
	payload := make([]gin.H, 0, len(pcs))
	for _, pc := range pcs {
		payload = append(payload, pcPayloadFrom(pc))
	}
	ctx.JSON(http.StatusOK, gin.H{"pcs": payload})
}

type pcRequest struct {
	Name           string `json:"name" binding:"required"`
	Status         string `json:"status"`
	ConnectionLink string `json:"connection_link"`
}

func (handler *httpHandler) handleAdminCreatePC(ctx *gin.Context) {
	var request pcRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected name"))
		return
	}
	status := engine.PCStatus(request.Status)
	if request.Status == "" {
		status = engine.PCAvailable
	}
	pc := engine.PC{
		Name:           request.Name,
		Status:         status,
		ConnectionLink: request.ConnectionLink,
	}
	if err := handler.catalog.CreatePC(ctx.Request.Context(), &pc); err != nil {
		handler.respondError(ctx, err, "pc create failed")
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"pc": pcPayloadFrom(pc)})
}

func (handler *httpHandler) handleAdminUpdatePC(ctx *gin.Context) {
	var request pcRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected name"))
		return
	}
	status := engine.PCStatus(request.Status)
	if request.Status == "" {
		status = engine.PCAvailable
	}
	pc := engine.PC{
		ID:             ctx.Param("id"),
		Name:           request.Name,
		Status:         status,
		ConnectionLink: request.ConnectionLink,
	}
	if err := handler.catalog.UpdatePC(ctx.Request.Context(), pc); err != nil {
		handler.respondError(ctx, err, "pc update failed")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"pc": pcPayloadFrom(pc)})
}

func (handler *httpHandler) handleAdminListGames(ctx *gin.Context) {
	games, err := handler.catalog.Games(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err, "games unavailable")
		return
	}
	payload := make([]gin.H, 0, len(games))
	for _, game := range games {
		payload = append(payload, gamePayloadFrom(game))
	}
	ctx.JSON(http.StatusOK, gin.H{"games": payload})
}

type gameRequest struct {
	Name      string `json:"name" binding:"required"`
	MaxCopies int    `json:"max_copies" binding:"required,gt=0"`
	Active    bool   `json:"active"`
}

func (handler *httpHandler) handleAdminCreateGame(ctx *gin.Context) {
	var request gameRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected name and max_copies"))
		return
	}
	game := engine.SharedGame{
		Name:      request.Name,
		MaxCopies: request.MaxCopies,
		Active:    request.Active,
	}
	if err := handler.catalog.CreateGame(ctx.Request.Context(), &game); err != nil {
		handler.respondError(ctx, err, "game create failed")
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"game": gamePayloadFrom(game)})
}

func (handler *httpHandler) handleAdminUpdateGame(ctx *gin.Context) {
	var request gameRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected name and max_copies"))
		return
	}
	game := engine.SharedGame{
		ID:        ctx.Param("id"),
		Name:      request.Name,
		MaxCopies: request.MaxCopies,
		Active:    request.Active,
	}
	if err := handler.catalog.UpdateGame(ctx.Request.Context(), game); err != nil {
		handler.respondError(ctx, err, "game update failed")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"game": gamePayloadFrom(game)})
}

func (handler *httpHandler) handleAdminListUsers(ctx *gin.Context) {
	users, err := handler.catalog.Users(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err, "users unavailable")
		return
	}
	payload := make([]gin.H, 0, len(users))
	for _, user := range users {
		payload = append(payload, userPayloadFrom(user))
	}
	ctx.JSON(http.StatusOK, gin.H{"users": payload})
}

func (handler *httpHandler) handleAdminListReservations(ctx *gin.Context) {
	reservations, err := handler.catalog.Reservations(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err, "reservations unavailable")
		return
	}
	payload := make([]gin.H, 0, len(reservations))
	for _, reservation := range reservations {
		payload = append(payload, reservationPayloadFrom(reservation))
	}
	ctx.JSON(http.StatusOK, gin.H{"reservations": payload})
}

func (handler *httpHandler) handleAdminGetDiscount(ctx *gin.Context) {
	raw, err := handler.catalog.SettingValue(ctx.Request.Context(), gormstore.SettingGeneralDiscount, "0")
	if err != nil {
		handler.respondError(ctx, err, "settings unavailable")
		return
	}
	discount, _ := strconv.ParseFloat(raw, 64)
	ctx.JSON(http.StatusOK, gin.H{"discount_percent": discount})
}

type discountRequest struct {
	DiscountPercent float64 `json:"discount_percent"`
}

func (handler *httpHandler) handleAdminSetDiscount(ctx *gin.Context) {
	var request discountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected discount_percent"))
		return
	}
	if request.DiscountPercent < 0 || request.DiscountPercent >= 100 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "discount must be in [0, 100)"))
		return
	}
	value := strconv.FormatFloat(request.DiscountPercent, 'f', -1, 64)
	if err := handler.catalog.SetSetting(ctx.Request.Context(), gormstore.SettingGeneralDiscount, value); err != nil {
		handler.respondError(ctx, err, "settings update failed")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"discount_percent": request.DiscountPercent})
}

type balanceAdjustmentRequest struct {
	Minutes int64 `json:"minutes" binding:"required,gt=0"`
}

func (handler *httpHandler) handleAdminCredit(ctx *gin.Context) {
	var request balanceAdjustmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected positive minutes"))
		return
	}
	userID := ctx.Param("id")
	if err := handler.engine.Credit(ctx.Request.Context(), userID, request.Minutes); err != nil {
		handler.respondError(ctx, err, "credit failed")
		return
	}
	handler.respondAdminBalance(ctx, userID)
}

func (handler *httpHandler) handleAdminDebit(ctx *gin.Context) {
	var request balanceAdjustmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected positive minutes"))
		return
	}
	userID := ctx.Param("id")
	if err := handler.engine.Debit(ctx.Request.Context(), userID, request.Minutes); err != nil {
		handler.respondError(ctx, err, "debit failed")
		return
	}
	handler.respondAdminBalance(ctx, userID)
}

func (handler *httpHandler) respondAdminBalance(ctx *gin.Context, userID string) {
	balance, err := handler.engine.Balance(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, err, "wallet unavailable")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user_id": userID, "minutes": balance.Minutes})
}

func pcPayloadFrom(pc engine.PC) gin.H {
	return gin.H{
		"id":              pc.ID,
		"name":            pc.Name,
		"status":          pc.Status,
		"connection_link": pc.ConnectionLink,
	}
}

func gamePayloadFrom(game engine.SharedGame) gin.H {
	return gin.H{
		"id":         game.ID,
		"name":       game.Name,
		"max_copies": game.MaxCopies,
		"active":     game.Active,
	}
}

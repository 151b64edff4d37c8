// Package httpapi exposes the booking, wallet and store operations over
// HTTP. Sessions are issued by the external tauth service; this API only
// validates them.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/lanpoint/gamecenter/internal/engine"
	"github.com/lanpoint/gamecenter/internal/payment"
)

const claimsContextKey = "auth_claims"

// Engine is the slice of the domain service the handlers use.
type Engine interface {
	Bootstrap(ctx context.Context, userID string, email string, displayName string) (engine.User, error)
	Balance(ctx context.Context, userID string) (engine.Balance, error)
	Credit(ctx context.Context, userID string, minutes int64) error
	Debit(ctx context.Context, userID string, minutes int64) error
	Book(ctx context.Context, userID string, window engine.Window, gameID string) (engine.Reservation, error)
	Cancel(ctx context.Context, reservationID string, requestingUserID string) error
	FindAssignment(ctx context.Context, window engine.Window, gameID string) (string, error)
	BeginPurchase(ctx context.Context, userID string, productID string, discountPercent float64) (engine.Purchase, error)
	AttachPaymentReference(ctx context.Context, purchaseID string, externalRef string) error
	ProcessPurchaseRewards(ctx context.Context, userID string, productID string, purchaseID string) (engine.RewardOutcome, error)
	PurchaseByReference(ctx context.Context, externalRef string) (engine.Purchase, error)
	ReservationsForUser(ctx context.Context, userID string) ([]engine.Reservation, error)
	PurchasesForUser(ctx context.Context, userID string) ([]engine.Purchase, error)
	DispatchPendingLinks(ctx context.Context, lookahead time.Duration) (int, error)
}

// Catalog is the store surface behind the read and admin endpoints.
type Catalog interface {
	ActiveProducts(ctx context.Context) ([]engine.Product, error)
	Products(ctx context.Context) ([]engine.Product, error)
	CreateProduct(ctx context.Context, product *engine.Product) error
	UpdateProduct(ctx context.Context, product engine.Product) error
	Achievements(ctx context.Context) ([]engine.Achievement, error)
	CreateAchievement(ctx context.Context, achievement *engine.Achievement) error
	PCs(ctx context.Context) ([]engine.PC, error)
	CreatePC(ctx context.Context, pc *engine.PC) error
	UpdatePC(ctx context.Context, pc engine.PC) error
	Games(ctx context.Context) ([]engine.SharedGame, error)
	CreateGame(ctx context.Context, game *engine.SharedGame) error
	UpdateGame(ctx context.Context, game engine.SharedGame) error
	Users(ctx context.Context) ([]engine.User, error)
	Reservations(ctx context.Context) ([]engine.Reservation, error)
	SettingValue(ctx context.Context, key string, fallback string) (string, error)
	SetSetting(ctx context.Context, key string, value string) error
}

// PasswordResetFlow issues and redeems reset tokens.
type PasswordResetFlow interface {
	Begin(ctx context.Context, email string) (string, engine.User, error)
	Confirm(ctx context.Context, token string, newPassword string) error
}

// ResetMailer delivers the reset token to the account owner.
type ResetMailer interface {
	PasswordReset(ctx context.Context, email string, token string) error
}

// Deps bundles the handler collaborators.
type Deps struct {
	Engine      Engine
	Catalog     Catalog
	Provider    payment.Provider
	ResetFlow   PasswordResetFlow
	ResetMailer ResetMailer
	Logger      *zap.Logger
}

// Run boots the HTTP API and blocks until ctx is cancelled or the listener
// fails.
func Run(ctx context.Context, cfg Config, deps Deps) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return err
	}

	handler := &httpHandler{
		logger:      logger,
		engine:      deps.Engine,
		catalog:     deps.Catalog,
		provider:    deps.Provider,
		resetFlow:   deps.ResetFlow,
		resetMailer: deps.ResetMailer,
		cfg:         cfg,
	}
	router := setupRouter(cfg, handler, sessionValidator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/webhooks/payment", handler.handlePaymentWebhook)

	auth := router.Group("/auth")
	auth.POST("/password-reset", handler.handlePasswordReset)
	auth.POST("/password-reset/confirm", handler.handlePasswordResetConfirm)

	internal := router.Group("/internal")
	internal.Use(handler.requireInternalToken)
	internal.POST("/dispatch-links", handler.handleDispatchLinks)

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/session", handler.handleSession)
	api.POST("/bootstrap", handler.handleBootstrap)
	api.GET("/wallet", handler.handleWallet)
	api.GET("/products", handler.handleProducts)
	api.GET("/achievements", handler.handleAchievements)
	api.GET("/pcs", handler.handleListPCs)
	api.GET("/games", handler.handleListGames)
	api.GET("/availability", handler.handleAvailability)
	api.GET("/bookings", handler.handleListBookings)
	api.POST("/bookings", handler.handleCreateBooking)
	api.POST("/bookings/:id/cancel", handler.handleCancelBooking)
	api.GET("/purchases", handler.handleListPurchases)
	api.POST("/purchases", handler.handleCreatePurchase)
	api.POST("/purchases/direct", handler.handleDirectPurchase)

	admin := api.Group("/admin")
	admin.Use(handler.requireAdmin)
	admin.GET("/products", handler.handleAdminListProducts)
	admin.POST("/products", handler.handleAdminCreateProduct)
	admin.PATCH("/products/:id", handler.handleAdminUpdateProduct)
	admin.GET("/achievements", handler.handleAdminListAchievements)
	admin.POST("/achievements", handler.handleAdminCreateAchievement)
	admin.GET("/pcs", handler.handleAdminListPCs)
	admin.POST("/pcs", handler.handleAdminCreatePC)
	admin.PATCH("/pcs/:id", handler.handleAdminUpdatePC)
	admin.GET("/games", handler.handleAdminListGames)
	admin.POST("/games", handler.handleAdminCreateGame)
	admin.PATCH("/games/:id", handler.handleAdminUpdateGame)
	admin.GET("/users", handler.handleAdminListUsers)
	admin.GET("/reservations", handler.handleAdminListReservations)
	admin.GET("/settings/discount", handler.handleAdminGetDiscount)
	admin.POST("/settings/discount", handler.handleAdminSetDiscount)
	admin.POST("/users/:id/credit", handler.handleAdminCredit)
	admin.POST("/users/:id/debit", handler.handleAdminDebit)

	return router
}

type httpHandler struct {
	logger      *zap.Logger
	engine      Engine
	catalog     Catalog
	provider    payment.Provider
	resetFlow   PasswordResetFlow
	resetMailer ResetMailer
	cfg         Config
}

func (handler *httpHandler) requireInternalToken(ctx *gin.Context) {
	if ctx.GetHeader("X-Internal-Token") != handler.cfg.InternalToken {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "bad internal token"))
		return
	}
	ctx.Next()
}

func (handler *httpHandler) requireAdmin(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	for _, role := range claims.GetUserRoles() {
		if role == string(engine.RoleAdmin) {
			ctx.Next()
			return
		}
	}
	ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

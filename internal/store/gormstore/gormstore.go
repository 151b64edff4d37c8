package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lanpoint/gamecenter/internal/engine"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19

	errorOperationStore     = "store"
	errorSubjectUser        = "user"
	errorSubjectPC          = "pc"
	errorSubjectGame        = "game"
	errorSubjectReservation = "reservation"
	errorSubjectPurchase    = "purchase"
	errorSubjectProduct     = "product"
	errorSubjectAchievement = "achievement"
	errorCodeCreate         = "create"
	errorCodeGet            = "get"
	errorCodeList           = "list"
	errorCodeUpdate         = "update"
	errorCodeDuplicate      = "duplicate"
	errorCodeDebit          = "debit"
)

// Store implements engine.Store using GORM. The same instance also serves
// the catalog/admin surface and the password-reset token store.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore engine.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// forUpdate adds a row lock on postgres. SQLite has a single writer and no
// FOR UPDATE grammar, so the clause is postgres-only.
func (store *Store) forUpdate(db *gorm.DB) *gorm.DB {
	if store.db.Dialector.Name() == "postgres" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func (store *Store) GetOrCreateUser(ctx context.Context, userID string, email string, displayName string) (engine.User, error) {
	var model User
	err := store.db.WithContext(ctx).
		Where(User{ID: userID}).
		Attrs(User{Email: email, DisplayName: displayName, Role: string(engine.RoleUser)}).
		FirstOrCreate(&model).Error
	if err != nil {
		return engine.User{}, wrapStoreError(errorSubjectUser, errorCodeCreate, err)
	}
	return mapUser(model)
}

func (store *Store) UserByID(ctx context.Context, userID string) (engine.User, error) {
	var model User
	err := store.db.WithContext(ctx).Where("id = ?", userID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, engine.ErrUserNotFound)
		}
		return engine.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	return mapUser(model)
}

func (store *Store) UserByIDForUpdate(ctx context.Context, userID string) (engine.User, error) {
	var model User
	err := store.forUpdate(store.db.WithContext(ctx)).Where("id = ?", userID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, engine.ErrUserNotFound)
		}
		return engine.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	return mapUser(model)
}

func (store *Store) AddUserMinutes(ctx context.Context, userID string, minutes int64) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", userID).
		UpdateColumn("minutes", gorm.Expr("minutes + ?", minutes))
	if result.Error != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, engine.ErrUserNotFound)
	}
	return nil
}

// DebitUserMinutes is a guarded decrement: the WHERE clause keeps the
// balance non-negative no matter which caller races it.
func (store *Store) DebitUserMinutes(ctx context.Context, userID string, minutes int64) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ? AND minutes >= ?", userID, minutes).
		UpdateColumn("minutes", gorm.Expr("minutes - ?", minutes))
	if result.Error != nil {
		return wrapStoreError(errorSubjectUser, errorCodeDebit, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeDebit, engine.ErrInsufficientBalance)
	}
	return nil
}

func (store *Store) UpdateUserProgress(ctx context.Context, userID string, totalHours int64, level int64, unlocked []string) error {
	raw, err := json.Marshal(unlocked)
	if err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, err)
	}
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"total_hours_purchased": totalHours,
			"level":                 level,
			"achievements_unlocked": raw,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, engine.ErrUserNotFound)
	}
	return nil
}

func (store *Store) AvailablePCs(ctx context.Context) ([]engine.PC, error) {
	var models []PC
	err := store.db.WithContext(ctx).
		Where("status = ?", string(engine.PCAvailable)).
		Order("name ASC").
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPC, errorCodeList, err)
	}
	pcs := make([]engine.PC, 0, len(models))
	for _, model := range models {
		pcs = append(pcs, mapPC(model))
	}
	return pcs, nil
}

// AvailablePCsForUpdate locks the available PC rows so concurrent booking
// transactions queue on the pool. On postgres a second booker blocks here
// until the first commits; its overlap reads then see the committed
// reservation. SQLite serializes whole write transactions, so the clause is
// not needed there.
func (store *Store) AvailablePCsForUpdate(ctx context.Context) ([]engine.PC, error) {
	var models []PC
	err := store.forUpdate(store.db.WithContext(ctx)).
		Where("status = ?", string(engine.PCAvailable)).
		Order("name ASC").
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPC, errorCodeList, err)
	}
	pcs := make([]engine.PC, 0, len(models))
	for _, model := range models {
		pcs = append(pcs, mapPC(model))
	}
	return pcs, nil
}

func (store *Store) PCByID(ctx context.Context, pcID string) (engine.PC, error) {
	var model PC
	err := store.db.WithContext(ctx).Where("id = ?", pcID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.PC{}, wrapStoreError(errorSubjectPC, errorCodeGet, engine.ErrPCNotFound)
		}
		return engine.PC{}, wrapStoreError(errorSubjectPC, errorCodeGet, err)
	}
	return mapPC(model), nil
}

func (store *Store) OccupiedPCIDs(ctx context.Context, window engine.Window) (map[string]struct{}, error) {
	var pcIDs []string
	err := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Distinct("pc_id").
		Where("status = ?", string(engine.ReservationConfirmed)).
		Where("start_time < ? AND end_time > ?", window.End.UTC(), window.Start.UTC()).
		Pluck("pc_id", &pcIDs).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	occupied := make(map[string]struct{}, len(pcIDs))
	for _, pcID := range pcIDs {
		occupied[pcID] = struct{}{}
	}
	return occupied, nil
}

func (store *Store) GameByID(ctx context.Context, gameID string) (engine.SharedGame, error) {
	var model SharedGame
	err := store.db.WithContext(ctx).Where("id = ?", gameID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.SharedGame{}, wrapStoreError(errorSubjectGame, errorCodeGet, engine.ErrGameNotFound)
		}
		return engine.SharedGame{}, wrapStoreError(errorSubjectGame, errorCodeGet, err)
	}
	return mapGame(model), nil
}

// GameByIDForUpdate locks the game row; concurrent bookings of the same
// game serialize on it before counting overlapping copies.
func (store *Store) GameByIDForUpdate(ctx context.Context, gameID string) (engine.SharedGame, error) {
	var model SharedGame
	err := store.forUpdate(store.db.WithContext(ctx)).Where("id = ?", gameID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.SharedGame{}, wrapStoreError(errorSubjectGame, errorCodeGet, engine.ErrGameNotFound)
		}
		return engine.SharedGame{}, wrapStoreError(errorSubjectGame, errorCodeGet, err)
	}
	return mapGame(model), nil
}

func (store *Store) CountGameOverlaps(ctx context.Context, gameID string, window engine.Window) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("game_id = ? AND status = ?", gameID, string(engine.ReservationConfirmed)).
		Where("start_time < ? AND end_time > ?", window.End.UTC(), window.Start.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return count, nil
}

func (store *Store) CreateReservation(ctx context.Context, reservation *engine.Reservation) error {
	model := Reservation{
		ID:        reservation.ID,
		UserID:    reservation.UserID,
		PCID:      reservation.PCID,
		StartTime: reservation.StartTime.UTC(),
		EndTime:   reservation.EndTime.UTC(),
		Status:    string(reservation.Status),
		LinkSent:  reservation.LinkSent,
	}
	if reservation.GameID != "" {
		gameID := reservation.GameID
		model.GameID = &gameID
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeCreate, err)
	}
	reservation.ID = model.ID
	reservation.CreatedAt = model.CreatedAt
	return nil
}

func (store *Store) ReservationByID(ctx context.Context, reservationID string) (engine.Reservation, error) {
	var model Reservation
	err := store.forUpdate(store.db.WithContext(ctx)).Where("id = ?", reservationID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, engine.ErrReservationNotFound)
		}
		return engine.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, err)
	}
	return mapReservation(model), nil
}

func (store *Store) UpdateReservationStatus(ctx context.Context, reservationID string, from engine.ReservationStatus, to engine.ReservationStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("id = ? AND status = ?", reservationID, string(from)).
		Update("status", string(to))
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, engine.ErrReservationNotFound)
	}
	return nil
}

func (store *Store) ReservationsForUser(ctx context.Context, userID string) ([]engine.Reservation, error) {
	var models []Reservation
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_time DESC").
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	reservations := make([]engine.Reservation, 0, len(models))
	for _, model := range models {
		reservations = append(reservations, mapReservation(model))
	}
	return reservations, nil
}

type pendingLinkRow struct {
	Reservation
	UserEmail string
	PCName    string
	Link      string
}

func (store *Store) PendingLinkReservations(ctx context.Context, from time.Time, until time.Time) ([]engine.PendingLink, error) {
	var rows []pendingLinkRow
	err := store.db.WithContext(ctx).
		Table("reservations").
		Select("reservations.*, users.email AS user_email, pcs.name AS pc_name, pcs.connection_link AS link").
		Joins("JOIN users ON users.id = reservations.user_id").
		Joins("JOIN pcs ON pcs.id = reservations.pc_id").
		Where("reservations.status = ? AND reservations.link_sent = ?", string(engine.ReservationConfirmed), false).
		Where("reservations.start_time >= ? AND reservations.start_time < ?", from.UTC(), until.UTC()).
		Where("pcs.connection_link <> ''").
		Order("reservations.start_time ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	pending := make([]engine.PendingLink, 0, len(rows))
	for _, row := range rows {
		pending = append(pending, engine.PendingLink{
			Reservation: mapReservation(row.Reservation),
			UserEmail:   row.UserEmail,
			PCName:      row.PCName,
			Link:        row.Link,
		})
	}
	return pending, nil
}

func (store *Store) MarkLinkSent(ctx context.Context, reservationID string) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("id = ? AND link_sent = ?", reservationID, false).
		Update("link_sent", true)
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectReservation, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (store *Store) ProductByID(ctx context.Context, productID string) (engine.Product, error) {
	var model Product
	err := store.db.WithContext(ctx).Where("id = ?", productID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.Product{}, wrapStoreError(errorSubjectProduct, errorCodeGet, engine.ErrProductNotFound)
		}
		return engine.Product{}, wrapStoreError(errorSubjectProduct, errorCodeGet, err)
	}
	return mapProduct(model), nil
}

func (store *Store) AchievementsByMilestone(ctx context.Context) ([]engine.Achievement, error) {
	var models []Achievement
	err := store.db.WithContext(ctx).Order("milestone_hours ASC").Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAchievement, errorCodeList, err)
	}
	achievements := make([]engine.Achievement, 0, len(models))
	for _, model := range models {
		achievements = append(achievements, mapAchievement(model))
	}
	return achievements, nil
}

func (store *Store) CreatePurchase(ctx context.Context, purchase *engine.Purchase) error {
	model := Purchase{
		ID:          purchase.ID,
		UserID:      purchase.UserID,
		ProductID:   purchase.ProductID,
		AmountCents: purchase.AmountCents,
		Status:      string(purchase.Status),
	}
	if purchase.ExternalRef != "" {
		externalRef := purchase.ExternalRef
		model.ExternalRef = &externalRef
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPurchase, errorCodeDuplicate, engine.ErrAlreadyExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeCreate, err)
	}
	purchase.ID = model.ID
	purchase.CreatedAt = model.CreatedAt
	return nil
}

func (store *Store) PurchaseByID(ctx context.Context, purchaseID string) (engine.Purchase, error) {
	return store.purchaseByID(ctx, purchaseID, false)
}

func (store *Store) PurchaseByIDForUpdate(ctx context.Context, purchaseID string) (engine.Purchase, error) {
	return store.purchaseByID(ctx, purchaseID, true)
}

func (store *Store) purchaseByID(ctx context.Context, purchaseID string, lock bool) (engine.Purchase, error) {
	query := store.db.WithContext(ctx)
	if lock {
		query = store.forUpdate(query)
	}
	var model Purchase
	err := query.Where("id = ?", purchaseID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.Purchase{}, wrapStoreError(errorSubjectPurchase, errorCodeGet, engine.ErrPurchaseNotFound)
		}
		return engine.Purchase{}, wrapStoreError(errorSubjectPurchase, errorCodeGet, err)
	}
	return mapPurchase(model), nil
}

func (store *Store) PurchaseByExternalRef(ctx context.Context, externalRef string) (engine.Purchase, error) {
	var model Purchase
	err := store.db.WithContext(ctx).Where("external_ref = ?", externalRef).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.Purchase{}, wrapStoreError(errorSubjectPurchase, errorCodeGet, engine.ErrPurchaseNotFound)
		}
		return engine.Purchase{}, wrapStoreError(errorSubjectPurchase, errorCodeGet, err)
	}
	return mapPurchase(model), nil
}

func (store *Store) UpdatePurchaseStatus(ctx context.Context, purchaseID string, from engine.PurchaseStatus, to engine.PurchaseStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Purchase{}).
		Where("id = ? AND status = ?", purchaseID, string(from)).
		Update("status", string(to))
	if result.Error != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdate, engine.ErrPurchaseNotFound)
	}
	return nil
}

func (store *Store) SetPurchaseExternalRef(ctx context.Context, purchaseID string, externalRef string) error {
	result := store.db.WithContext(ctx).
		Model(&Purchase{}).
		Where("id = ?", purchaseID).
		Update("external_ref", externalRef)
	if isUniqueViolation(result.Error) {
		return wrapStoreError(errorSubjectPurchase, errorCodeDuplicate, engine.ErrAlreadyExists)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdate, engine.ErrPurchaseNotFound)
	}
	return nil
}

func (store *Store) PurchasesForUser(ctx context.Context, userID string) ([]engine.Purchase, error) {
	var models []Purchase
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
	}
	purchases := make([]engine.Purchase, 0, len(models))
	for _, model := range models {
		purchases = append(purchases, mapPurchase(model))
	}
	return purchases, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return engine.WrapError(errorOperationStore, subject, code, err)
}

func mapUser(model User) (engine.User, error) {
	var unlocked []string
	if len(model.AchievementsUnlocked) > 0 {
		if err := json.Unmarshal(model.AchievementsUnlocked, &unlocked); err != nil {
			return engine.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
		}
	}
	return engine.User{
		ID:                   model.ID,
		Email:                model.Email,
		DisplayName:          model.DisplayName,
		PasswordHash:         model.PasswordHash,
		Role:                 engine.Role(model.Role),
		Minutes:              model.Minutes,
		TotalHoursPurchased:  model.TotalHoursPurchased,
		Level:                model.Level,
		AchievementsUnlocked: unlocked,
	}, nil
}

func mapPC(model PC) engine.PC {
	return engine.PC{
		ID:             model.ID,
		Name:           model.Name,
		Status:         engine.PCStatus(model.Status),
		ConnectionLink: model.ConnectionLink,
	}
}

func mapGame(model SharedGame) engine.SharedGame {
	return engine.SharedGame{
		ID:        model.ID,
		Name:      model.Name,
		MaxCopies: model.MaxCopies,
		Active:    model.Active,
	}
}

func mapReservation(model Reservation) engine.Reservation {
	reservation := engine.Reservation{
		ID:        model.ID,
		UserID:    model.UserID,
		PCID:      model.PCID,
		StartTime: model.StartTime.UTC(),
		EndTime:   model.EndTime.UTC(),
		Status:    engine.ReservationStatus(model.Status),
		LinkSent:  model.LinkSent,
		CreatedAt: model.CreatedAt,
	}
	if model.GameID != nil {
		reservation.GameID = *model.GameID
	}
	return reservation
}

func mapPurchase(model Purchase) engine.Purchase {
	purchase := engine.Purchase{
		ID:          model.ID,
		UserID:      model.UserID,
		ProductID:   model.ProductID,
		AmountCents: model.AmountCents,
		Status:      engine.PurchaseStatus(model.Status),
		CreatedAt:   model.CreatedAt,
	}
	if model.ExternalRef != nil {
		purchase.ExternalRef = *model.ExternalRef
	}
	return purchase
}

func mapProduct(model Product) engine.Product {
	return engine.Product{
		ID:         model.ID,
		Name:       model.Name,
		PriceCents: model.PriceCents,
		Minutes:    model.Minutes,
		Type:       model.Type,
		Active:     model.Active,
		Popular:    model.Popular,
	}
}

func mapAchievement(model Achievement) engine.Achievement {
	return engine.Achievement{
		ID:             model.ID,
		Name:           model.Name,
		MilestoneHours: model.MilestoneHours,
		RewardHours:    model.RewardHours,
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

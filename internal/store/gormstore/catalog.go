package gormstore

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/lanpoint/gamecenter/internal/engine"
)

const (
	errorSubjectSetting = "setting"

	// SettingGeneralDiscount holds the storewide discount percentage applied
	// when a payment preference is created.
	SettingGeneralDiscount = "general_discount"
)

// ActiveProducts lists the purchasable catalog, popular entries first.
func (store *Store) ActiveProducts(ctx context.Context) ([]engine.Product, error) {
	var models []Product
	err := store.db.WithContext(ctx).
		Where("active = ?", true).
		Order("popular DESC, price_cents ASC").
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectProduct, errorCodeList, err)
	}
	products := make([]engine.Product, 0, len(models))
	for _, model := range models {
		products = append(products, mapProduct(model))
	}
	return products, nil
}

// Products lists the whole catalog including inactive entries.
func (store *Store) Products(ctx context.Context) ([]engine.Product, error) {
	var models []Product
	err := store.db.WithContext(ctx).Order("price_cents ASC").Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectProduct, errorCodeList, err)
	}
	products := make([]engine.Product, 0, len(models))
	for _, model := range models {
		products = append(products, mapProduct(model))
	}
	return products, nil
}

func (store *Store) CreateProduct(ctx context.Context, product *engine.Product) error {
	model := Product{
		ID:         product.ID,
		Name:       product.Name,
		PriceCents: product.PriceCents,
		Minutes:    product.Minutes,
		Type:       product.Type,
		Active:     product.Active,
		Popular:    product.Popular,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectProduct, errorCodeCreate, err)
	}
	product.ID = model.ID
	return nil
}

func (store *Store) UpdateProduct(ctx context.Context, product engine.Product) error {
	result := store.db.WithContext(ctx).
		Model(&Product{}).
		Where("id = ?", product.ID).
		Updates(map[string]any{
			"name":        product.Name,
			"price_cents": product.PriceCents,
			"minutes":     product.Minutes,
			"type":        product.Type,
			"active":      product.Active,
			"popular":     product.Popular,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectProduct, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectProduct, errorCodeUpdate, engine.ErrProductNotFound)
	}
	return nil
}

func (store *Store) Achievements(ctx context.Context) ([]engine.Achievement, error) {
	return store.AchievementsByMilestone(ctx)
}

func (store *Store) CreateAchievement(ctx context.Context, achievement *engine.Achievement) error {
	model := Achievement{
		ID:             achievement.ID,
		Name:           achievement.Name,
		MilestoneHours: achievement.MilestoneHours,
		RewardHours:    achievement.RewardHours,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectAchievement, errorCodeCreate, err)
	}
	achievement.ID = model.ID
	return nil
}

// PCs lists every workstation regardless of status, name order.
func (store *Store) PCs(ctx context.Context) ([]engine.PC, error) {
	var models []PC
	err := store.db.WithContext(ctx).Order("name ASC").Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPC, errorCodeList, err)
	}
	pcs := make([]engine.PC, 0, len(models))
	for _, model := range models {
		pcs = append(pcs, mapPC(model))
	}
	return pcs, nil
}

func (store *Store) CreatePC(ctx context.Context, pc *engine.PC) error {
	model := PC{
		ID:             pc.ID,
		Name:           pc.Name,
		Status:         string(pc.Status),
		ConnectionLink: pc.ConnectionLink,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPC, errorCodeDuplicate, engine.ErrAlreadyExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPC, errorCodeCreate, err)
	}
	pc.ID = model.ID
	return nil
}

func (store *Store) UpdatePC(ctx context.Context, pc engine.PC) error {
	result := store.db.WithContext(ctx).
		Model(&PC{}).
		Where("id = ?", pc.ID).
		Updates(map[string]any{
			"name":            pc.Name,
			"status":          string(pc.Status),
			"connection_link": pc.ConnectionLink,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPC, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPC, errorCodeUpdate, engine.ErrPCNotFound)
	}
	return nil
}

func (store *Store) Games(ctx context.Context) ([]engine.SharedGame, error) {
	var models []SharedGame
	err := store.db.WithContext(ctx).Order("name ASC").Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectGame, errorCodeList, err)
	}
	games := make([]engine.SharedGame, 0, len(models))
	for _, model := range models {
		games = append(games, mapGame(model))
	}
	return games, nil
}

func (store *Store) CreateGame(ctx context.Context, game *engine.SharedGame) error {
	model := SharedGame{
		ID:        game.ID,
		Name:      game.Name,
		MaxCopies: game.MaxCopies,
		Active:    game.Active,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectGame, errorCodeDuplicate, engine.ErrAlreadyExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectGame, errorCodeCreate, err)
	}
	game.ID = model.ID
	return nil
}

func (store *Store) UpdateGame(ctx context.Context, game engine.SharedGame) error {
	result := store.db.WithContext(ctx).
		Model(&SharedGame{}).
		Where("id = ?", game.ID).
		Updates(map[string]any{
			"name":       game.Name,
			"max_copies": game.MaxCopies,
			"active":     game.Active,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectGame, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectGame, errorCodeUpdate, engine.ErrGameNotFound)
	}
	return nil
}

func (store *Store) Users(ctx context.Context) ([]engine.User, error) {
	var models []User
	err := store.db.WithContext(ctx).Order("email ASC").Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectUser, errorCodeList, err)
	}
	users := make([]engine.User, 0, len(models))
	for _, model := range models {
		user, err := mapUser(model)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (store *Store) Reservations(ctx context.Context) ([]engine.Reservation, error) {
	var models []Reservation
	err := store.db.WithContext(ctx).Order("start_time DESC").Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	reservations := make([]engine.Reservation, 0, len(models))
	for _, model := range models {
		reservations = append(reservations, mapReservation(model))
	}
	return reservations, nil
}

// SettingValue returns the stored value, or fallback when the key is
// absent.
func (store *Store) SettingValue(ctx context.Context, key string, fallback string) (string, error) {
	var model Setting
	err := store.db.WithContext(ctx).Where("key = ?", key).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fallback, nil
	}
	if err != nil {
		return "", wrapStoreError(errorSubjectSetting, errorCodeGet, err)
	}
	return model.Value, nil
}

func (store *Store) SetSetting(ctx context.Context, key string, value string) error {
	model := Setting{Key: key, Value: value}
	err := store.db.WithContext(ctx).Save(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectSetting, errorCodeUpdate, err)
	}
	return nil
}

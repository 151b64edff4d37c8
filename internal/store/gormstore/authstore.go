package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/lanpoint/gamecenter/internal/engine"
)

const errorSubjectResetToken = "reset_token"

// UserByEmail looks a user up by email for password-reset flows.
func (store *Store) UserByEmail(ctx context.Context, email string) (engine.User, error) {
	var model User
	err := store.db.WithContext(ctx).Where("email = ?", email).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, engine.ErrUserNotFound)
		}
		return engine.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	return mapUser(model)
}

func (store *Store) UpdateUserPassword(ctx context.Context, userID string, passwordHash string) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", userID).
		Update("password_hash", passwordHash)
	if result.Error != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, engine.ErrUserNotFound)
	}
	return nil
}

// CreatePasswordResetToken stores the hash of a freshly issued token.
func (store *Store) CreatePasswordResetToken(ctx context.Context, userID string, tokenHash string, expiresAt time.Time) error {
	model := PasswordResetToken{
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectResetToken, errorCodeDuplicate, engine.ErrAlreadyExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectResetToken, errorCodeCreate, err)
	}
	return nil
}

// ConsumePasswordResetToken marks a live token used and returns its user.
// The guarded update makes each token single-use even under concurrent
// confirms.
func (store *Store) ConsumePasswordResetToken(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	var model PasswordResetToken
	err := store.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", wrapStoreError(errorSubjectResetToken, errorCodeGet, engine.ErrForbidden)
		}
		return "", wrapStoreError(errorSubjectResetToken, errorCodeGet, err)
	}
	if model.UsedAt != nil || now.UTC().After(model.ExpiresAt) {
		return "", wrapStoreError(errorSubjectResetToken, errorCodeUpdate, engine.ErrForbidden)
	}
	usedAt := now.UTC()
	result := store.db.WithContext(ctx).
		Model(&PasswordResetToken{}).
		Where("id = ? AND used_at IS NULL", model.ID).
		Update("used_at", usedAt)
	if result.Error != nil {
		return "", wrapStoreError(errorSubjectResetToken, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return "", wrapStoreError(errorSubjectResetToken, errorCodeUpdate, engine.ErrForbidden)
	}
	return model.UserID, nil
}

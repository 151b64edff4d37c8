// Package auth implements password hashing and the single-use
// password-reset token flow.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/lanpoint/gamecenter/internal/engine"
)

const (
	// DefaultResetTokenTTL bounds how long a reset link stays valid.
	DefaultResetTokenTTL = 30 * time.Minute

	minPasswordLength = 8
)

var (
	ErrInvalidToken    = errors.New("invalid reset token")
	ErrWeakPassword    = errors.New("password too short")
	ErrInvalidAuthDeps = errors.New("invalid auth config")
)

// HashPassword returns the bcrypt hash of a plain password.
func HashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword reports whether plain matches the stored bcrypt hash.
func VerifyPassword(hash string, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// TokenStore is the persistence surface the reset flow needs.
type TokenStore interface {
	UserByEmail(ctx context.Context, email string) (engine.User, error)
	CreatePasswordResetToken(ctx context.Context, userID string, tokenHash string, expiresAt time.Time) error
	ConsumePasswordResetToken(ctx context.Context, tokenHash string, now time.Time) (string, error)
	UpdateUserPassword(ctx context.Context, userID string, passwordHash string) error
}

// PasswordReset issues and redeems signed single-use reset tokens. The
// token is an HS256 JWT; only the SHA-256 hash of its jti is persisted, so
// a leaked database row cannot be replayed as a token.
type PasswordReset struct {
	store  TokenStore
	secret []byte
	ttl    time.Duration
	nowFn  func() time.Time
}

// NewPasswordReset wires a PasswordReset flow.
func NewPasswordReset(store TokenStore, secret string, ttl time.Duration, now func() time.Time) (*PasswordReset, error) {
	if store == nil || secret == "" || now == nil {
		return nil, ErrInvalidAuthDeps
	}
	if ttl <= 0 {
		ttl = DefaultResetTokenTTL
	}
	return &PasswordReset{
		store:  store,
		secret: []byte(secret),
		ttl:    ttl,
		nowFn:  now,
	}, nil
}

// Begin issues a reset token for the account behind email. The caller
// delivers the token out of band; it is never logged.
func (reset *PasswordReset) Begin(ctx context.Context, email string) (string, engine.User, error) {
	user, err := reset.store.UserByEmail(ctx, email)
	if err != nil {
		return "", engine.User{}, err
	}
	tokenID, err := randomHex(24)
	if err != nil {
		return "", engine.User{}, err
	}
	now := reset.nowFn().UTC()
	expiresAt := now.Add(reset.ttl)
	claims := jwt.MapClaims{
		"sub": user.ID,
		"jti": tokenID,
		"exp": expiresAt.Unix(),
		"iat": now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(reset.secret)
	if err != nil {
		return "", engine.User{}, err
	}
	if err := reset.store.CreatePasswordResetToken(ctx, user.ID, hashTokenID(tokenID), expiresAt); err != nil {
		return "", engine.User{}, err
	}
	return signed, user, nil
}

// Confirm redeems a reset token and installs the new password. Each token
// works exactly once.
func (reset *PasswordReset) Confirm(ctx context.Context, token string, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return ErrWeakPassword
	}
	userID, tokenID, err := reset.parseToken(token)
	if err != nil {
		return err
	}
	storedUserID, err := reset.store.ConsumePasswordResetToken(ctx, hashTokenID(tokenID), reset.nowFn())
	if err != nil {
		if errors.Is(err, engine.ErrForbidden) {
			return ErrInvalidToken
		}
		return err
	}
	if storedUserID != userID {
		return ErrInvalidToken
	}
	passwordHash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return reset.store.UpdateUserPassword(ctx, userID, passwordHash)
}

func (reset *PasswordReset) parseToken(token string) (string, string, error) {
	parsed, err := jwt.Parse(token, func(parsedToken *jwt.Token) (any, error) {
		if _, ok := parsedToken.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", parsedToken.Header["alg"])
		}
		return reset.secret, nil
	}, jwt.WithTimeFunc(reset.nowFn))
	if err != nil || !parsed.Valid {
		return "", "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrInvalidToken
	}
	userID, _ := claims["sub"].(string)
	tokenID, _ := claims["jti"].(string)
	if userID == "" || tokenID == "" {
		return "", "", ErrInvalidToken
	}
	return userID, tokenID, nil
}

func hashTokenID(tokenID string) string {
	digest := sha256.Sum256([]byte(tokenID))
	return hex.EncodeToString(digest[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

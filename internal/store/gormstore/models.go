package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User represents the users table. The primary key is the identity issued
// by the session service, not a generated uuid.
type User struct {
	ID                   string         `gorm:"primaryKey"`
	Email                string         `gorm:"uniqueIndex;not null"`
	DisplayName          string         `gorm:""`
	PasswordHash         string         `gorm:""`
	Role                 string         `gorm:"not null;default:USER"`
	Minutes              int64          `gorm:"not null;default:0"`
	TotalHoursPurchased  int64          `gorm:"not null;default:0"`
	Level                int64          `gorm:"not null;default:0"`
	AchievementsUnlocked datatypes.JSON `gorm:"not null"`
	CreatedAt            time.Time      `gorm:"not null"`
	UpdatedAt            time.Time      `gorm:"not null"`
}

func (User) TableName() string { return "users" }

func (user *User) BeforeCreate(tx *gorm.DB) error {
	if len(user.AchievementsUnlocked) == 0 {
		user.AchievementsUnlocked = datatypes.JSON([]byte("[]"))
	}
	return nil
}

// PC represents the pcs table.
type PC struct {
	ID             string    `gorm:"type:uuid;primaryKey"`
	Name           string    `gorm:"uniqueIndex;not null"`
	Status         string    `gorm:"not null;default:AVAILABLE"`
	ConnectionLink string    `gorm:""`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (PC) TableName() string { return "pcs" }

func (pc *PC) BeforeCreate(tx *gorm.DB) error {
	if pc.ID == "" {
		pc.ID = uuid.NewString()
	}
	return nil
}

// SharedGame represents the shared_games table.
type SharedGame struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	MaxCopies int       `gorm:"not null;default:1"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (SharedGame) TableName() string { return "shared_games" }

func (game *SharedGame) BeforeCreate(tx *gorm.DB) error {
	if game.ID == "" {
		game.ID = uuid.NewString()
	}
	return nil
}

// Reservation represents the reservations table. Times are stored in UTC;
// the interval is half-open.
type Reservation struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"not null;index"`
	PCID      string    `gorm:"type:uuid;not null;index:idx_reservations_pc_window,priority:1"`
	GameID    *string   `gorm:"type:uuid;index"`
	StartTime time.Time `gorm:"not null;index:idx_reservations_pc_window,priority:2"`
	EndTime   time.Time `gorm:"not null"`
	Status    string    `gorm:"not null;default:CONFIRMED"`
	LinkSent  bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Reservation) TableName() string { return "reservations" }

func (reservation *Reservation) BeforeCreate(tx *gorm.DB) error {
	if reservation.ID == "" {
		reservation.ID = uuid.NewString()
	}
	return nil
}

// Purchase represents the purchases table. ExternalRef carries the payment
// provider reference and is unique when present.
type Purchase struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	UserID      string    `gorm:"not null;index"`
	ProductID   string    `gorm:"type:uuid;not null"`
	AmountCents int64     `gorm:"not null"`
	Status      string    `gorm:"not null;default:PENDING"`
	ExternalRef *string   `gorm:"uniqueIndex"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (Purchase) TableName() string { return "purchases" }

func (purchase *Purchase) BeforeCreate(tx *gorm.DB) error {
	if purchase.ID == "" {
		purchase.ID = uuid.NewString()
	}
	return nil
}

// Product represents the products table.
type Product struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	Name       string    `gorm:"not null"`
	PriceCents int64     `gorm:"not null"`
	Minutes    int64     `gorm:"not null"`
	Type       string    `gorm:""`
	Active     bool      `gorm:"not null;default:true"`
	Popular    bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (Product) TableName() string { return "products" }

func (product *Product) BeforeCreate(tx *gorm.DB) error {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	return nil
}

// Achievement represents the achievements table.
type Achievement struct {
	ID             string    `gorm:"type:uuid;primaryKey"`
	Name           string    `gorm:"not null"`
	MilestoneHours int64     `gorm:"not null;index"`
	RewardHours    int64     `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (Achievement) TableName() string { return "achievements" }

func (achievement *Achievement) BeforeCreate(tx *gorm.DB) error {
	if achievement.ID == "" {
		achievement.ID = uuid.NewString()
	}
	return nil
}

// Setting is a key/value row; general_discount holds the storewide
// discount percentage applied when a payment preference is created.
type Setting struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Setting) TableName() string { return "settings" }

// PasswordResetToken stores the hash of a single-use reset token.
type PasswordResetToken struct {
	ID        string     `gorm:"type:uuid;primaryKey"`
	UserID    string     `gorm:"not null;index"`
	TokenHash string     `gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time  `gorm:"not null"`
	UsedAt    *time.Time `gorm:""`
	CreatedAt time.Time  `gorm:"not null"`
}

func (PasswordResetToken) TableName() string { return "password_reset_tokens" }

func (token *PasswordResetToken) BeforeCreate(tx *gorm.DB) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	return nil
}

// AllModels lists every model for AutoMigrate.
func AllModels() []any {
	return []any{
		&User{},
		&PC{},
		&SharedGame{},
		&Reservation{},
		&Purchase{},
		&Product{},
		&Achievement{},
		&Setting{},
		&PasswordResetToken{},
	}
}

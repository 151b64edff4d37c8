package engine

import (
	"context"
	"time"
)

// Role enumerates user roles.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// PCStatus enumerates workstation states. StatusBusy is informational;
// actual occupancy is derived from confirmed reservations.
type PCStatus string

const (
	PCAvailable   PCStatus = "AVAILABLE"
	PCMaintenance PCStatus = "MAINTENANCE"
	PCBusy        PCStatus = "BUSY"
)

// ReservationStatus enumerates reservation states.
type ReservationStatus string

const (
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// PurchaseStatus enumerates purchase states. Completed is the idempotency
// fence: a purchase is rewarded exactly once, on its PENDING -> COMPLETED flip.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "PENDING"
	PurchaseCompleted PurchaseStatus = "COMPLETED"
)

// Window is a half-open time interval: Start inclusive, End exclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the window is well formed.
func (window Window) Valid() bool {
	return !window.Start.IsZero() && !window.End.IsZero() && window.Start.Before(window.End)
}

// DurationMinutes returns the whole minutes covered by the window,
// truncated.
func (window Window) DurationMinutes() int64 {
	return int64(window.End.Sub(window.Start) / time.Minute)
}

// Overlaps reports whether two half-open windows intersect.
func (window Window) Overlaps(other Window) bool {
	return window.Start.Before(other.End) && window.End.After(other.Start)
}

// User is a customer or admin account. Minutes is the prepaid balance and
// never goes negative; TotalHoursPurchased and Level grow monotonically.
type User struct {
	ID                   string
	Email                string
	DisplayName          string
	PasswordHash         string
	Role                 Role
	Minutes              int64
	TotalHoursPurchased  int64
	Level                int64
	AchievementsUnlocked []string
}

// PC is one workstation in the fixed pool.
type PC struct {
	ID             string
	Name           string
	Status         PCStatus
	ConnectionLink string
}

// SharedGame is a game with a limited number of concurrent copies.
type SharedGame struct {
	ID        string
	Name      string
	MaxCopies int
	Active    bool
}

// Reservation binds a user to a PC for a window. GameID is empty when no
// shared game is attached.
type Reservation struct {
	ID        string
	UserID    string
	PCID      string
	GameID    string
	StartTime time.Time
	EndTime   time.Time
	Status    ReservationStatus
	LinkSent  bool
	CreatedAt time.Time
}

// Window returns the reservation interval.
func (reservation Reservation) Window() Window {
	return Window{Start: reservation.StartTime, End: reservation.EndTime}
}

// Purchase records one payment for a product.
type Purchase struct {
	ID          string
	UserID      string
	ProductID   string
	AmountCents int64
	Status      PurchaseStatus
	ExternalRef string
	CreatedAt   time.Time
}

// Product is a static catalog entry granting prepaid minutes.
type Product struct {
	ID         string
	Name       string
	PriceCents int64
	Minutes    int64
	Type       string
	Active     bool
	Popular    bool
}

// Achievement unlocks at a total-hours milestone and grants bonus hours.
type Achievement struct {
	ID             string
	Name           string
	MilestoneHours int64
	RewardHours    int64
}

// Balance is the ledger view of a user.
type Balance struct {
	Minutes int64
}

// Hours returns the balance in fractional hours for display.
func (balance Balance) Hours() float64 {
	return float64(balance.Minutes) / 60
}

// RewardOutcome describes what a processed purchase granted.
type RewardOutcome struct {
	Purchase         Purchase
	NewlyUnlocked    []Achievement
	BonusMinutes     int64
	NewLevel         int64
	AlreadyCompleted bool
}

// PendingLink is a reservation due for its connection-link email, joined
// with the recipient and the assigned PC.
type PendingLink struct {
	Reservation Reservation
	UserEmail   string
	PCName      string
	Link        string
}

// Store is the persistence contract used by Service. WithTx must execute fn
// against one transaction so the availability check, the balance debit and
// the reservation insert commit together or not at all. Concurrent bookings
// serialize on the ForUpdate reads: Book locks the PC pool (and the game
// row) so a second booker blocks until the first commits and then observes
// its reservation.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetOrCreateUser(ctx context.Context, userID string, email string, displayName string) (User, error)
	UserByID(ctx context.Context, userID string) (User, error)
	UserByIDForUpdate(ctx context.Context, userID string) (User, error)
	AddUserMinutes(ctx context.Context, userID string, minutes int64) error
	// DebitUserMinutes decrements the balance, refusing to go below zero
	// with ErrInsufficientBalance.
	DebitUserMinutes(ctx context.Context, userID string, minutes int64) error
	UpdateUserProgress(ctx context.Context, userID string, totalHours int64, level int64, unlocked []string) error

	AvailablePCs(ctx context.Context) ([]PC, error)
	// AvailablePCsForUpdate locks the available PC rows for the duration of
	// the transaction; overlap reads issued after it see every reservation
	// committed by earlier holders of the lock.
	AvailablePCsForUpdate(ctx context.Context) ([]PC, error)
	PCByID(ctx context.Context, pcID string) (PC, error)
	OccupiedPCIDs(ctx context.Context, window Window) (map[string]struct{}, error)
	GameByID(ctx context.Context, gameID string) (SharedGame, error)
	GameByIDForUpdate(ctx context.Context, gameID string) (SharedGame, error)
	CountGameOverlaps(ctx context.Context, gameID string, window Window) (int64, error)

	CreateReservation(ctx context.Context, reservation *Reservation) error
	ReservationByID(ctx context.Context, reservationID string) (Reservation, error)
	UpdateReservationStatus(ctx context.Context, reservationID string, from ReservationStatus, to ReservationStatus) error
	ReservationsForUser(ctx context.Context, userID string) ([]Reservation, error)
	PendingLinkReservations(ctx context.Context, from time.Time, until time.Time) ([]PendingLink, error)
	// MarkLinkSent flips link_sent once; it reports false when the flag
	// was already set.
	MarkLinkSent(ctx context.Context, reservationID string) (bool, error)

	ProductByID(ctx context.Context, productID string) (Product, error)
	AchievementsByMilestone(ctx context.Context) ([]Achievement, error)
	CreatePurchase(ctx context.Context, purchase *Purchase) error
	PurchaseByID(ctx context.Context, purchaseID string) (Purchase, error)
	PurchaseByIDForUpdate(ctx context.Context, purchaseID string) (Purchase, error)
	PurchaseByExternalRef(ctx context.Context, externalRef string) (Purchase, error)
	UpdatePurchaseStatus(ctx context.Context, purchaseID string, from PurchaseStatus, to PurchaseStatus) error
	SetPurchaseExternalRef(ctx context.Context, purchaseID string, externalRef string) error
	PurchasesForUser(ctx context.Context, userID string) ([]Purchase, error)
}

// Notifier delivers customer email as a side effect. Implementations log
// their own failures; callers never fail an operation on a send error.
type Notifier interface {
	BookingConfirmed(ctx context.Context, user User, reservation Reservation, pc PC) error
	ConnectionLink(ctx context.Context, email string, reservation Reservation, pcName string, link string) error
}

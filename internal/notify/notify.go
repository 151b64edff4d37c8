// Package notify delivers customer email by handing messages to the mail
// worker queue. Delivery is best effort; callers never fail a booking on a
// publish error.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lanpoint/gamecenter/internal/engine"
)

// Message is one outbound email handed to the mail worker.
type Message struct {
	Kind          string    `json:"kind"`
	To            string    `json:"to"`
	UserID        string    `json:"user_id,omitempty"`
	ReservationID string    `json:"reservation_id,omitempty"`
	PCName        string    `json:"pc_name,omitempty"`
	Link          string    `json:"link,omitempty"`
	StartTime     time.Time `json:"start_time,omitempty"`
	EndTime       time.Time `json:"end_time,omitempty"`
}

const (
	KindBookingConfirmed = "booking.confirmed"
	KindConnectionLink   = "connection.link"
	KindPasswordReset    = "password.reset"
)

// Mailer enqueues messages for delivery.
type Mailer interface {
	Send(ctx context.Context, message Message) error
}

// Notifier adapts a Mailer to the engine's notification contract.
type Notifier struct {
	mailer Mailer
	logger *zap.Logger
}

// NewNotifier wires a Notifier; a nil logger is replaced by zap.NewNop().
func NewNotifier(mailer Mailer, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{mailer: mailer, logger: logger}
}

// BookingConfirmed enqueues the booking confirmation email.
func (notifier *Notifier) BookingConfirmed(ctx context.Context, user engine.User, reservation engine.Reservation, pc engine.PC) error {
	err := notifier.mailer.Send(ctx, Message{
		Kind:          KindBookingConfirmed,
		To:            user.Email,
		UserID:        user.ID,
		ReservationID: reservation.ID,
		PCName:        pc.Name,
		StartTime:     reservation.StartTime,
		EndTime:       reservation.EndTime,
	})
	if err != nil {
		notifier.logger.Warn("booking confirmation enqueue failed",
			zap.String("reservation_id", reservation.ID),
			zap.Error(err))
	}
	return err
}

// ConnectionLink enqueues the pre-session connection link email.
func (notifier *Notifier) ConnectionLink(ctx context.Context, email string, reservation engine.Reservation, pcName string, link string) error {
	err := notifier.mailer.Send(ctx, Message{
		Kind:          KindConnectionLink,
		To:            email,
		UserID:        reservation.UserID,
		ReservationID: reservation.ID,
		PCName:        pcName,
		Link:          link,
		StartTime:     reservation.StartTime,
		EndTime:       reservation.EndTime,
	})
	if err != nil {
		notifier.logger.Warn("connection link enqueue failed",
			zap.String("reservation_id", reservation.ID),
			zap.Error(err))
	}
	return err
}

// PasswordReset enqueues the reset link email.
func (notifier *Notifier) PasswordReset(ctx context.Context, email string, token string) error {
	err := notifier.mailer.Send(ctx, Message{
		Kind: KindPasswordReset,
		To:   email,
		Link: token,
	})
	if err != nil {
		notifier.logger.Warn("password reset enqueue failed", zap.Error(err))
	}
	return err
}

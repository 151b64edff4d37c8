// Package dispatch runs the periodic connection-link dispatcher.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const (
	// DefaultInterval is how often the dispatcher scans for due links.
	DefaultInterval = time.Minute
	// DefaultLookahead covers reservations starting soon enough that the
	// customer needs the link now.
	DefaultLookahead = 10 * time.Minute
)

var errInvalidDispatcherConfig = errors.New("invalid dispatcher config")

// LinkSender is the engine operation the dispatcher drives.
type LinkSender interface {
	DispatchPendingLinks(ctx context.Context, lookahead time.Duration) (int, error)
}

// LinkDispatcher ticks DispatchPendingLinks on a fixed interval.
type LinkDispatcher struct {
	sender    LinkSender
	logger    *zap.Logger
	interval  time.Duration
	lookahead time.Duration
	scheduler gocron.Scheduler
}

// NewLinkDispatcher wires a LinkDispatcher. Zero interval or lookahead
// fall back to the defaults.
func NewLinkDispatcher(sender LinkSender, logger *zap.Logger, interval time.Duration, lookahead time.Duration) (*LinkDispatcher, error) {
	if sender == nil {
		return nil, errInvalidDispatcherConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &LinkDispatcher{
		sender:    sender,
		logger:    logger,
		interval:  interval,
		lookahead: lookahead,
	}, nil
}

// Start schedules the recurring job. Stop releases it.
func (dispatcher *LinkDispatcher) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(dispatcher.interval),
		gocron.NewTask(func() {
			dispatcher.runOnce(ctx)
		}),
	)
	if err != nil {
		return err
	}
	scheduler.Start()
	dispatcher.scheduler = scheduler
	return nil
}

// Stop shuts the scheduler down and waits for a running tick.
func (dispatcher *LinkDispatcher) Stop() error {
	if dispatcher.scheduler == nil {
		return nil
	}
	return dispatcher.scheduler.Shutdown()
}

func (dispatcher *LinkDispatcher) runOnce(ctx context.Context) {
	dispatched, err := dispatcher.sender.DispatchPendingLinks(ctx, dispatcher.lookahead)
	if err != nil {
		dispatcher.logger.Warn("link dispatch tick failed", zap.Error(err))
		return
	}
	if dispatched > 0 {
		dispatcher.logger.Info("connection links dispatched", zap.Int("count", dispatched))
	}
}

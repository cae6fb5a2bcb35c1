package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

// BusinessLister provides the businesses a sweep visits
type BusinessLister interface {
	ListBusinessIDs(ctx context.Context) ([]string, error)
}

// Sweeper submits one job of every kind for every business each interval
type Sweeper struct {
	interval      time.Duration
	retryAttempts int
	scheduler     *Scheduler
	businesses    BusinessLister
	clock         clock.Clock
	logger        *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewSweeper creates a sweeper feeding the given scheduler
func NewSweeper(interval time.Duration, scheduler *Scheduler, businesses BusinessLister, clk clock.Clock, logger *zap.Logger) *Sweeper {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		interval:      interval,
		retryAttempts: scheduler.config.RetryAttempts,
		scheduler:     scheduler,
		businesses:    businesses,
		clock:         clk,
		logger:        logger,
	}
}

// Start starts the sweep loop. The first sweep runs one interval after Start.
func (w *Sweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = true
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.runLoop(ctx)

	w.logger.Info("Maintenance sweeper started", zap.Duration("interval", w.interval))
	return nil
}

// Stop stops the sweep loop
func (w *Sweeper) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Maintenance sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Sweeper) runLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.clock.After(w.interval):
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error("Maintenance sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep submits the maintenance jobs for every business and returns how many
// were queued. Submission errors are joined; the sweep continues past them.
func (w *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := w.businesses.ListBusinessIDs(ctx)
	if err != nil {
		return 0, err
	}

	submitted := 0
	var errs []error
	for _, id := range ids {
		for _, kind := range AllJobKinds() {
			if err := w.scheduler.SubmitJob(NewJob(id, kind, w.retryAttempts)); err != nil {
				errs = append(errs, err)
				continue
			}
			submitted++
		}
	}

	w.logger.Info("Maintenance sweep submitted jobs",
		zap.Int("business_count", len(ids)),
		zap.Int("submitted", submitted),
		zap.Int("rejected", len(errs)),
	)
	return submitted, errors.Join(errs...)
}

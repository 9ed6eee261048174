package sweeperapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"authtoken/internal/lib/sl"
)

// Sweeper clears expired token material.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// App runs Sweeper every interval until stopped.
type App struct {
	logger   *slog.Logger
	sweeper  Sweeper
	interval time.Duration

	started  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func New(
	logger *slog.Logger,
	sweeper Sweeper,
	interval time.Duration,
) *App {
	return &App{
		logger:   logger,
		sweeper:  sweeper,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

// Run sweeps once right away and then on every tick. It returns after Stop.
func (a *App) Run() error {
	const op = "sweeperapp.Run"

	log := a.logger.With(
		slog.String("op", op),
		slog.Duration("interval", a.interval),
	)

	if a.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive, got %s", op, a.interval)
	}
	if !a.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: already running", op)
	}
	defer close(a.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info("sweeper is running")

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return nil
		default:
		}

		a.sweep(ctx, log)

		select {
		case <-a.stop:
			return nil
		case <-ticker.C:
		}
	}
}

func (a *App) sweep(ctx context.Context, log *slog.Logger) {
	cleared, err := a.sweeper.SweepExpired(ctx)
	if err != nil {
		log.Error("sweep failed", sl.Err(err))
		return
	}
	log.Debug("sweep done", slog.Int64("cleared", cleared))
}

// Stop ends Run and waits for the sweep in flight, if any.
func (a *App) Stop() {
	const op = "sweeperapp.Stop"
	log := a.logger.With(slog.String("op", op))
	log.Info("stopping sweeper")

	a.stopOnce.Do(func() { close(a.stop) })

	if a.started.Load() {
		<-a.done
	}
}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/substitute-api/internal/models"
)

// SweepLockKey guards against overlapping sweeps across instances.
const SweepLockKey = "sweep:lock"

type requestSweeper interface {
	Sweep(ctx context.Context, now time.Time) (*SweepResult, error)
}

type sweepLock interface {
	TryAcquire(ctx context.Context) (bool, func(context.Context), error)
}

// Sweeper drives the engine's timeout sweep and reports its transitions.
type Sweeper struct {
	engine   requestSweeper
	lock     sweepLock
	notifier EventNotifier
	metrics  *MetricsService
	logger   *zap.Logger
	clock    func() time.Time
}

// NewSweeper wires the sweep collaborators. lock and notifier may be nil.
func NewSweeper(engine requestSweeper, lock sweepLock, notifier EventNotifier, metrics *MetricsService, logger *zap.Logger) *Sweeper {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		engine:   engine,
		lock:     lock,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		clock:    time.Now,
	}
}

// WithClock overrides the time passed to the engine.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// RunOnce performs a single sweep. When another instance holds the lock the
// result is marked skipped and nothing is written. A lock backend failure
// does not block the sweep since every write is version-guarded.
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	if s.lock != nil {
		acquired, release, err := s.lock.TryAcquire(ctx)
		switch {
		case err != nil:
			s.logger.Warn("sweep lock unavailable, continuing unlocked", zap.Error(err))
		case !acquired:
			s.metrics.ObserveSweep("skipped", nil, 0)
			s.logger.Debug("sweep skipped, lock held elsewhere")
			return &SweepResult{Skipped: true, Transitions: []SweepTransition{}}, nil
		default:
			defer release(context.WithoutCancel(ctx))
		}
	}

	now := s.clock()
	result, err := s.engine.Sweep(ctx, now)
	duration := time.Since(start)
	if err != nil {
		s.metrics.ObserveSweep("error", result, duration)
		s.logger.Error("sweep failed", zap.Error(err), zap.Duration("duration", duration))
	} else {
		s.metrics.ObserveSweep("ok", result, duration)
	}
	if result == nil {
		return nil, err
	}

	for _, transition := range result.Transitions {
		s.notifier.Notify(ctx, sweepEvent(transition, now))
	}
	if result.Processed > 0 || result.Stale > 0 {
		s.logger.Info("sweep completed",
			zap.Int("processed", result.Processed),
			zap.Int("escalated", result.Escalated),
			zap.Int("failed", result.Failed),
			zap.Int("stale", result.Stale),
			zap.Duration("duration", duration),
		)
	}
	return result, err
}

// Start runs RunOnce every interval until ctx is done. A non-positive
// interval disables the loop.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Info("sweeper loop disabled")
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.RunOnce(ctx)
			}
		}
	}()
}

func sweepEvent(transition SweepTransition, at time.Time) models.RequestEvent {
	eventType := models.EventRequestEscalated
	if transition.Outcome == SweepOutcomeFailed {
		eventType = models.EventRequestFailed
	}
	req := transition.Request
	if req == nil {
		req = &models.TeachingRequest{ID: transition.RequestID}
	}
	event := models.NewRequestEvent(eventType, req, at)
	event.PrevTeacher = transition.PreviousTeacher
	return event
}

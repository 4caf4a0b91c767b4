package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"saldo/backend/internal/calendar"
)

//go:generate mockgen -source=trigger.go -destination=locker_mock.go -package=ledger

// RunLocker keeps overlapping processes from running the same rollover.
type RunLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// DailyTrigger invokes the rollover once at startup and then every day at a
// fixed local hour.
type DailyTrigger struct {
	scheduler *Scheduler
	calendar  *calendar.Calendar
	locker    RunLocker
	hour      int
	lockTTL   time.Duration
	logger    *zap.Logger
}

func NewDailyTrigger(scheduler *Scheduler, cal *calendar.Calendar, locker RunLocker, hour int, lockTTL time.Duration, logger *zap.Logger) *DailyTrigger {
	if hour < 0 || hour > 23 {
		hour = 0
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DailyTrigger{
		scheduler: scheduler,
		calendar:  cal,
		locker:    locker,
		hour:      hour,
		lockTTL:   lockTTL,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled.
func (t *DailyTrigger) Run(ctx context.Context) error {
	t.logger.Info("rollover trigger started", zap.Int("hour", t.hour), zap.String("timezone", t.calendar.Location().String()))

	t.fire(ctx)
	for {
		next := t.calendar.NextAt(t.hour)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Info("rollover trigger stopped")
			return nil
		case <-timer.C:
			t.fire(ctx)
		}
	}
}

func (t *DailyTrigger) fire(ctx context.Context) {
	if _, _, err := t.RunOnce(ctx, t.calendar.Today()); err != nil && !errors.Is(err, context.Canceled) {
		t.logger.Error("scheduled rollover failed", zap.Error(err))
	}
}

// RunOnce runs the rollover for ref under the run lock. ran is false when
// another process holds the lock.
func (t *DailyTrigger) RunOnce(ctx context.Context, ref calendar.Date) (report RolloverReport, ran bool, err error) {
	key := "saldo:rollover:" + ref.String()
	release, acquired, err := t.locker.TryLock(ctx, key, t.lockTTL)
	if err != nil {
		return RolloverReport{}, false, err
	}
	if !acquired {
		t.logger.Info("rollover already running elsewhere", zap.Stringer("reference_date", ref))
		return RolloverReport{}, false, nil
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			t.logger.Warn("release rollover lock failed", zap.String("key", key), zap.Error(relErr))
		}
	}()

	report, err = t.scheduler.RunDailyRollover(ctx, ref)
	return report, true, err
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/Skotchmaster/restaurant/pkg/logging"
)

// ErrLockHeld means another instance is running the same job.
var ErrLockHeld = errors.New("job lock held elsewhere")

type Expirer interface {
	ExpireUnpaid(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Locker guards a job so only one instance runs it at a time.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// RedisLock is a Locker backed by a redsync mutex. A single try is made per
// run; a busy lock means the job is already running somewhere else.
type RedisLock struct {
	mutex *redsync.Mutex
	log   *slog.Logger
}

func NewRedisLock(rdb *redis.Client, key string, expiry time.Duration, log *slog.Logger) *RedisLock {
	rs := redsync.New(goredis.NewPool(rdb))
	return &RedisLock{
		mutex: rs.NewMutex(key, redsync.WithExpiry(expiry), redsync.WithTries(1)),
		log:   log,
	}
}

func (r *RedisLock) Acquire(ctx context.Context) (func(), error) {
	if err := r.mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("acquire %s: %w", r.mutex.Name(), err)
	}
	return func() {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if _, err := r.mutex.UnlockContext(uctx); err != nil {
			r.log.Warn("job_unlock_failed", "key", r.mutex.Name(), "error", err)
		}
	}, nil
}

// Sweeper cancels prepaid orders left unpaid past TTL.
type Sweeper struct {
	Orders  Expirer
	TTL     time.Duration
	Batch   int
	Lock    Locker
	Timeout time.Duration
	Now     func() time.Time
	Log     *slog.Logger
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Sweeper) batch() int {
	if s.Batch > 0 {
		return s.Batch
	}
	return 100
}

// RunOnce expires one batch. Orders a tick leaves behind are picked up by
// the next one.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if s.Lock != nil {
		release, err := s.Lock.Acquire(ctx)
		if err != nil {
			return 0, err
		}
		defer release()
	}

	cutoff := s.now().Add(-s.TTL)
	return s.Orders.ExpireUnpaid(logging.IntoContext(ctx, s.Log), cutoff, s.batch())
}

func (s *Sweeper) tick() {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrLockHeld):
		s.Log.Debug("sweep_skipped", "reason", "lock_held")
	case err != nil:
		s.Log.Error("sweep_failed", "error", err)
	case n > 0:
		s.Log.Info("unpaid_orders_expired", "count", n)
	}
}

// Schedule registers the sweep on a seconds-resolution cron. The caller
// starts and stops the returned scheduler.
func (s *Sweeper) Schedule(spec string) (*cron.Cron, error) {
	if s.Log == nil {
		s.Log = slog.Default()
	}
	s.Log = s.Log.With("component", "unpaid_sweeper")

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", spec, err)
	}
	return c, nil
}

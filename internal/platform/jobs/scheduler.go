package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a periodic job body. Tasks acquire their own distributed lock.
type Task func(ctx context.Context) error

type scheduledTask struct {
	name     string
	interval time.Duration
	run      Task
}

// Scheduler drives registered tasks on fixed intervals until its context ends.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	tasks   []scheduledTask
	started bool
	wg      sync.WaitGroup
}

// NewScheduler constructs an empty Scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger}
}

// Every registers task to run once per interval. Registration after Start is rejected.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return errors.New("jobs: task name is required")
	case interval <= 0:
		return errors.New("jobs: task interval must be positive")
	case task == nil:
		return errors.New("jobs: task is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("jobs: scheduler already started")
	}
	s.tasks = append(s.tasks, scheduledTask{name: name, interval: interval, run: task})
	return nil
}

// Start launches one ticker goroutine per task. The first run happens after one interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, task)
	}
}

// Wait blocks until every task loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, task scheduledTask) {
	defer s.wg.Done()
	ticker := time.NewTicker(task.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTask(ctx, task)
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, task scheduledTask) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("jobs: task panicked", zap.String("task", task.name), zap.Any("panic", rec))
		}
	}()
	if err := task.run(ctx); err != nil {
		s.logger.Warn("jobs: task failed", zap.String("task", task.name), zap.Error(err))
		return
	}
	s.logger.Debug("jobs: task finished", zap.String("task", task.name), zap.Duration("duration", time.Since(start)))
}

// RunLocked executes fn while holding key. It reports false when another owner
// holds the lock, which callers treat as a normal skip.
func RunLocked(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	if locker == nil {
		return true, fn(ctx)
	}
	acquired, err := locker.Acquire(ctx, key, ttl)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		// Release with a fresh context so a cancelled sweep still frees its lock.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = locker.Release(releaseCtx, key)
	}()
	return true, fn(ctx)
}

// Package scheduler runs the periodic maintenance jobs: directory refresh,
// cache sweeps and state flushes.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is one periodic job. Run errors are logged and never stop the loop.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	tasks  []Task
	logger *zap.Logger
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger}
}

// Add registers a task. Tasks with a non-positive interval are skipped.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) error) {
	if interval <= 0 {
		s.logger.Warn("Periodic task disabled", zap.String("task", name))
		return
	}
	s.tasks = append(s.tasks, Task{Name: name, Interval: interval, Run: run})
}

func (s *Scheduler) Tasks() []Task {
	return append([]Task(nil), s.tasks...)
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		g.Go(func() error {
			s.loop(ctx, t)
			return nil
		})
	}
	s.logger.Info("Scheduler started", zap.Int("tasks", len(s.tasks)))
	err := g.Wait()
	s.logger.Info("Scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Periodic task panicked", zap.String("task", t.Name), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := t.Run(ctx); err != nil {
		s.logger.Warn("Periodic task failed", zap.String("task", t.Name), zap.Error(err))
		return
	}
	s.logger.Debug("Periodic task done", zap.String("task", t.Name), zap.Duration("took", time.Since(start)))
}

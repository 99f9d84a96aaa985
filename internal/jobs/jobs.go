// Package jobs runs the periodic maintenance tasks of the server.
package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

type Scheduler struct {
	log   *zap.Logger
	tasks []Task
	wg    sync.WaitGroup
}

func NewScheduler(log *zap.Logger, tasks ...Task) *Scheduler {
	return &Scheduler{log: log, tasks: tasks}
}

// Start launches one goroutine per task. Each task runs once immediately and
// then every Interval until ctx is cancelled. Tasks with no interval are skipped.
func (s *Scheduler) Start(ctx context.Context) {
	for _, task := range s.tasks {
		if task.Interval <= 0 || task.Run == nil {
			s.log.Warn("job disabled", zap.String("job", task.Name))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, task)
	}
}

// Wait blocks until every started task has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	s.runOnce(ctx, task)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", zap.String("job", task.Name), zap.Any("panic", r))
		}
	}()

	started := time.Now()
	n, err := task.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error("job failed", zap.String("job", task.Name), zap.Error(err))
		return
	}
	s.log.Info("job finished",
		zap.String("job", task.Name),
		zap.Int("affected", n),
		zap.Duration("took", time.Since(started)),
	)
}

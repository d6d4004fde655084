package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler runs a task on a fixed interval until stopped. Loops coordinate
// only through the store, so several schedulers (or several processes) can
// run side by side.
type Scheduler struct {
	name     string
	interval time.Duration
	task     func(context.Context)
	logger   *logrus.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewScheduler(name string, interval time.Duration, task func(context.Context), logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger,
	}
}

// Start launches the loop. The task runs once immediately, then on every
// tick. Returns false when the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(loopCtx)
	return true
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	<-s.done
	s.running = false
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"scheduler": s.name,
		"interval":  s.interval,
	}).Info("Scheduler started")

	s.safeTick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.WithField("scheduler", s.name).Info("Scheduler stopping")
			return
		case <-ticker.C:
			s.safeTick(ctx)
		}
	}
}

// safeTick keeps a panicking task from killing the loop.
func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"scheduler": s.name,
				"panic":     r,
			}).Error("Scheduler tick panic recovered")
		}
	}()

	s.task(ctx)
}

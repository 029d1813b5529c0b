package cron

import (
	"context"
	"errors"
	"sync"
)

type runner interface {
	Run(ctx context.Context) error
}

// Scheduler owns the background loop of a Service. Start and Stop are safe
// to call repeatedly and from several goroutines.
type Scheduler struct {
	runner runner

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler wraps svc in a start/stop handle.
func NewScheduler(svc runner) (*Scheduler, error) {
	if svc == nil {
		return nil, errors.New("cron service required")
	}
	return &Scheduler{runner: svc}, nil
}

// Start launches the loop unless it is already running. The loop lives until
// Stop is called or parent is canceled. It reports the running state.
func (s *Scheduler) Start(parent context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return true
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go func() {
		defer close(done)
		_ = s.runner.Run(ctx)
		// a canceled parent ends the loop without Stop
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		cancel()
	}()
	return true
}

// Stop cancels the loop and waits for the in-flight cycle to return. It
// reports the running state after the call, which is always false.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return false
}

// Running reports whether the loop is live: started, not stopped, and its
// parent context not canceled.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

package engine

import (
	"context"
	"sync"
	"time"
)

// Scheduler debounces and serializes sync runs. At most one outbound
// request is in flight per table; edits arriving meanwhile collapse into a
// single follow-up run after the in-flight request settles.
type Scheduler struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	inFlight bool
	pending  bool
	run      func(context.Context)
}

func NewScheduler(delay time.Duration, run func(context.Context)) *Scheduler {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Scheduler{delay: delay, run: run}
}

// Schedule (re)arms the debounce timer. Each call pushes the pending run
// out by the full delay.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, func() {
		s.RunNow(context.Background())
	})
}

// RunNow executes a sync run immediately, or coalesces it into the
// in-flight one. When the in-flight run settles and a run was requested
// meanwhile, exactly one drain run follows.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.mu.Lock()
	if s.inFlight {
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	s.run(ctx)

	s.mu.Lock()
	s.inFlight = false
	again := s.pending
	s.pending = false
	s.mu.Unlock()

	if again {
		s.RunNow(ctx)
	}
}

// Stop cancels any armed debounce timer. In-flight runs are not cancelled;
// a settled stale response is still safe because reconciliation is
// idempotent and timestamp-gated.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

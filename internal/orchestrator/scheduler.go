package orchestrator

import (
	"context"
	"sync"
	"time"

	"videogen/internal/telemetry"
)

// Outcome tells the scheduler what to do with a job's timer after a
// reconciliation pass.
type Outcome int

const (
	// OutcomeContinue re-arms the timer at the base interval.
	OutcomeContinue Outcome = iota
	// OutcomeTerminal cancels the timer; the job needs no further polling.
	OutcomeTerminal
	// OutcomeRetryBackoff re-arms with capped exponential backoff, used after
	// transport errors so repeated failures don't hammer the vendor.
	OutcomeRetryBackoff
)

// ReconcileFunc runs one reconciliation pass for a job.
type ReconcileFunc func(ctx context.Context, jobID string, verbose bool) Outcome

// Scheduler keeps one timer per active job and runs reconciliation callbacks
// on a bounded worker pool. Callbacks for the same job are serialized through
// a per-job lock; different jobs reconcile fully in parallel.
//
// Timers are in-memory only. The persisted job status is the source of truth
// for "should this job still be polled"; Resume re-arms timers from the store
// after a restart.
type Scheduler struct {
	interval   time.Duration
	backoffMax time.Duration
	reconcile  ReconcileFunc

	sem     chan struct{}
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*jobEntry
	locks   map[string]*jobLock
	closed  bool
}

type jobEntry struct {
	timer *time.Timer
	fails int
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

// NewScheduler builds a scheduler; reconcile is invoked for every tick.
func NewScheduler(interval, backoffMax time.Duration, workers int, reconcile ReconcileFunc) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if backoffMax < interval {
		backoffMax = interval
	}
	if workers <= 0 {
		workers = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		interval:   interval,
		backoffMax: backoffMax,
		reconcile:  reconcile,
		sem:        make(chan struct{}, workers),
		baseCtx:    ctx,
		cancel:     cancel,
		entries:    make(map[string]*jobEntry),
		locks:      make(map[string]*jobLock),
	}
}

// Schedule arms the recurring timer for a job. Scheduling an already-armed
// job is a no-op.
func (s *Scheduler) Schedule(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.entries[jobID]; ok {
		return
	}
	e := &jobEntry{}
	e.timer = time.AfterFunc(s.interval, func() { s.tick(jobID) })
	s.entries[jobID] = e
	telemetry.ActiveTimers.Inc()
}

// IsScheduled reports whether a timer is armed for the job.
func (s *Scheduler) IsScheduled(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[jobID]
	return ok
}

// Cancel disarms the job's timer. An in-flight tick for the job finishes its
// provider call but finds no entry to re-arm; its writes are fenced by the
// store re-read under the job lock.
func (s *Scheduler) Cancel(jobID string) {
	s.mu.Lock()
	e, ok := s.entries[jobID]
	if ok {
		e.timer.Stop()
		delete(s.entries, jobID)
	}
	s.mu.Unlock()
	if ok {
		telemetry.ActiveTimers.Dec()
	}
}

// RunNow executes a reconciliation pass immediately, bypassing the timer,
// serialized against any concurrent tick for the same job.
func (s *Scheduler) RunNow(jobID string, verbose bool) Outcome {
	unlock := s.lockJob(jobID)
	defer unlock()
	return s.reconcile(s.baseCtx, jobID, verbose)
}

// LockJob serializes an external read-modify-write (such as delete) against
// reconciliation of the same job. The returned function releases the lock.
func (s *Scheduler) LockJob(jobID string) func() {
	return s.lockJob(jobID)
}

// Shutdown stops all timers and waits for in-flight ticks to drain. Their
// provider calls are cancelled through the scheduler context.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
		telemetry.ActiveTimers.Dec()
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) tick(jobID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
	case <-s.baseCtx.Done():
		return
	}
	defer func() { <-s.sem }()

	unlock := s.lockJob(jobID)
	defer unlock()

	// Re-check after waiting on the pool and the job lock; the job may have
	// been cancelled or completed by a forced check in the meantime.
	s.mu.Lock()
	_, armed := s.entries[jobID]
	s.mu.Unlock()
	if !armed {
		return
	}

	outcome := s.reconcile(s.baseCtx, jobID, false)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[jobID]
	if !ok || s.closed {
		return
	}
	switch outcome {
	case OutcomeTerminal:
		e.timer.Stop()
		delete(s.entries, jobID)
		telemetry.ActiveTimers.Dec()
	case OutcomeRetryBackoff:
		e.fails++
		e.timer.Reset(backoffDelay(s.interval, s.backoffMax, e.fails))
	default:
		e.fails = 0
		e.timer.Reset(s.interval)
	}
}

func (s *Scheduler) lockJob(jobID string) func() {
	s.mu.Lock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &jobLock{}
		s.locks[jobID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, jobID)
		}
		s.mu.Unlock()
	}
}

func backoffDelay(base, max time.Duration, fails int) time.Duration {
	d := base
	for i := 1; i < fails; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

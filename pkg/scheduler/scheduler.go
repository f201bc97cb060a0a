// Package scheduler decides, before every remote call, whether the call may
// proceed, must wait for the quota window to refill, or must not happen at
// all for the rest of the task.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	errs "threadcrawl/pkg/errors"
	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/retry"
)

// Mode is the budget policy of a task. It is fixed for the task's lifetime.
type Mode int

const (
	// Full waits out every quota exhaustion.
	Full Mode = iota
	// BurstEnd stops issuing calls once the quota is exhausted.
	BurstEnd
	// BurstSleep waits out exhaustion within a single invocation.
	BurstSleep
)

func (m Mode) String() string {
	switch m {
	case Full:
		return "full"
	case BurstEnd:
		return "burst_end"
	case BurstSleep:
		return "burst_sleep"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses the String form of a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "full":
		return Full, nil
	case "burst_end":
		return BurstEnd, nil
	case "burst_sleep":
		return BurstSleep, nil
	default:
		return Full, fmt.Errorf("unknown budget mode %q", s)
	}
}

// Action is the outcome of Admit.
type Action int

const (
	ActionAdmit Action = iota
	ActionWait
	ActionTerminate
)

func (a Action) String() string {
	switch a {
	case ActionAdmit:
		return "admit"
	case ActionWait:
		return "wait"
	default:
		return "terminate"
	}
}

// Decision is returned by Admit. Wait is set for ActionWait only.
type Decision struct {
	Action Action
	Wait   time.Duration

	// quota state the decision was made on
	free     int
	refillIn time.Duration
}

// Quota is the shared request ledger.
type Quota interface {
	Remaining() (int, time.Duration)
	Commit(n int) error
}

// Observer is notified of scheduling events.
type Observer interface {
	Admitted()
	Waited(d time.Duration)
	Terminated()
}

const (
	DefaultSafetyMargin = 100 * time.Millisecond
	DefaultCommitEvery  = 50
)

// Scheduler applies one Mode to one task. Usage admitted but not yet
// committed counts against the ledger's remaining quota.
type Scheduler struct {
	quota       Quota
	mode        Mode
	margin      time.Duration
	commitEvery int
	spread      bool
	sleep       func(context.Context, time.Duration) error
	now         func() time.Time
	log         logger.Logger
	observer    Observer

	mu         sync.Mutex
	pending    int
	spent      int
	terminated bool
	// nextSlot is the earliest start of the next spread call.
	nextSlot time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSafetyMargin is added to the ledger's refill time on Wait.
func WithSafetyMargin(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.margin = d
		}
	}
}

// WithCommitEvery sets how many admitted calls accumulate before they are
// committed to the ledger.
func WithCommitEvery(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.commitEvery = n
		}
	}
}

// WithSpread makes Full mode space admitted calls evenly over the time
// left until the quota refills, refillIn / remaining apart. Concurrent
// callers share the spacing. Other modes are unaffected.
func WithSpread(on bool) Option {
	return func(s *Scheduler) { s.spread = on }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSleep replaces the context-aware sleep, for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// New creates a scheduler for one task.
func New(quota Quota, mode Mode, opts ...Option) *Scheduler {
	s := &Scheduler{
		quota:       quota,
		mode:        mode,
		margin:      DefaultSafetyMargin,
		commitEvery: DefaultCommitEvery,
		sleep:       retry.Wait,
		now:         time.Now,
		log:         logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode returns the task's budget policy.
func (s *Scheduler) Mode() Mode { return s.mode }

// Admit decides whether one more call may be issued now. Once it has
// returned Terminate it always does, without consulting the ledger.
func (s *Scheduler) Admit() Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitLocked()
}

func (s *Scheduler) admitLocked() Decision {
	if s.terminated {
		return Decision{Action: ActionTerminate}
	}

	left, refillIn := s.quota.Remaining()
	if free := left - s.pending; free > 0 {
		return Decision{Action: ActionAdmit, free: free, refillIn: refillIn}
	}

	if err := s.flushLocked(); err != nil {
		s.log.WithError(err).Warn("Failed to flush usage on quota exhaustion")
	}

	if s.mode == BurstEnd {
		s.terminated = true
		return Decision{Action: ActionTerminate}
	}
	return Decision{Action: ActionWait, Wait: refillIn + s.margin}
}

// Acquire blocks until one call is admitted and records it as pending
// usage. It returns false once the task must stop issuing calls. Sleeping
// is cancellable through ctx.
func (s *Scheduler) Acquire(ctx context.Context) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, errs.Canceled(err)
		}

		s.mu.Lock()
		d := s.admitLocked()
		if d.Action == ActionAdmit {
			s.pending++
			s.spent++
			if s.pending >= s.commitEvery {
				if err := s.flushLocked(); err != nil {
					s.log.WithError(err).Warn("Failed to flush usage to ledger")
				}
			}
			pace := s.reserveSlotLocked(d)
			s.mu.Unlock()
			if s.observer != nil {
				s.observer.Admitted()
			}
			if pace > 0 {
				if err := s.sleep(ctx, pace); err != nil {
					return false, errs.Canceled(err)
				}
			}
			return true, nil
		}
		s.mu.Unlock()

		logger.LogQuota(d.Action.String(), 0, d.Wait)
		if d.Action == ActionTerminate {
			if s.observer != nil {
				s.observer.Terminated()
			}
			return false, nil
		}

		if s.observer != nil {
			s.observer.Waited(d.Wait)
		}
		if err := s.sleep(ctx, d.Wait); err != nil {
			return false, errs.Canceled(err)
		}
	}
}

// reserveSlotLocked returns how long an admitted call waits for its spread
// slot, and books the following slot.
func (s *Scheduler) reserveSlotLocked(d Decision) time.Duration {
	if !s.spread || s.mode != Full || d.free <= 0 {
		return 0
	}
	now := s.now()
	if s.nextSlot.Before(now) {
		s.nextSlot = now
	}
	wait := s.nextSlot.Sub(now)
	s.nextSlot = s.nextSlot.Add(d.refillIn / time.Duration(d.free))
	return wait
}

// Flush commits all pending usage to the ledger as one entry.
func (s *Scheduler) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Scheduler) flushLocked() error {
	if s.pending == 0 {
		return nil
	}
	if err := s.quota.Commit(s.pending); err != nil {
		return err
	}
	s.pending = 0
	return nil
}

// Spent returns the number of calls admitted during the task.
func (s *Scheduler) Spent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spent
}

// Pending returns admitted calls not yet committed to the ledger.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Terminated reports whether Terminate has been issued.
func (s *Scheduler) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

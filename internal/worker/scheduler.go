package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"salesync/internal/metrics"

	"github.com/rs/zerolog"
)

// ErrSchedulerDisposed is returned by TriggerNow after Dispose.
var ErrSchedulerDisposed = errors.New("scheduler disposed")

type SchedulerState int

const (
	StateIdle SchedulerState = iota
	StateScheduled
)

func (s SchedulerState) String() string {
	if s == StateScheduled {
		return "scheduled"
	}
	return "idle"
}

// Drainer runs one synchronization pass.
type Drainer interface {
	Drain(ctx context.Context) (DrainResult, error)
}

// Timer is the subset of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc arms a one-shot timer.
type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SchedulerSnapshot is a read-only view for status endpoints.
type SchedulerSnapshot struct {
	State        string        `json:"state"`
	Delay        time.Duration `json:"-"`
	DelaySeconds float64       `json:"delay_seconds"`
	Failures     int           `json:"failures"`
}

// Scheduler owns the backoff state of the foreground agent. A drain that
// leaves sales pending arms one timer; further failures while it is armed
// are ignored. A clean drain resets the delay to the floor.
type Scheduler struct {
	mu        sync.Mutex
	drainer   Drainer
	policy    RetryPolicy
	online    func() bool
	afterFunc AfterFunc
	logger    *zerolog.Logger

	state    SchedulerState
	failures int
	delay    time.Duration
	timer    Timer
	gen      uint64
	disposed bool

	ctx    context.Context
	cancel context.CancelFunc
}

type SchedulerOption func(*Scheduler)

// WithOnlineGate suppresses timer-driven drains while online() is false.
func WithOnlineGate(online func() bool) SchedulerOption {
	return func(s *Scheduler) { s.online = online }
}

func WithAfterFunc(f AfterFunc) SchedulerOption {
	return func(s *Scheduler) { s.afterFunc = f }
}

func NewScheduler(drainer Drainer, policy RetryPolicy, logger *zerolog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		drainer:   drainer,
		policy:    policy.withDefaults(),
		afterFunc: stdAfterFunc,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.delay = s.policy.NextDelay(1)
	return s
}

// TriggerNow cancels any armed timer and drains immediately.
func (s *Scheduler) TriggerNow(ctx context.Context) (DrainResult, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return DrainResult{}, ErrSchedulerDisposed
	}
	s.stopTimerLocked()
	s.mu.Unlock()

	return s.run(ctx)
}

// RequestDrain drains now unless a retry is already armed, in which case the
// armed timer keeps its delay and ran is false.
func (s *Scheduler) RequestDrain(ctx context.Context) (res DrainResult, ran bool, err error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return DrainResult{}, false, ErrSchedulerDisposed
	}
	if s.state == StateScheduled {
		s.mu.Unlock()
		return DrainResult{}, false, nil
	}
	s.mu.Unlock()

	res, err = s.run(ctx)
	return res, true, err
}

// OnDrainComplete applies the backoff rules to a finished drain.
func (s *Scheduler) OnDrainComplete(res DrainResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return
	}

	if err == nil && res.Pending == 0 {
		s.stopTimerLocked()
		s.failures = 0
		s.delay = s.policy.NextDelay(1)
		metrics.SetRetryDelay(0)
		return
	}

	if s.state == StateScheduled {
		return
	}

	d := s.delay
	s.gen++
	gen := s.gen
	s.timer = s.afterFunc(d, func() { s.fire(gen) })
	s.state = StateScheduled
	s.failures++
	s.delay = s.policy.NextDelay(s.failures + 1)
	metrics.SetRetryDelay(d)

	s.logger.Info().
		Dur("delay", d).
		Int("failures", s.failures).
		Int("pending", res.Pending).
		Msg("Retry scheduled")
}

// Reset returns to the floor delay and stops any armed timer.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.failures = 0
	s.delay = s.policy.NextDelay(1)
}

// Dispose resets the scheduler and refuses further scheduling.
func (s *Scheduler) Dispose() {
	s.Reset()
	s.mu.Lock()
	s.disposed = true
	s.mu.Unlock()
	s.cancel()
}

func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Delay is the delay the next failure will arm.
func (s *Scheduler) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

func (s *Scheduler) Snapshot() SchedulerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerSnapshot{
		State:        s.state.String(),
		Delay:        s.delay,
		DelaySeconds: s.delay.Seconds(),
		Failures:     s.failures,
	}
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.disposed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.timer = nil
	online := s.online
	s.mu.Unlock()

	if online != nil && !online() {
		s.logger.Info().Msg("Offline, retry drain suppressed")
		return
	}

	_, _ = s.run(s.ctx)
}

func (s *Scheduler) run(ctx context.Context) (DrainResult, error) {
	res, err := s.drainer.Drain(ctx)
	metrics.IncDrain(res.Outcome(err))
	if err != nil {
		s.logger.Error().Err(err).Msg("Drain failed")
	}
	s.OnDrainComplete(res, err)
	return res, err
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.state = StateIdle
}

package connectivity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"salesync/internal/domain"
	"salesync/internal/metrics"
	"salesync/internal/models"
	"salesync/internal/worker"

	"github.com/rs/zerolog"
)

// Trigger starts a drain bypassing backoff. *worker.Scheduler implements it.
type Trigger interface {
	TriggerNow(ctx context.Context) (worker.DrainResult, error)
}

type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// Monitor turns network transitions into drains, status events and
// background task registrations.
type Monitor struct {
	online   atomic.Bool
	trigger  Trigger
	store    PendingCounter
	registry domain.TaskRegistry
	tag      string
	status   domain.StatusPublisher
	logger   *zerolog.Logger
	hooks    []func(online bool)
	wg       sync.WaitGroup
}

type Option func(*Monitor)

// WithTaskRegistry enables background task registration on going offline.
func WithTaskRegistry(reg domain.TaskRegistry, tag string) Option {
	return func(m *Monitor) {
		m.registry = reg
		if tag != "" {
			m.tag = tag
		}
	}
}

func WithStatusPublisher(p domain.StatusPublisher) Option {
	return func(m *Monitor) { m.status = p }
}

// WithTransitionHook calls fn after every state change.
func WithTransitionHook(fn func(online bool)) Option {
	return func(m *Monitor) { m.hooks = append(m.hooks, fn) }
}

// WithInitialState sets the state assumed before the first transition.
// The default is online.
func WithInitialState(online bool) Option {
	return func(m *Monitor) { m.online.Store(online) }
}

func NewMonitor(trigger Trigger, store PendingCounter, logger *zerolog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	m := &Monitor{
		trigger: trigger,
		store:   store,
		tag:     models.BackgroundSyncTag,
		logger:  logger,
	}
	m.online.Store(true)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

// PendingCount reports how many sales are still waiting for delivery.
func (m *Monitor) PendingCount(ctx context.Context) (int, error) {
	return m.store.CountPending(ctx)
}

// SetOnline applies a platform connectivity event. Repeating the current
// state is ignored.
func (m *Monitor) SetOnline(ctx context.Context, online bool) error {
	if m.online.Swap(online) == online {
		return nil
	}
	for _, hook := range m.hooks {
		hook(online)
	}

	if online {
		m.logger.Info().Msg("Network is back, starting sync")
		m.publish(models.StatusSuccess, "In sync", 0)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if _, err := m.trigger.TriggerNow(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn().Err(err).Msg("Drain after reconnect failed")
			}
		}()
		return nil
	}

	pending, err := m.store.CountPending(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to count pending sales")
		m.publish(models.StatusError, "Offline, sales queue is unavailable", 0)
		return fmt.Errorf("count pending: %w", err)
	}

	m.logger.Warn().Int("pending", pending).Msg("Network lost")
	m.publish(models.StatusWarn, fmt.Sprintf("Offline, %d sale(s) saved locally", pending), pending)

	if m.registry == nil || pending == 0 {
		return nil
	}
	added, err := m.registry.Register(ctx, m.tag)
	if err != nil {
		return fmt.Errorf("register background task %s: %w", m.tag, err)
	}
	if added {
		metrics.IncBackgroundTask()
		m.logger.Info().Str("tag", m.tag).Msg("Background sync task registered")
	}
	return nil
}

// Wait blocks until drains started by reconnects have finished.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) publish(statusType, message string, pending int) {
	if m.status == nil {
		return
	}
	if err := m.status.PublishStatus(statusType, message, pending); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to publish status")
	}
}

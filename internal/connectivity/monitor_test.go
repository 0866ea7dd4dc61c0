package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"salesync/internal/events"
	"salesync/internal/models"
	"salesync/internal/repository"
	"salesync/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTrigger struct {
	calls atomic.Int32
}

func (c *countingTrigger) TriggerNow(_ context.Context) (worker.DrainResult, error) {
	c.calls.Add(1)
	return worker.DrainResult{}, nil
}

type fixedCounter struct {
	n   int
	err error
}

func (f fixedCounter) CountPending(_ context.Context) (int, error) {
	return f.n, f.err
}

type recordingRegistry struct {
	*repository.MemoryTaskRegistry
	mu    sync.Mutex
	calls int
	added int
}

func newRecordingRegistry() *recordingRegistry {
	return &recordingRegistry{MemoryTaskRegistry: repository.NewMemoryTaskRegistry()}
}

func (r *recordingRegistry) Register(ctx context.Context, tag string) (bool, error) {
	added, err := r.MemoryTaskRegistry.Register(ctx, tag)
	r.mu.Lock()
	r.calls++
	if added {
		r.added++
	}
	r.mu.Unlock()
	return added, err
}

func TestMonitor_OfflineRegistersTaskOnce(t *testing.T) {
	reg := newRecordingRegistry()
	trigger := &countingTrigger{}
	m := NewMonitor(trigger, fixedCounter{n: 1}, nil, WithTaskRegistry(reg, ""))
	ctx := context.Background()

	require.NoError(t, m.SetOnline(ctx, false))
	require.NoError(t, m.SetOnline(ctx, false))
	assert.Equal(t, 1, reg.calls)
	assert.Equal(t, 1, reg.added)

	ok, err := reg.IsRegistered(ctx, models.BackgroundSyncTag)
	require.NoError(t, err)
	assert.True(t, ok)

	// a full reconnect cycle does not add a second registration
	require.NoError(t, m.SetOnline(ctx, true))
	require.NoError(t, m.SetOnline(ctx, false))
	m.Wait()
	assert.Equal(t, 2, reg.calls)
	assert.Equal(t, 1, reg.added)
}

func TestMonitor_OfflineWithoutPendingSkipsRegistration(t *testing.T) {
	reg := newRecordingRegistry()
	m := NewMonitor(&countingTrigger{}, fixedCounter{n: 0}, nil, WithTaskRegistry(reg, "custom"))

	require.NoError(t, m.SetOnline(context.Background(), false))
	assert.Zero(t, reg.calls)
	assert.False(t, m.Online())
}

func TestMonitor_ReconnectTriggersDrain(t *testing.T) {
	trigger := &countingTrigger{}
	bus := events.NewEventBus()
	var rec events.StatusRecorder
	rec.Attach(bus)

	m := NewMonitor(trigger, fixedCounter{n: 3}, nil, WithInitialState(false), WithStatusPublisher(bus))
	require.NoError(t, m.SetOnline(context.Background(), true))
	m.Wait()

	assert.Equal(t, int32(1), trigger.calls.Load())
	assert.True(t, m.Online())

	st, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, models.StatusSuccess, st.Type)

	// already online: nothing happens
	require.NoError(t, m.SetOnline(context.Background(), true))
	m.Wait()
	assert.Equal(t, int32(1), trigger.calls.Load())
}

func TestMonitor_TransitionHook(t *testing.T) {
	var seen []bool
	m := NewMonitor(&countingTrigger{}, fixedCounter{}, nil, WithTransitionHook(func(online bool) {
		seen = append(seen, online)
	}))
	ctx := context.Background()

	require.NoError(t, m.SetOnline(ctx, true))
	require.NoError(t, m.SetOnline(ctx, false))
	require.NoError(t, m.SetOnline(ctx, true))
	m.Wait()

	assert.Equal(t, []bool{false, true}, seen)
}

func TestMonitor_OfflineStatus(t *testing.T) {
	bus := events.NewEventBus()
	var rec events.StatusRecorder
	rec.Attach(bus)

	m := NewMonitor(&countingTrigger{}, fixedCounter{n: 2}, nil, WithStatusPublisher(bus))
	require.NoError(t, m.SetOnline(context.Background(), false))

	st, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, models.StatusWarn, st.Type)
	assert.Equal(t, 2, st.Pending)

	n, err := m.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMonitor_CountFailure(t *testing.T) {
	reg := newRecordingRegistry()
	m := NewMonitor(&countingTrigger{}, fixedCounter{err: assert.AnError}, nil, WithTaskRegistry(reg, ""))

	err := m.SetOnline(context.Background(), false)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, reg.calls)
}

package worker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.timers))
	for i, t := range c.timers {
		out[i] = t.d
	}
	return out
}

type scriptedDrainer struct {
	pending atomic.Int32
	calls   atomic.Int32
}

func (d *scriptedDrainer) Drain(_ context.Context) (DrainResult, error) {
	d.calls.Add(1)
	p := int(d.pending.Load())
	return DrainResult{Attempted: p, Failed: p, Pending: p}, nil
}

func newTestScheduler(d Drainer, opts ...SchedulerOption) (*Scheduler, *fakeClock) {
	clock := &fakeClock{}
	opts = append([]SchedulerOption{WithAfterFunc(clock.AfterFunc)}, opts...)
	return NewScheduler(d, RetryPolicy{}, nil, opts...), clock
}

func TestRetryPolicy_NextDelay(t *testing.T) {
	p := RetryPolicy{FloorDelay: 5 * time.Second, MaxDelay: 300 * time.Second, BackoffFactor: 2}

	assert.Equal(t, 5*time.Second, p.NextDelay(0))
	assert.Equal(t, 5*time.Second, p.NextDelay(1))
	assert.Equal(t, 10*time.Second, p.NextDelay(2))
	assert.Equal(t, 20*time.Second, p.NextDelay(3))
	assert.Equal(t, 160*time.Second, p.NextDelay(6))
	assert.Equal(t, 300*time.Second, p.NextDelay(7))
	assert.Equal(t, 300*time.Second, p.NextDelay(1000))
}

func TestScheduler_BackoffSequence(t *testing.T) {
	d := &scriptedDrainer{}
	d.pending.Store(1)
	s, clock := newTestScheduler(d)

	_, err := s.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateScheduled, s.State())

	clock.last().f()
	clock.last().f()

	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, clock.delays())
	assert.Equal(t, int32(3), d.calls.Load())

	var prev time.Duration
	for i := 0; i < 10; i++ {
		clock.last().f()
		cur := clock.last().d
		assert.GreaterOrEqual(t, cur, prev)
		assert.LessOrEqual(t, cur, 300*time.Second)
		prev = cur
	}
	assert.Equal(t, 300*time.Second, prev)

	d.pending.Store(0)
	clock.last().f()
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 5*time.Second, s.Delay())
	assert.Equal(t, 0, s.Snapshot().Failures)
}

func TestScheduler_NoOpWhileScheduled(t *testing.T) {
	d := &scriptedDrainer{}
	s, clock := newTestScheduler(d)

	s.OnDrainComplete(DrainResult{Pending: 2}, nil)
	s.OnDrainComplete(DrainResult{Pending: 2}, nil)
	s.OnDrainComplete(DrainResult{Pending: 1}, nil)

	assert.Len(t, clock.delays(), 1)
	assert.Equal(t, StateScheduled, s.State())
	assert.Equal(t, 10*time.Second, s.Delay())
}

func TestScheduler_TriggerNowBypassesBackoff(t *testing.T) {
	d := &scriptedDrainer{}
	d.pending.Store(1)
	s, clock := newTestScheduler(d)

	s.OnDrainComplete(DrainResult{Pending: 1}, nil)
	armed := clock.last()

	d.pending.Store(0)
	res, err := s.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Pending)
	assert.True(t, armed.stopped)
	assert.Equal(t, StateIdle, s.State())

	// a stale callback does nothing
	armed.f()
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestScheduler_RequestDrainLeavesArmedTimer(t *testing.T) {
	d := &scriptedDrainer{}
	d.pending.Store(1)
	s, clock := newTestScheduler(d)

	_, ran, err := s.RequestDrain(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	armed := clock.last()

	for i := 0; i < 4; i++ {
		_, ran, err = s.RequestDrain(context.Background())
		require.NoError(t, err)
		assert.False(t, ran)
	}

	assert.Equal(t, int32(1), d.calls.Load())
	assert.False(t, armed.stopped)
	assert.Equal(t, []time.Duration{5 * time.Second}, clock.delays())
	assert.Equal(t, 10*time.Second, s.Delay())

	// once the timer fires the next request drains again
	d.pending.Store(0)
	armed.f()
	_, ran, err = s.RequestDrain(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(3), d.calls.Load())
}

func TestScheduler_SnapshotDelaySeconds(t *testing.T) {
	s, _ := newTestScheduler(&scriptedDrainer{})
	s.OnDrainComplete(DrainResult{Pending: 1}, nil)

	raw, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"scheduled","delay_seconds":10,"failures":1}`, string(raw))
}

func TestScheduler_OfflineSuppressesTimerDrain(t *testing.T) {
	d := &scriptedDrainer{}
	var online atomic.Bool
	s, clock := newTestScheduler(d, WithOnlineGate(online.Load))

	s.OnDrainComplete(DrainResult{Pending: 1}, nil)
	clock.last().f()

	assert.Zero(t, d.calls.Load())
	assert.Equal(t, StateIdle, s.State())
	assert.Len(t, clock.delays(), 1)
}

func TestScheduler_ErrorSchedulesRetry(t *testing.T) {
	s, clock := newTestScheduler(&scriptedDrainer{})

	s.OnDrainComplete(DrainResult{}, assert.AnError)
	assert.Equal(t, StateScheduled, s.State())
	assert.Equal(t, 5*time.Second, clock.last().d)
}

func TestScheduler_ResetAndDispose(t *testing.T) {
	d := &scriptedDrainer{}
	s, clock := newTestScheduler(d)

	s.OnDrainComplete(DrainResult{Pending: 1}, nil)
	s.Reset()
	assert.True(t, clock.last().stopped)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 5*time.Second, s.Delay())

	s.Dispose()
	s.OnDrainComplete(DrainResult{Pending: 1}, nil)
	assert.Len(t, clock.delays(), 1)

	_, err := s.TriggerNow(context.Background())
	assert.ErrorIs(t, err, ErrSchedulerDisposed)
	assert.Zero(t, d.calls.Load())
}

func TestScheduler_RealTimer(t *testing.T) {
	d := &scriptedDrainer{}
	d.pending.Store(1)
	s := NewScheduler(d, RetryPolicy{FloorDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond, BackoffFactor: 2}, nil)
	defer s.Dispose()

	_, err := s.TriggerNow(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return d.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

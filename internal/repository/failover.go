package repository

import (
	"context"
	"sync/atomic"
	"time"

	"salesync/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

type FailoverTaskRegistry struct {
	primary   domain.TaskRegistry
	fallback  domain.TaskRegistry
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverTaskRegistry(primary, fallback domain.TaskRegistry, logger *zerolog.Logger) *FailoverTaskRegistry {
	return &FailoverTaskRegistry{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverTaskRegistry) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary task registry failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(r.now().UnixNano())
}

// usePrimary reports whether the primary should be tried, probing it again
// once the recovery interval has passed.
func (r *FailoverTaskRegistry) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	last := time.Unix(0, r.lastCheck.Load())
	if r.now().Sub(last) > recoveryInterval {
		r.lastCheck.Store(r.now().UnixNano())
		return true
	}
	return false
}

func (r *FailoverTaskRegistry) recovered() {
	if r.isDown.CompareAndSwap(true, false) {
		r.logger.Info().Msg("Primary task registry recovered")
	}
}

func (r *FailoverTaskRegistry) Register(ctx context.Context, tag string) (bool, error) {
	if r.usePrimary() {
		added, err := r.primary.Register(ctx, tag)
		if err == nil {
			r.recovered()
			return added, nil
		}
		r.markDown(err)
	}

	return r.fallback.Register(ctx, tag)
}

func (r *FailoverTaskRegistry) Unregister(ctx context.Context, tag string) error {
	// the tag may live in either store
	fbErr := r.fallback.Unregister(ctx, tag)
	if r.usePrimary() {
		err := r.primary.Unregister(ctx, tag)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return fbErr
}

func (r *FailoverTaskRegistry) IsRegistered(ctx context.Context, tag string) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.IsRegistered(ctx, tag)
		if err == nil {
			r.recovered()
			if ok {
				return true, nil
			}
			return r.fallback.IsRegistered(ctx, tag)
		}
		r.markDown(err)
	}

	return r.fallback.IsRegistered(ctx, tag)
}

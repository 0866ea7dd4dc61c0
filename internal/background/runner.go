package background

import (
	"context"
	"time"

	"salesync/internal/domain"
	"salesync/internal/models"

	"github.com/rs/zerolog"
)

// ProbeFunc reports whether the network is reachable.
type ProbeFunc func(ctx context.Context) bool

// Runner plays the platform role for the background handler: it waits for
// the task tag to be registered and the network to be up, then runs it.
type Runner struct {
	handler  *Handler
	registry domain.TaskRegistry
	probe    ProbeFunc
	tag      string
	interval time.Duration
	logger   *zerolog.Logger
}

func NewRunner(handler *Handler, registry domain.TaskRegistry, probe ProbeFunc, tag string, interval time.Duration, logger *zerolog.Logger) *Runner {
	if tag == "" {
		tag = models.BackgroundSyncTag
	}
	if interval <= 0 {
		interval = models.DefaultBackgroundPoll
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if probe == nil {
		probe = func(context.Context) bool { return true }
	}
	return &Runner{
		handler:  handler,
		registry: registry,
		probe:    probe,
		tag:      tag,
		interval: interval,
		logger:   logger,
	}
}

// Start polls until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info().Str("tag", r.tag).Dur("interval", r.interval).Msg("Background runner started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Tick(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Background run failed, will retry")
		}
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Background runner stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick runs the handler once if the task is registered and the network is
// up. It reports whether the handler ran. The tag is removed only after a
// fully successful run.
func (r *Runner) Tick(ctx context.Context) (bool, error) {
	registered, err := r.registry.IsRegistered(ctx, r.tag)
	if err != nil {
		return false, err
	}
	if !registered || !r.probe(ctx) {
		return false, nil
	}

	if _, err := r.handler.Run(ctx); err != nil {
		return true, err
	}

	if err := r.registry.Unregister(ctx, r.tag); err != nil {
		return true, err
	}
	r.logger.Info().Str("tag", r.tag).Msg("Background sync task completed")
	return true, nil
}

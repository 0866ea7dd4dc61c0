package background

import (
	"context"
	"fmt"

	"salesync/internal/channel"
	"salesync/internal/domain"
	"salesync/internal/events"
	"salesync/internal/metrics"
	"salesync/internal/worker"

	"github.com/rs/zerolog"
)

// Handler delivers pending sales to the authoritative channel from a
// separate process. It keeps no backoff state: a failed run returns an
// error and the caller runs it again later.
type Handler struct {
	store         domain.SaleStore
	authoritative channel.SyncChannel
	logger        *zerolog.Logger
}

func NewHandler(store domain.SaleStore, authoritative channel.SyncChannel, logger *zerolog.Logger) *Handler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Handler{
		store:         store,
		authoritative: authoritative,
		logger:        logger,
	}
}

func (h *Handler) Run(ctx context.Context) (worker.DrainResult, error) {
	var res worker.DrainResult

	pending, err := h.store.ListPending(ctx)
	if err != nil {
		return res, fmt.Errorf("list pending: %w", err)
	}

	for i := range pending {
		rec := &pending[i]
		res.Attempted++

		event, err := events.BuildSaleEvent(rec)
		if err != nil {
			h.logger.Error().Err(err).Str("id_global", rec.IDGlobal).Msg("Failed to build sale event")
			res.Failed++
			continue
		}

		_, pushErr := h.authoritative.Push(ctx, channel.Delivery{Event: event, Record: rec})
		metrics.IncChannelPush(h.authoritative.Name(), pushErr == nil)

		errMsg := ""
		if pushErr != nil {
			errMsg = pushErr.Error()
		}
		if err := h.store.RecordAttempt(ctx, rec.IDGlobal, pushErr == nil, false, errMsg); err != nil {
			h.logger.Warn().Err(err).Str("id_global", rec.IDGlobal).Msg("Failed to record attempt")
		}

		if pushErr != nil {
			h.logger.Warn().Err(pushErr).Str("id_global", rec.IDGlobal).Msg("Background push failed")
			res.Failed++
			res.AuthoritativeFailures++
			continue
		}

		if err := h.store.MarkSynced(ctx, rec.IDGlobal); err != nil {
			h.logger.Error().Err(err).Str("id_global", rec.IDGlobal).Msg("Failed to mark sale synced")
			res.Failed++
			continue
		}
		res.Synced++
	}

	res.Pending = res.Failed
	h.logger.Info().
		Int("attempted", res.Attempted).
		Int("synced", res.Synced).
		Int("failed", res.Failed).
		Msg("Background sync finished")

	if res.Failed > 0 {
		return res, fmt.Errorf("background sync: %d of %d sales not delivered", res.Failed, res.Attempted)
	}
	return res, nil
}

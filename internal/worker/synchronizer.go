package worker

import (
	"context"
	"fmt"
	"strings"

	"salesync/internal/channel"
	"salesync/internal/domain"
	"salesync/internal/events"
	"salesync/internal/metrics"
	"salesync/internal/models"

	"github.com/rs/zerolog"
)

// Drain outcomes used as metric labels.
const (
	OutcomeClean   = "clean"
	OutcomePartial = "pending"
	OutcomeError   = "error"
)

// DrainResult summarizes one pass over the pending queue.
type DrainResult struct {
	Attempted             int `json:"attempted"`
	Synced                int `json:"synced"`
	Failed                int `json:"failed"`
	Pending               int `json:"pending"`
	AuthoritativeFailures int `json:"authoritative_failures"`
	MirrorFailures        int `json:"mirror_failures"`
}

// Outcome classifies the result for metrics and backoff.
func (r DrainResult) Outcome(err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case r.Pending > 0:
		return OutcomePartial
	default:
		return OutcomeClean
	}
}

// Synchronizer pushes every pending sale to the authoritative channel and
// then to the mirror. A sale acked by either is marked synced.
type Synchronizer struct {
	store         domain.SaleStore
	authoritative channel.SyncChannel
	mirror        channel.SyncChannel
	ingestion     channel.SyncChannel
	status        domain.StatusPublisher
	logger        *zerolog.Logger
}

type SynchronizerOption func(*Synchronizer)

// WithIngestion forwards the envelope of each synced sale to ch.
func WithIngestion(ch channel.SyncChannel) SynchronizerOption {
	return func(s *Synchronizer) { s.ingestion = ch }
}

func WithStatusPublisher(p domain.StatusPublisher) SynchronizerOption {
	return func(s *Synchronizer) { s.status = p }
}

func NewSynchronizer(store domain.SaleStore, authoritative, mirror channel.SyncChannel, logger *zerolog.Logger, opts ...SynchronizerOption) *Synchronizer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &Synchronizer{
		store:         store,
		authoritative: authoritative,
		mirror:        mirror,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Drain processes the current pending set once. Per-record failures never
// stop the loop; the returned error is only for failures to read the queue
// or a cancelled context.
func (s *Synchronizer) Drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult

	pending, err := s.store.ListPending(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list pending sales")
		s.publish(models.StatusError, "Sales queue is unavailable", 0)
		return res, fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		metrics.SetPending(0)
		return res, nil
	}

	for i := range pending {
		if err := ctx.Err(); err != nil {
			res.Pending = len(pending) - res.Synced
			return res, err
		}
		rec := &pending[i]
		res.Attempted++
		if s.syncRecord(ctx, rec, &res) {
			res.Synced++
		} else {
			res.Failed++
		}
	}

	remaining, err := s.store.CountPending(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to count pending after drain")
		remaining = res.Failed
	}
	res.Pending = remaining
	metrics.SetPending(remaining)

	s.logger.Info().
		Int("attempted", res.Attempted).
		Int("synced", res.Synced).
		Int("failed", res.Failed).
		Int("pending", res.Pending).
		Int("authoritative_failures", res.AuthoritativeFailures).
		Int("mirror_failures", res.MirrorFailures).
		Msg("Drain finished")

	if res.Pending == 0 {
		s.publish(models.StatusSuccess, "All sales are in sync", 0)
	} else {
		s.publish(models.StatusWarn, fmt.Sprintf("%d sale(s) waiting for sync, will retry", res.Pending), res.Pending)
	}

	return res, nil
}

func (s *Synchronizer) syncRecord(ctx context.Context, rec *models.PendingSaleRecord, res *DrainResult) bool {
	log := s.logger.With().Str("id_global", rec.IDGlobal).Logger()

	event, err := events.BuildSaleEvent(rec)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build sale event")
		s.recordAttempt(ctx, rec.IDGlobal, false, false, err.Error())
		return false
	}
	d := channel.Delivery{Event: event, Record: rec}

	var errs []string
	authOK := s.push(ctx, s.authoritative, d, &log, &errs)
	if !authOK {
		res.AuthoritativeFailures++
	}
	mirrorOK := s.push(ctx, s.mirror, d, &log, &errs)
	if !mirrorOK {
		res.MirrorFailures++
	}

	s.recordAttempt(ctx, rec.IDGlobal, authOK, mirrorOK, strings.Join(errs, "; "))

	if !authOK && !mirrorOK {
		return false
	}

	if err := s.store.MarkSynced(ctx, rec.IDGlobal); err != nil {
		log.Error().Err(err).Msg("Failed to mark sale synced")
		return false
	}
	if !authOK {
		log.Warn().Msg("Sale synced through mirror only")
	}

	s.forward(ctx, d, &log)
	return true
}

func (s *Synchronizer) push(ctx context.Context, ch channel.SyncChannel, d channel.Delivery, log *zerolog.Logger, errs *[]string) bool {
	if ch == nil {
		return false
	}
	ack, err := ch.Push(ctx, d)
	metrics.IncChannelPush(ch.Name(), err == nil)
	if err != nil {
		*errs = append(*errs, err.Error())
		ev := log.Warn().Err(err).Str("channel", ch.Name())
		if channel.IsPermanent(err) {
			ev = ev.Bool("rejected", true)
		}
		ev.Msg("Push failed")
		return false
	}
	log.Debug().
		Str("channel", ch.Name()).
		Str("remote_id", ack.RemoteID).
		Bool("duplicate", ack.Duplicate).
		Msg("Push acknowledged")
	return true
}

func (s *Synchronizer) forward(ctx context.Context, d channel.Delivery, log *zerolog.Logger) {
	if s.ingestion == nil {
		return
	}
	_, err := s.ingestion.Push(ctx, d)
	metrics.IncChannelPush(s.ingestion.Name(), err == nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to forward sale event")
	}
}

func (s *Synchronizer) recordAttempt(ctx context.Context, id string, authOK, mirrorOK bool, errMsg string) {
	if err := s.store.RecordAttempt(ctx, id, authOK, mirrorOK, errMsg); err != nil {
		s.logger.Warn().Err(err).Str("id_global", id).Msg("Failed to record sync attempt")
	}
}

func (s *Synchronizer) publish(statusType, message string, pending int) {
	if s.status == nil {
		return
	}
	if err := s.status.PublishStatus(statusType, message, pending); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish sync status")
	}
}

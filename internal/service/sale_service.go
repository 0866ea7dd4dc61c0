package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"salesync/internal/database"
	"salesync/internal/domain"
	"salesync/internal/events"
	"salesync/internal/metrics"
	"salesync/internal/models"
	"salesync/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidSale marks a sale rejected before it reaches the store.
var ErrInvalidSale = errors.New("invalid sale")

// DrainTrigger asks for a sync pass; an armed retry is left alone.
type DrainTrigger interface {
	RequestDrain(ctx context.Context) (worker.DrainResult, bool, error)
}

// Confirmation is returned once a sale is durably queued.
type Confirmation struct {
	Record *models.PendingSaleRecord
	Event  *models.SyncEvent
}

type SaleService struct {
	store    domain.SaleStore
	eventBus domain.EventPublisher
	trigger  DrainTrigger
	online   func() bool
	tenant   string
	prefix   string
	now      func() time.Time
	logger   *zerolog.Logger
	wg       sync.WaitGroup
}

type Option func(*SaleService)

func WithEventPublisher(p domain.EventPublisher) Option {
	return func(s *SaleService) { s.eventBus = p }
}

// WithDrainTrigger requests a drain after each confirmed sale while online()
// is true. A pending retry timer is not reset.
func WithDrainTrigger(t DrainTrigger, online func() bool) Option {
	return func(s *SaleService) {
		s.trigger = t
		s.online = online
	}
}

func NewSaleService(store domain.SaleStore, tenant, prefix string, logger *zerolog.Logger, opts ...Option) *SaleService {
	if prefix == "" {
		prefix = models.DefaultSaleIDPrefix
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &SaleService{
		store:  store,
		tenant: tenant,
		prefix: prefix,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSaleID builds an id_global: prefix, UTC date and a random suffix.
func NewSaleID(prefix string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:models.SaleIDSuffixLen]
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("20060102"), suffix)
}

func ValidateSale(rec *models.PendingSaleRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: empty sale", ErrInvalidSale)
	}
	if len(rec.Items) == 0 {
		return fmt.Errorf("%w: sale has no items", ErrInvalidSale)
	}
	for i, item := range rec.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d has non-positive quantity", ErrInvalidSale, i)
		}
		if item.UnitPriceUSD < 0 {
			return fmt.Errorf("%w: item %d has negative price", ErrInvalidSale, i)
		}
	}
	if rec.ExchangeRate < 0 {
		return fmt.Errorf("%w: negative exchange rate", ErrInvalidSale)
	}
	if rec.IsCredit && rec.CreditDays < 0 {
		return fmt.Errorf("%w: negative credit days", ErrInvalidSale)
	}
	return nil
}

// ConfirmSale queues a sale for delivery. The sale counts as confirmed only
// when this returns without error; network delivery happens later.
func (s *SaleService) ConfirmSale(ctx context.Context, rec *models.PendingSaleRecord) (*Confirmation, error) {
	if err := ValidateSale(rec); err != nil {
		metrics.IncEnqueued("invalid")
		return nil, err
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.IDGlobal == "" {
		rec.IDGlobal = NewSaleID(s.prefix, rec.CreatedAt)
	}
	if rec.TenantID == "" {
		rec.TenantID = s.tenant
	}
	rec.Sync = false

	event, err := events.BuildSaleEvent(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSale, err)
	}

	if err := s.store.Enqueue(ctx, rec); err != nil {
		if errors.Is(err, database.ErrDuplicateKey) {
			metrics.IncEnqueued("duplicate")
		} else {
			metrics.IncEnqueued("error")
		}
		s.logger.Error().Err(err).Str("id_global", rec.IDGlobal).Msg("Failed to queue sale")
		return nil, err
	}
	metrics.IncEnqueued("ok")

	s.logger.Info().
		Str("id_global", rec.IDGlobal).
		Float64("total_usd", event.Payload.TotalUSD).
		Float64("total_bs", event.Payload.TotalBs).
		Msg("Sale queued")

	if s.eventBus != nil {
		if err := s.eventBus.PublishJSON(events.EventSaleEnqueued, event); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish sale event")
		}
	}

	if s.trigger != nil && (s.online == nil || s.online()) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, _, err := s.trigger.RequestDrain(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn().Err(err).Msg("Drain after sale failed")
			}
		}()
	}

	return &Confirmation{Record: rec, Event: event}, nil
}

// Wait blocks until drains started by ConfirmSale have finished.
func (s *SaleService) Wait() {
	s.wg.Wait()
}

// PendingCount reports the number of sales waiting for delivery.
func (s *SaleService) PendingCount(ctx context.Context) (int, error) {
	return s.store.CountPending(ctx)
}

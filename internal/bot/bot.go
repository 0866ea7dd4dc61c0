package bot

import (
	"context"
	"time"

	"salesync/internal/domain"
	"salesync/internal/models"
	"salesync/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type SyncController interface {
	TriggerNow(ctx context.Context) (worker.DrainResult, error)
	Snapshot() worker.SchedulerSnapshot
}

type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

type StatusSource interface {
	Last() (models.StatusEvent, bool)
}

type UnreconciledExporter interface {
	ExportUnreconciled(ctx context.Context) (string, int, error)
}

// Deps are what the operator commands read and drive.
type Deps struct {
	Sync   SyncController
	Store  PendingCounter
	Status StatusSource
	Export UnreconciledExporter
	Online func() bool
}

// Bot answers operator commands in the configured chats. Messages from
// other chats are ignored.
type Bot struct {
	tgService domain.TelegramService
	chats     map[int64]struct{}
	deps      Deps
	metrics   *Metrics
	logger    *zerolog.Logger
}

func NewBot(tgService domain.TelegramService, chatIDs []int64, deps Deps, metrics *Metrics, logger *zerolog.Logger) *Bot {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	chats := make(map[int64]struct{}, len(chatIDs))
	for _, id := range chatIDs {
		chats[id] = struct{}{}
	}

	return &Bot{
		tgService: tgService,
		chats:     chats,
		deps:      deps,
		metrics:   metrics,
		logger:    logger,
	}
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tgService.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tgService.GetSelf().UserName).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			b.tgService.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	defer func() {
		if b.metrics != nil {
			b.metrics.UpdateProcessingTime.Observe(time.Since(start).Seconds())
		}
	}()

	// drain с медленными каналами укладывается в этот таймаут
	updateCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	l := b.logger.With().Str("request_id", uuid.New().String()).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(func() {
		msg := update.Message
		if msg == nil || !msg.IsCommand() {
			return
		}
		if _, ok := b.chats[msg.Chat.ID]; !ok {
			l.Warn().Int64("chat_id", msg.Chat.ID).Msg("Command from unknown chat ignored")
			return
		}
		b.handleCommand(updateCtx, msg)
	})
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.tgService.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send reply")
	}
}

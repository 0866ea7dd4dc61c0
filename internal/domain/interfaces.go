package domain

import (
	"context"

	"salesync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SaleStore is the durable local queue shared by the foreground agent and
// the background handler.
type SaleStore interface {
	Enqueue(ctx context.Context, rec *models.PendingSaleRecord) error
	ListPending(ctx context.Context) ([]models.PendingSaleRecord, error)
	MarkSynced(ctx context.Context, idGlobal string) error
	CountPending(ctx context.Context) (int, error)
	RecordAttempt(ctx context.Context, idGlobal string, authoritativeOK, mirrorOK bool, errMsg string) error
}

// TaskRegistry stands in for the platform's background task scheduler.
// Register reports whether the tag was newly added.
type TaskRegistry interface {
	Register(ctx context.Context, tag string) (bool, error)
	Unregister(ctx context.Context, tag string) error
	IsRegistered(ctx context.Context, tag string) (bool, error)
}

type StatusPublisher interface {
	PublishStatus(statusType, message string, pending int) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramService is the part of the Bot API the operator bot polls with.
type TelegramService interface {
	TelegramSender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

package notify

import (
	"fmt"
	"sync"

	"salesync/internal/domain"
	"salesync/internal/events"
	"salesync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramNotifier forwards warn and error sync statuses to operator chats.
// Repeats of the last sent status are dropped.
type TelegramNotifier struct {
	bot     domain.TelegramSender
	chatIDs []int64
	logger  *zerolog.Logger

	mu   sync.Mutex
	last string
}

func NewTelegramNotifier(bot domain.TelegramSender, chatIDs []int64, logger *zerolog.Logger) *TelegramNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TelegramNotifier{
		bot:     bot,
		chatIDs: chatIDs,
		logger:  logger,
	}
}

func (n *TelegramNotifier) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventSyncStatus, n.handle)
}

func (n *TelegramNotifier) handle(event *events.Event) error {
	st, err := events.DecodeStatus(event)
	if err != nil {
		return err
	}
	return n.Notify(st)
}

// Notify sends st to every configured chat. Success statuses reset the
// repeat filter and are not sent.
func (n *TelegramNotifier) Notify(st models.StatusEvent) error {
	n.mu.Lock()
	if st.Type == models.StatusSuccess {
		n.last = ""
		n.mu.Unlock()
		return nil
	}
	key := st.Type + "|" + st.Message
	if key == n.last {
		n.mu.Unlock()
		return nil
	}
	n.last = key
	n.mu.Unlock()

	text := FormatStatus(st)
	var firstErr error
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send status to Telegram")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func FormatStatus(st models.StatusEvent) string {
	icon := "⚠️"
	if st.Type == models.StatusError {
		icon = "❌"
	}
	text := fmt.Sprintf("%s %s", icon, st.Message)
	if st.Pending > 0 {
		text += fmt.Sprintf("\nВ очереди: %d", st.Pending)
	}
	return text
}

package bot

import (
	"context"
	"fmt"
	"strings"

	"salesync/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const helpText = `Команды:
/status - состояние синхронизации
/pending - продажи в очереди
/sync - отправить очередь сейчас
/export - выгрузка продаж без подтверждения сервера`

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	command := msg.Command()
	if b.metrics != nil {
		b.metrics.CommandsProcessed.WithLabelValues(command).Inc()
	}
	zerolog.Ctx(ctx).Info().Str("command", command).Int64("chat_id", msg.Chat.ID).Msg("Operator command")

	switch command {
	case "start", "help":
		b.reply(msg.Chat.ID, helpText)
	case "status":
		b.handleStatus(ctx, msg.Chat.ID)
	case "pending":
		b.handlePending(ctx, msg.Chat.ID)
	case "sync":
		b.handleSync(ctx, msg.Chat.ID)
	case "export":
		b.handleExport(ctx, msg.Chat.ID)
	default:
		b.reply(msg.Chat.ID, "Неизвестная команда. /help")
	}
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	var sb strings.Builder

	online := b.deps.Online == nil || b.deps.Online()
	if online {
		sb.WriteString("🟢 Сеть доступна\n")
	} else {
		sb.WriteString("🔴 Нет сети\n")
	}

	if b.deps.Sync != nil {
		snap := b.deps.Sync.Snapshot()
		fmt.Fprintf(&sb, "Планировщик: %s, задержка %s, неудач подряд %d\n", snap.State, snap.Delay, snap.Failures)
	}

	if b.deps.Status != nil {
		if st, ok := b.deps.Status.Last(); ok {
			sb.WriteString(notify.FormatStatus(st))
			sb.WriteString("\n")
		}
	}

	if n, err := b.countPending(ctx); err == nil {
		fmt.Fprintf(&sb, "В очереди: %d", n)
	}

	b.reply(chatID, strings.TrimSpace(sb.String()))
}

func (b *Bot) handlePending(ctx context.Context, chatID int64) {
	n, err := b.countPending(ctx)
	if err != nil {
		b.reply(chatID, "❌ Локальное хранилище недоступно")
		return
	}
	if n == 0 {
		b.reply(chatID, "✅ Очередь пуста")
		return
	}
	b.reply(chatID, fmt.Sprintf("В очереди: %d", n))
}

func (b *Bot) handleSync(ctx context.Context, chatID int64) {
	if b.deps.Sync == nil {
		b.reply(chatID, "Синхронизация не настроена")
		return
	}
	res, err := b.deps.Sync.TriggerNow(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("❌ Ошибка синхронизации: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Отправлено: %d из %d\nВ очереди: %d", res.Synced, res.Attempted, res.Pending))
}

func (b *Bot) handleExport(ctx context.Context, chatID int64) {
	if b.deps.Export == nil {
		b.reply(chatID, "Выгрузка не настроена")
		return
	}
	path, rows, err := b.deps.Export.ExportUnreconciled(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Export failed")
		b.reply(chatID, "❌ Не удалось создать выгрузку")
		return
	}
	if rows == 0 {
		b.reply(chatID, "✅ Все продажи подтверждены сервером")
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = fmt.Sprintf("Продаж без подтверждения: %d", rows)
	if _, err := b.tgService.Send(doc); err != nil {
		b.logger.Error().Err(err).Str("path", path).Msg("Failed to send export")
	}
}

func (b *Bot) countPending(ctx context.Context) (int, error) {
	if b.deps.Store == nil {
		return 0, fmt.Errorf("store not configured")
	}
	return b.deps.Store.CountPending(ctx)
}

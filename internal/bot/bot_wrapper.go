package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// APIClient adapts *tgbotapi.BotAPI to domain.TelegramService.
type APIClient struct {
	*tgbotapi.BotAPI
}

func NewAPIClient(token string) (*APIClient, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &APIClient{BotAPI: api}, nil
}

func (c *APIClient) GetSelf() tgbotapi.User {
	return c.Self
}

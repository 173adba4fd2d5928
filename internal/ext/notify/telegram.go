package notify

import (
	"context"
	"encoding/json"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramConfig struct {
	BotToken string `json:"botToken"`
	ChatID   int64  `json:"chatId"`
}

type telegramSender struct {
	chatID int64
	bot    *tgbotapi.BotAPI
}

func newTelegramSender(raw json.RawMessage) (sender, error) {
	var cfg telegramConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("telegram: decode config: %w", err)
	}
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram: botToken and chatId are required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}
	return &telegramSender{chatID: cfg.ChatID, bot: bot}, nil
}

func (s *telegramSender) Send(ctx context.Context, subject, body string) error {
	msg := tgbotapi.NewMessage(s.chatID, fmt.Sprintf("%s\n\n%s", subject, body))
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

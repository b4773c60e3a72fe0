package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type TelegramNotifier struct {
	bot *tgbotapi.BotAPI
}

func NewTelegramNotifier(bot *tgbotapi.BotAPI) *TelegramNotifier {
	return &TelegramNotifier{bot: bot}
}

func (n *TelegramNotifier) Name() string {
	return "telegram"
}

// Notify sends Markdown, falling back to plain text when Telegram rejects the markup.
func (n *TelegramNotifier) Notify(ctx context.Context, message, recipient string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", recipient, err)
	}

	msg := tgbotapi.NewMessage(chatID, message)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		plain := tgbotapi.NewMessage(chatID, message)
		if _, retryErr := n.bot.Send(plain); retryErr != nil {
			return fmt.Errorf("send telegram message: %w", retryErr)
		}
	}
	return nil
}

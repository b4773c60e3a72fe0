package bot

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"price_tracker/models"
	"price_tracker/services"
)

// Fleet is the part of the tracking engine the bot drives directly.
type Fleet interface {
	TrackAll(ctx context.Context) (models.RunStatus, error)
	IsPaused() bool
}

// Bot is the Telegram front-end. Only the configured chat is served.
type Bot struct {
	api      *tgbotapi.BotAPI
	chatID   int64
	products *services.ProductService
	fleet    Fleet
	currency string

	reply func(chatID int64, text string)
	wg    sync.WaitGroup
}

func Init(token string, client *http.Client) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN not configured")
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	api.Debug = false
	log.Printf("Bot authorized as %s", api.Self.UserName)
	return api, nil
}

func New(api *tgbotapi.BotAPI, chatID int64, products *services.ProductService, fleet Fleet, currency string) *Bot {
	b := &Bot{
		api:      api,
		chatID:   chatID,
		products: products,
		fleet:    fleet,
		currency: currency,
	}
	b.reply = b.send
	return b
}

// Run consumes updates until ctx is cancelled, then waits for background
// work started by commands.
func (b *Bot) Run(ctx context.Context) {
	defer b.wg.Wait()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	log.Println("Bot listening for commands")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			b.HandleMessage(ctx, update.Message.Chat.ID, update.Message.Text)
		}
	}
}

// HandleMessage routes one chat message. Messages from other chats are
// dropped without a reply.
func (b *Bot) HandleMessage(ctx context.Context, chatID int64, text string) {
	if chatID != b.chatID {
		log.Printf("Ignoring message from unauthorized chat %d", chatID)
		return
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return
	}

	command := strings.ToLower(parts[0])
	if idx := strings.Index(command, "@"); idx > 0 {
		command = command[:idx]
	}
	args := parts[1:]

	switch command {
	case "/start", "/help":
		b.reply(chatID, helpText)
	case "/list":
		b.reply(chatID, b.handleList(ctx))
	case "/add":
		b.handleAdd(ctx, chatID, args)
	case "/target":
		b.reply(chatID, b.handleTarget(ctx, args))
	case "/delete":
		b.reply(chatID, b.handleDelete(ctx, args))
	case "/update":
		b.handleUpdate(ctx, chatID, args)
	case "/updateall":
		b.handleUpdateAll(ctx, chatID)
	case "/status":
		b.reply(chatID, b.handleStatus(ctx))
	default:
		b.reply(chatID, "Unknown command. Use /help to see what I can do.")
	}
}

// background runs fn off the update loop; the reply goes out when fn
// finishes. Cancelling ctx cuts a fleet run short at its next pacing wait.
func (b *Bot) background(ctx context.Context, chatID int64, fn func(ctx context.Context) string) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.reply(chatID, fn(ctx))
	}()
}

// Wait blocks until background work started by commands has replied.
func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Error sending reply: %v", err)
		msg.ParseMode = ""
		b.api.Send(msg)
	}
}

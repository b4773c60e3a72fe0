package notify

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
	"price_tracker/config"
)

type EmailNotifier struct {
	cfg    config.EmailConfig
	dialer *gomail.Dialer
}

func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
	}
}

func (n *EmailNotifier) Name() string {
	return "email"
}

func (n *EmailNotifier) Notify(ctx context.Context, message, recipient string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := n.buildMessage(message, recipient)
	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email to %s: %w", recipient, err)
	}
	return nil
}

func (n *EmailNotifier) buildMessage(message, recipient string) *gomail.Message {
	from := n.cfg.From
	if from == "" {
		from = n.cfg.User
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", subjectFor(message))
	m.SetBody("text/plain", plainText(message))
	return m
}

// subjectFor uses the alert headline, e.g. "Target price reached!".
func subjectFor(message string) string {
	line, _, _ := strings.Cut(message, "\n")
	line = strings.TrimSpace(strings.ReplaceAll(line, "*", ""))
	if line == "" {
		return "Price tracker alert"
	}
	return line
}

// plainText strips the Markdown emphasis used for Telegram.
func plainText(message string) string {
	return strings.ReplaceAll(message, "*", "")
}

// Package alerts pushes operational notifications to a Telegram ops chat.
// A nil Notifier is valid and drops everything, so callers never need to
// check whether alerting is configured.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
)

type Notifier struct {
	bot    *bot.Bot
	chatID int64
}

// New connects the notifier. Returns nil (disabled) when token or chat id
// are unset.
func New(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create alerts bot: %w", err)
	}
	return &Notifier{bot: b, chatID: chatID}, nil
}

// Error reports a swallowed failure, typically a lost telemetry write.
func (n *Notifier) Error(operation string, err error) {
	if n == nil {
		return
	}
	msg := fmt.Sprintf("❌ *Error*\n\n*Operation:* %s\n*Error:* `%s`\n*Time:* %s",
		operation, err.Error(), time.Now().Format("2006-01-02 15:04:05"))
	n.send(msg)
}

func (n *Notifier) send(message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      message,
		ParseMode: "Markdown",
	})
	if err != nil {
		slog.Error("failed to send telegram alert", "error", err)
	}
}

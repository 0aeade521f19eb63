package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/okian/rally/internal/domain/drift"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// sender is the part of tgbotapi.BotAPI the notifier needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramOption configures a Telegram notifier.
type TelegramOption func(*Telegram)

// WithRetries sets the delivery attempts and the linear backoff base.
func WithRetries(maxRetries int, delay time.Duration) TelegramOption {
	return func(t *Telegram) {
		if maxRetries > 0 {
			t.maxRetries = maxRetries
		}
		if delay > 0 {
			t.retryDelay = delay
		}
	}
}

// Telegram posts drift alerts to a chat through the Bot API.
type Telegram struct {
	bot        sender
	chatID     int64
	maxRetries int
	retryDelay time.Duration
}

var _ Notifier = (*Telegram)(nil)

// NewTelegram authenticates the bot and returns a notifier for chatID.
func NewTelegram(botToken, chatID string, opts ...TelegramOption) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newTelegram(bot, chatID, opts...)
}

func newTelegram(bot sender, chatID string, opts ...TelegramOption) (*Telegram, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	t := &Telegram{
		bot:        bot,
		chatID:     id,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// NotifyDrift implements Notifier.
func (t *Telegram) NotifyDrift(ctx context.Context, s drift.Snapshot) error { //nolint:gocritic // hugeParam
	msg := tgbotapi.NewMessage(t.chatID, formatDrift(s))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return fmt.Errorf("send drift alert: %w", ctx.Err())
		case <-time.After(t.retryDelay * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed to send message after %d retries: %w", t.maxRetries, lastErr)
}

func formatDrift(s drift.Snapshot) string { //nolint:gocritic // hugeParam
	var b strings.Builder
	b.WriteString("*Prediction drift detected*\n\n")
	fmt.Fprintf(&b, "Config: `%s`\n", escapeMarkdownV2(s.ConfigID))
	fmt.Fprintf(&b, "Window: %s → %s\n",
		escapeMarkdownV2(s.Window.From.UTC().Format("2006-01-02")),
		escapeMarkdownV2(s.Window.To.UTC().Format("2006-01-02")))
	fmt.Fprintf(&b, "Samples: %d\n", s.SampleCount)
	fmt.Fprintf(&b, "Accuracy: *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.1f%%", s.MeanAccuracy*100)))
	fmt.Fprintf(&b, "Brier: *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.3f", s.MeanBrier)))
	fmt.Fprintf(&b, "Outliers: %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f%%", s.OutlierRate*100)))
	return b.String()
}

// escapeMarkdownV2 escapes the characters MarkdownV2 reserves.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

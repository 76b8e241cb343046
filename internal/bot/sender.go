package bot

import (
	"context"
	"fmt"
	"math"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/hray3182/remindbot/internal/format"
	"github.com/hray3182/remindbot/internal/logx"
)

// API is the subset of *tgbotapi.BotAPI used for outgoing messages.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender delivers messages through the Bot API, paced by a token bucket so
// bursts of reminders stay under Telegram's flood limits.
type Sender struct {
	api     API
	limiter *rate.Limiter
	log     logx.Logger
}

// NewSender paces sends at perSecond messages per second. A non-positive
// rate disables pacing.
func NewSender(api API, perSecond float64, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		// Burst = rate per sec, so short spikes don't block too hard.
		limiter = rate.NewLimiter(rate.Limit(perSecond), int(math.Max(1, perSecond)))
	}
	return &Sender{api: api, limiter: limiter, log: log}
}

// Send posts text to chatID with the given parse mode ("" for plain text).
func (s *Sender) Send(ctx context.Context, chatID int64, text, parseMode string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	msg := tgbotapi.NewMessage(chatID, format.Truncate(text, format.MaxMessageLen))
	msg.ParseMode = parseMode
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	return nil
}

// Reply answers msg in its chat as plain text. Failures are only logged.
func (s *Sender) Reply(ctx context.Context, msg *tgbotapi.Message, text string) {
	if err := s.Send(ctx, msg.Chat.ID, text, ""); err != nil {
		s.log.Warn("failed to send reply", logx.ChatID(msg.Chat.ID), logx.Err(err))
	}
}

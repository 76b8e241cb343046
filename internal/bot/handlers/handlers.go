package handlers

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hray3182/remindbot/internal/logx"
	"github.com/hray3182/remindbot/internal/models"
	"github.com/hray3182/remindbot/internal/reminders"
)

const failureText = "Sorry, something went wrong. Please try again later."

// Reminders is the engine behind /remind. *reminders.Service implements it.
type Reminders interface {
	Create(ctx context.Context, req reminders.CreateRequest) (*models.Reminder, error)
	Edit(ctx context.Context, chatID, reminderID int64, text string) (*models.Reminder, error)
	Delete(ctx context.Context, chatID, reminderID int64) error
	DeleteAll(ctx context.Context, chatID int64) (int, error)
	List(ctx context.Context, chatID int64) ([]*models.Reminder, error)
	Now() time.Time
}

// Asker answers /gpt questions. *ai.Client implements it.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Replier sends plain-text answers back to the chat a message came from.
type Replier interface {
	Reply(ctx context.Context, msg *tgbotapi.Message, text string)
}

type Handlers struct {
	reply     Replier
	reminders Reminders
	ai        Asker
	log       logx.Logger
}

// New builds the command handlers. ai may be nil, which disables /gpt.
func New(reply Replier, rem Reminders, ai Asker, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{
		reply:     reply,
		reminders: rem,
		ai:        ai,
		log:       log.With(logx.String("comp", "handlers")),
	}
}

func (h *Handlers) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		h.handleStart(ctx, msg)
	case "help":
		h.handleHelp(ctx, msg)
	case "remind":
		h.handleReminder(ctx, msg)
	case "gpt":
		h.handleGPT(ctx, msg)
	default:
		// Group chats see commands meant for other bots, so stay quiet there.
		if msg.Chat.IsPrivate() {
			h.reply.Reply(ctx, msg, "Unknown command. Use /help to see available commands.")
		}
	}
}

func (h *Handlers) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	name := "there"
	if msg.From != nil && msg.From.FirstName != "" {
		name = msg.From.FirstName
	}
	text := fmt.Sprintf(`👋 Hi %s!

I keep track of reminders for this chat. For example:
• /remind to buy milk every week
• /remind to call mom in 10 minutes
• /remind to pay rent on the first day of every month

Use /help to see all commands.`, name)
	h.reply.Reply(ctx, msg, text)
}

func (h *Handlers) handleHelp(ctx context.Context, msg *tgbotapi.Message) {
	text := "📖 Commands\n\n" + reminderUsage
	if h.ai != nil {
		text += "\n\n/gpt <question> - ask the language model"
	}
	h.reply.Reply(ctx, msg, text)
}

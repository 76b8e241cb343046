package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hray3182/remindbot/internal/format"
	"github.com/hray3182/remindbot/internal/logx"
	"github.com/hray3182/remindbot/internal/models"
	"github.com/hray3182/remindbot/internal/reminders"
)

const dueLayout = "02.01.2006 15:04"

const reminderUsage = `/remind to <text> - set a reminder
/remind list - show reminders in this chat
/remind delete <id> - delete a reminder
/remind delete all - delete every reminder in this chat
/remind edit <id> <text> - replace a reminder

Times: "at 14:30", "in 10 minutes", "every day", "every week", "every month",
"on the first day of every month", "on the last day of every month".`

func (h *Handlers) handleReminder(ctx context.Context, msg *tgbotapi.Message) {
	cmd, err := reminders.ParseCommand(msg.CommandArguments())
	if err != nil {
		if errors.Is(err, reminders.ErrInvalidID) {
			h.reply.Reply(ctx, msg, "Invalid ID.")
			return
		}
		h.reply.Reply(ctx, msg, "Usage:\n"+reminderUsage)
		return
	}

	chatID := msg.Chat.ID
	switch c := cmd.(type) {
	case reminders.CreateCommand:
		req := reminders.CreateRequest{Text: c.Text, ChatID: chatID}
		if msg.From != nil {
			req.UserID = msg.From.ID
			req.Mention = format.MentionMarkdownV2(msg.From.ID, format.DisplayName(msg.From))
		}
		reminder, err := h.reminders.Create(ctx, req)
		if err != nil {
			h.fail(ctx, msg, "create reminder", err)
			return
		}
		h.reply.Reply(ctx, msg, fmt.Sprintf("✅ Reminder set for %s.", reminder.NextExecution.Format(dueLayout)))

	case reminders.ListCommand:
		list, err := h.reminders.List(ctx, chatID)
		if err != nil {
			h.fail(ctx, msg, "list reminders", err)
			return
		}
		h.reply.Reply(ctx, msg, formatReminderList(list, h.reminders.Now()))

	case reminders.DeleteCommand:
		if c.All {
			if _, err := h.reminders.DeleteAll(ctx, chatID); err != nil {
				h.fail(ctx, msg, "delete reminders", err)
				return
			}
			h.reply.Reply(ctx, msg, "Deleted all reminders.")
			return
		}
		err := h.reminders.Delete(ctx, chatID, c.ID)
		switch {
		case errors.Is(err, reminders.ErrNotFound):
			h.reply.Reply(ctx, msg, "Invalid ID.")
		case err != nil:
			h.fail(ctx, msg, "delete reminder", err)
		default:
			h.reply.Reply(ctx, msg, fmt.Sprintf("Deleted reminder %d", c.ID))
		}

	case reminders.EditCommand:
		_, err := h.reminders.Edit(ctx, chatID, c.ID, c.Text)
		switch {
		case errors.Is(err, reminders.ErrNotFound):
			h.reply.Reply(ctx, msg, "Reminder not found.")
		case err != nil:
			h.fail(ctx, msg, "edit reminder", err)
		default:
			h.reply.Reply(ctx, msg, "Reminder updated.")
		}
	}
}

func (h *Handlers) fail(ctx context.Context, msg *tgbotapi.Message, op string, err error) {
	h.log.Error("failed to "+op, logx.ChatID(msg.Chat.ID), logx.Err(err))
	h.reply.Reply(ctx, msg, failureText)
}

// formatReminderList renders one block per reminder: a header with id, due
// time and kind, then the task.
func formatReminderList(list []*models.Reminder, now time.Time) string {
	if len(list) == 0 {
		return "No active reminders."
	}

	var sb strings.Builder
	for i, r := range list {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		due := "-"
		past := false
		if r.NextExecution != nil {
			due = r.NextExecution.In(now.Location()).Format(dueLayout)
			past = !r.NextExecution.After(now)
		}
		fmt.Fprintf(&sb, "ID:%d | %s | %s", r.ID, due, r.Kind())
		if past {
			sb.WriteString(" [past]")
		}
		sb.WriteString("\n")
		sb.WriteString(r.Task)
	}
	return sb.String()
}

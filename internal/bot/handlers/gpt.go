package handlers

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hray3182/remindbot/internal/logx"
)

func (h *Handlers) handleGPT(ctx context.Context, msg *tgbotapi.Message) {
	if h.ai == nil {
		h.reply.Reply(ctx, msg, "GPT is not configured.")
		return
	}
	question := strings.TrimSpace(msg.CommandArguments())
	if question == "" {
		h.reply.Reply(ctx, msg, "Please provide a question, e.g., /gpt What is the weather?")
		return
	}

	answer, err := h.ai.Ask(ctx, question)
	if err != nil {
		h.log.Error("failed to ask AI", logx.ChatID(msg.Chat.ID), logx.Err(err))
		h.reply.Reply(ctx, msg, "Sorry, I couldn't get an answer right now.")
		return
	}
	h.log.Debug("AI answered", logx.ChatID(msg.Chat.ID), logx.Int("len", len(answer)))
	h.reply.Reply(ctx, msg, answer)
}

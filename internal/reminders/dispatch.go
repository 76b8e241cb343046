package reminders

import (
	"context"
	"errors"

	"github.com/hray3182/remindbot/internal/format"
	"github.com/hray3182/remindbot/internal/logx"
	"github.com/hray3182/remindbot/internal/models"
	"github.com/hray3182/remindbot/internal/recurrence"
	"github.com/hray3182/remindbot/internal/repository"
)

const banner = "⏰ REMINDER: "

// Message renders the MarkdownV2 text delivered when reminder fires. One-time
// reminders in group chats address their owner; everything else gets the
// banner.
func Message(reminder *models.Reminder) string {
	task := format.EscapeMarkdownV2(reminder.Task)
	if reminder.IsGroupChat() && !reminder.IsRecurring() && reminder.MentionMarkup != "" {
		return reminder.MentionMarkup + ": " + task
	}
	return banner + task
}

// fire runs on the scheduler loop when a reminder's wake is due.
func (s *Service) fire(ctx context.Context, reminderID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.log.With(logx.ReminderID(reminderID))

	reminder, err := s.store.GetByID(ctx, reminderID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Debug("fired reminder no longer exists")
		return
	}
	if err != nil {
		s.metrics.StoreError("get")
		log.Error("failed to load fired reminder", logx.Err(err))
		return
	}

	s.deliver(ctx, reminder, log)
	s.metrics.Fired(reminder.Kind())

	if !reminder.IsRecurring() {
		if err := s.store.Delete(ctx, reminder.ID); err != nil {
			s.metrics.StoreError("delete")
			log.Error("failed to retire one-time reminder", logx.Err(err))
			return
		}
		s.metrics.SetArmed(s.sched.Len())
		log.Debug("one-time reminder retired")
		return
	}

	now := s.clock.Now()
	reminder.NextExecution = recurrence.Advance(recurrence.StateOf(reminder), now)
	if err := s.store.Update(ctx, reminder); err != nil {
		s.metrics.StoreError("update")
		log.Error("failed to reschedule reminder", logx.Err(err))
		return
	}
	s.arm(reminder, now)
	log.Debug("reminder rescheduled", logx.Time("next", *reminder.NextExecution))
}

// deliver sends the reminder message. Failures are logged and counted but
// never stop the reminder from being rescheduled.
func (s *Service) deliver(ctx context.Context, reminder *models.Reminder, log logx.Logger) {
	if s.sender == nil {
		return
	}
	if err := s.sender.Send(ctx, reminder.ChatID, Message(reminder), format.ModeMarkdownV2); err != nil {
		s.metrics.DeliveryFailed()
		log.Warn("failed to deliver reminder", logx.ChatID(reminder.ChatID), logx.Err(err))
	}
}

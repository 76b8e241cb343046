// Package reminders ties the parser, recurrence rules, store and scheduler
// together. Every operation, including fired wakes, runs under one lock so
// the engine behaves as a single event loop.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hray3182/remindbot/internal/clock"
	"github.com/hray3182/remindbot/internal/logx"
	"github.com/hray3182/remindbot/internal/metrics"
	"github.com/hray3182/remindbot/internal/models"
	"github.com/hray3182/remindbot/internal/parser"
	"github.com/hray3182/remindbot/internal/recurrence"
	"github.com/hray3182/remindbot/internal/repository"
	"github.com/hray3182/remindbot/internal/scheduler"
)

var (
	ErrNotFound  = errors.New("reminder not found")
	ErrInvalidID = errors.New("invalid reminder id")
	ErrUsage     = errors.New("invalid remind command")
)

// Epsilon is the shortest delay a wake is armed with.
const Epsilon = 10 * time.Millisecond

const keyPrefix = "reminder_"

// Store is the persistence the service needs. *repository.ReminderRepository
// implements it.
type Store interface {
	Create(ctx context.Context, reminder *models.Reminder) error
	Update(ctx context.Context, reminder *models.Reminder) error
	Delete(ctx context.Context, reminderID int64) error
	GetByID(ctx context.Context, reminderID int64) (*models.Reminder, error)
	ListAll(ctx context.Context) ([]*models.Reminder, error)
	ListByChat(ctx context.Context, chatID int64) ([]*models.Reminder, error)
}

// Scheduler arms keyed one-shot wakes. *scheduler.Scheduler implements it.
type Scheduler interface {
	Schedule(delay time.Duration, key string, fn scheduler.Func)
	Cancel(key string) bool
	Len() int
}

// Sender delivers a message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text, parseMode string) error
}

type Options struct {
	Store     Store
	Scheduler Scheduler
	Sender    Sender
	Clock     clock.Clock
	Logger    logx.Logger
	Metrics   *metrics.Metrics
}

type Service struct {
	store   Store
	sched   Scheduler
	sender  Sender
	clock   clock.Clock
	log     logx.Logger
	metrics *metrics.Metrics

	mu sync.Mutex
}

func New(opts Options) *Service {
	log := opts.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New(time.Local)
	}
	return &Service{
		store:   opts.Store,
		sched:   opts.Scheduler,
		sender:  opts.Sender,
		clock:   clk,
		log:     log.With(logx.String("comp", "reminders")),
		metrics: opts.Metrics,
	}
}

// Key is the scheduler key of a reminder's wake.
func Key(reminderID int64) string {
	return keyPrefix + strconv.FormatInt(reminderID, 10)
}

type CreateRequest struct {
	Text    string
	UserID  int64
	ChatID  int64
	Mention string // MarkdownV2 mention of the requesting user
}

// Create parses the request text, persists a new reminder and arms its wake.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Reminder, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrUsage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	reminder := &models.Reminder{
		OwnerUserID:   req.UserID,
		ChatID:        req.ChatID,
		MentionMarkup: req.Mention,
	}
	apply(reminder, parser.Parse(text), now)

	if err := s.store.Create(ctx, reminder); err != nil {
		s.metrics.StoreError("create")
		return nil, err
	}
	s.arm(reminder, now)
	s.log.Info("reminder created",
		logx.ReminderID(reminder.ID),
		logx.ChatID(reminder.ChatID),
		logx.String("kind", reminder.Kind()),
		logx.Time("next", *reminder.NextExecution),
	)
	return reminder, nil
}

// Edit reparses text into the reminder with id, replacing its task and
// schedule, and rearms it.
func (s *Service) Edit(ctx context.Context, chatID, reminderID int64, text string) (*models.Reminder, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrUsage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reminder, err := s.get(ctx, chatID, reminderID)
	if err != nil {
		return nil, err
	}

	// The old wake stays armed until the new schedule is persisted.
	now := s.clock.Now()
	apply(reminder, parser.Parse(text), now)
	if err := s.store.Update(ctx, reminder); err != nil {
		s.metrics.StoreError("update")
		if errors.Is(err, repository.ErrNotFound) {
			s.cancel(reminder.ID)
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.cancel(reminder.ID)
	s.arm(reminder, now)
	s.log.Info("reminder edited",
		logx.ReminderID(reminder.ID),
		logx.String("kind", reminder.Kind()),
		logx.Time("next", *reminder.NextExecution),
	)
	return reminder, nil
}

// Delete cancels and removes a reminder of the chat.
func (s *Service) Delete(ctx context.Context, chatID, reminderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder, err := s.get(ctx, chatID, reminderID)
	if err != nil {
		return err
	}
	armed := s.cancel(reminder.ID)
	if err := s.store.Delete(ctx, reminder.ID); err != nil {
		s.metrics.StoreError("delete")
		if armed {
			s.arm(reminder, s.clock.Now())
		}
		return err
	}
	s.log.Info("reminder deleted", logx.ReminderID(reminder.ID))
	return nil
}

// DeleteAll cancels and removes every reminder of the chat and returns how
// many were removed.
func (s *Service) DeleteAll(ctx context.Context, chatID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.store.ListByChat(ctx, chatID)
	if err != nil {
		s.metrics.StoreError("list")
		return 0, err
	}
	for i, reminder := range reminders {
		armed := s.cancel(reminder.ID)
		if err := s.store.Delete(ctx, reminder.ID); err != nil {
			s.metrics.StoreError("delete")
			if armed {
				s.arm(reminder, s.clock.Now())
			}
			return i, err
		}
	}
	s.log.Info("reminders deleted", logx.ChatID(chatID), logx.Int("count", len(reminders)))
	return len(reminders), nil
}

func (s *Service) List(ctx context.Context, chatID int64) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.store.ListByChat(ctx, chatID)
	if err != nil {
		s.metrics.StoreError("list")
		return nil, err
	}
	return reminders, nil
}

// Restore arms a wake for every stored reminder that is still due in the
// future. Reminders whose time passed while the process was down are left as
// they are. It returns the number of wakes armed.
func (s *Service) Restore(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.store.ListAll(ctx)
	if err != nil {
		s.metrics.StoreError("list")
		return 0, fmt.Errorf("failed to load reminders: %w", err)
	}

	now := s.clock.Now()
	armed := 0
	for _, reminder := range reminders {
		if reminder.NextExecution == nil || !reminder.NextExecution.After(now) {
			s.log.Debug("stale reminder not armed", logx.ReminderID(reminder.ID))
			continue
		}
		s.arm(reminder, now)
		armed++
	}
	s.log.Info("reminders restored", logx.Int("armed", armed), logx.Int("total", len(reminders)))
	return armed, nil
}

// Now is the service clock's current time.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

func (s *Service) get(ctx context.Context, chatID, reminderID int64) (*models.Reminder, error) {
	reminder, err := s.store.GetByID(ctx, reminderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.metrics.StoreError("get")
		return nil, err
	}
	if reminder.ChatID != chatID {
		return nil, ErrNotFound
	}
	return reminder, nil
}

// apply writes the parsed intent and its first fire time into reminder.
func apply(reminder *models.Reminder, intent parser.Intent, now time.Time) {
	next := recurrence.Initial(intent, now)
	reminder.Task = intent.Task
	reminder.Frequency = intent.Frequency
	reminder.DateModifier = intent.DateModifier
	reminder.Delay = intent.Delay
	reminder.NextExecution = &next
}

func (s *Service) arm(reminder *models.Reminder, now time.Time) {
	delay := reminder.NextExecution.Sub(now)
	if delay < Epsilon {
		delay = Epsilon
	}
	id := reminder.ID
	s.sched.Schedule(delay, Key(id), func(ctx context.Context) {
		s.fire(ctx, id)
	})
	s.metrics.SetArmed(s.sched.Len())
}

// cancel drops the reminder's pending wake and reports whether it had one.
func (s *Service) cancel(reminderID int64) bool {
	if !s.sched.Cancel(Key(reminderID)) {
		return false
	}
	s.metrics.SetArmed(s.sched.Len())
	return true
}

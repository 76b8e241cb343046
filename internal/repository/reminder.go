package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hray3182/remindbot/internal/database"
	"github.com/hray3182/remindbot/internal/models"
)

var (
	ErrNotFound             = errors.New("reminder not found")
	ErrMissingNextExecution = errors.New("reminder has no next execution time")
)

const reminderColumns = `id, task, frequency, delay, date_modifier, next_execution, owner_user_id, chat_id, mention_markup`

// Accepted layouts for next_execution, newest first. Values without an offset
// are read in the repository's location.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ReminderRepository persists reminders and keeps an in-memory mirror of the
// table that is refreshed after every operation. The mirror backs Cached and
// never serves reads of the other methods, which always query the database.
type ReminderRepository struct {
	db  *database.DB
	loc *time.Location

	mu    sync.RWMutex
	cache []*models.Reminder
}

func NewReminderRepository(db *database.DB, loc *time.Location) *ReminderRepository {
	if loc == nil {
		loc = time.Local
	}
	return &ReminderRepository{db: db, loc: loc}
}

// Load fills the cache from the database.
func (r *ReminderRepository) Load(ctx context.Context) error {
	return r.refresh(ctx)
}

func (r *ReminderRepository) Create(ctx context.Context, reminder *models.Reminder) error {
	if reminder.NextExecution == nil {
		return ErrMissingNextExecution
	}
	err := r.db.WithConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, r.db.Rebind(
			`INSERT INTO reminders (task, frequency, delay, date_modifier, next_execution, owner_user_id, chat_id, mention_markup)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 RETURNING id`),
			reminder.Task, nullString(string(reminder.Frequency)), delayValue(reminder.Delay),
			nullString(string(reminder.DateModifier)), formatTime(reminder.NextExecution),
			reminder.OwnerUserID, reminder.ChatID, nullString(reminder.MentionMarkup),
		).Scan(&reminder.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	r.syncCache(ctx, func(cache []*models.Reminder) []*models.Reminder {
		return append(cache, reminder)
	})
	return nil
}

// Update replaces every column of the reminder with the given id.
func (r *ReminderRepository) Update(ctx context.Context, reminder *models.Reminder) error {
	if reminder.NextExecution == nil {
		return ErrMissingNextExecution
	}
	var affected int64
	err := r.db.WithConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, r.db.Rebind(
			`UPDATE reminders SET task = ?, frequency = ?, delay = ?, date_modifier = ?, next_execution = ?,
			 owner_user_id = ?, chat_id = ?, mention_markup = ?
			 WHERE id = ?`),
			reminder.Task, nullString(string(reminder.Frequency)), delayValue(reminder.Delay),
			nullString(string(reminder.DateModifier)), formatTime(reminder.NextExecution),
			reminder.OwnerUserID, reminder.ChatID, nullString(reminder.MentionMarkup),
			reminder.ID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update reminder %d: %w", reminder.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("update reminder %d: %w", reminder.ID, ErrNotFound)
	}
	r.syncCache(ctx, func(cache []*models.Reminder) []*models.Reminder {
		for i, cached := range cache {
			if cached.ID == reminder.ID {
				cache[i] = reminder
			}
		}
		return cache
	})
	return nil
}

// Delete removes the reminder. Deleting a missing id is not an error.
func (r *ReminderRepository) Delete(ctx context.Context, reminderID int64) error {
	err := r.db.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, r.db.Rebind(`DELETE FROM reminders WHERE id = ?`), reminderID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete reminder %d: %w", reminderID, err)
	}
	r.syncCache(ctx, func(cache []*models.Reminder) []*models.Reminder {
		out := cache[:0]
		for _, cached := range cache {
			if cached.ID != reminderID {
				out = append(out, cached)
			}
		}
		return out
	})
	return nil
}

func (r *ReminderRepository) GetByID(ctx context.Context, reminderID int64) (*models.Reminder, error) {
	var reminder *models.Reminder
	err := r.db.WithConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, r.db.Rebind(`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`), reminderID)
		var err error
		reminder, err = r.scan(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder %d: %w", reminderID, err)
	}
	return reminder, nil
}

// ListAll returns every reminder in insertion order.
func (r *ReminderRepository) ListAll(ctx context.Context) ([]*models.Reminder, error) {
	reminders, err := r.query(ctx, `SELECT `+reminderColumns+` FROM reminders ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	r.setCache(reminders)
	return reminders, nil
}

// ListByChat returns the chat's reminders in insertion order.
func (r *ReminderRepository) ListByChat(ctx context.Context, chatID int64) ([]*models.Reminder, error) {
	reminders, err := r.query(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE chat_id = ? ORDER BY id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders for chat %d: %w", chatID, err)
	}
	return reminders, nil
}

// Cached returns copies of the mirrored reminders as of the last operation,
// for readers that must not touch the database such as metrics scrapes.
func (r *ReminderRepository) Cached() []models.Reminder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Reminder, len(r.cache))
	for i, reminder := range r.cache {
		out[i] = *reminder
	}
	return out
}

func (r *ReminderRepository) refresh(ctx context.Context) error {
	reminders, err := r.query(ctx, `SELECT `+reminderColumns+` FROM reminders ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("failed to refresh reminder cache: %w", err)
	}
	r.setCache(reminders)
	return nil
}

// syncCache reloads the cache after a committed write. When the reload fails the
// write is applied to the cached copy instead; the write itself succeeded and
// is not reported as failed.
func (r *ReminderRepository) syncCache(ctx context.Context, patch func([]*models.Reminder) []*models.Reminder) {
	if err := r.refresh(ctx); err == nil {
		return
	}
	r.mu.RLock()
	cache := make([]*models.Reminder, len(r.cache))
	copy(cache, r.cache)
	r.mu.RUnlock()
	r.setCache(patch(cache))
}

func (r *ReminderRepository) setCache(reminders []*models.Reminder) {
	cache := make([]*models.Reminder, len(reminders))
	for i, reminder := range reminders {
		cp := *reminder
		cache[i] = &cp
	}
	r.mu.Lock()
	r.cache = cache
	r.mu.Unlock()
}

func (r *ReminderRepository) query(ctx context.Context, query string, args ...any) ([]*models.Reminder, error) {
	var reminders []*models.Reminder
	err := r.db.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, r.db.Rebind(query), args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			reminder, err := r.scan(rows)
			if err != nil {
				return err
			}
			reminders = append(reminders, reminder)
		}
		return rows.Err()
	})
	return reminders, err
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *ReminderRepository) scan(row scanner) (*models.Reminder, error) {
	var reminder models.Reminder
	var frequency, delay, modifier, nextExec, mention sql.NullString
	if err := row.Scan(&reminder.ID, &reminder.Task, &frequency, &delay, &modifier, &nextExec,
		&reminder.OwnerUserID, &reminder.ChatID, &mention); err != nil {
		return nil, err
	}

	reminder.Frequency = models.Frequency(frequency.String)
	reminder.DateModifier = models.DateModifier(modifier.String)
	reminder.MentionMarkup = mention.String
	if delay.Valid && delay.String != "" {
		d, err := models.ParseDelay(delay.String)
		if err != nil {
			return nil, fmt.Errorf("reminder %d: %w", reminder.ID, err)
		}
		reminder.Delay = d
	}
	if nextExec.Valid && nextExec.String != "" {
		t, err := r.parseTime(nextExec.String)
		if err != nil {
			return nil, fmt.Errorf("reminder %d: %w", reminder.ID, err)
		}
		reminder.NextExecution = &t
	}
	return &reminder, nil
}

func (r *ReminderRepository) parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, r.loc); err == nil {
			return t.In(r.loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid next_execution %q", s)
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func delayValue(d *models.Delay) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

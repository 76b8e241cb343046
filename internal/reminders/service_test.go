package reminders

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/remindbot/internal/clock"
	"github.com/hray3182/remindbot/internal/database"
	"github.com/hray3182/remindbot/internal/logx"
	"github.com/hray3182/remindbot/internal/metrics"
	"github.com/hray3182/remindbot/internal/models"
	"github.com/hray3182/remindbot/internal/repository"
	"github.com/hray3182/remindbot/internal/scheduler"
)

var kyiv = time.FixedZone("EET", 2*60*60)

type fakeWake struct {
	delay time.Duration
	fn    scheduler.Func
}

type fakeScheduler struct {
	mu       sync.Mutex
	wakes    map[string]fakeWake
	canceled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{wakes: map[string]fakeWake{}}
}

func (f *fakeScheduler) Schedule(delay time.Duration, key string, fn scheduler.Func) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakes[key] = fakeWake{delay: delay, fn: fn}
}

func (f *fakeScheduler) Cancel(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.wakes[key]
	delete(f.wakes, key)
	f.canceled = append(f.canceled, key)
	return ok
}

func (f *fakeScheduler) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.wakes)
}

func (f *fakeScheduler) pending(key string) (fakeWake, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wakes[key]
	return w, ok
}

func (f *fakeScheduler) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.wakes))
	for k := range f.wakes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fire runs the wake for key the way the scheduler loop would.
func (f *fakeScheduler) fire(t *testing.T, key string) {
	t.Helper()
	f.mu.Lock()
	w, ok := f.wakes[key]
	delete(f.wakes, key)
	f.mu.Unlock()
	require.True(t, ok, "no wake for %s", key)
	w.fn(context.Background())
}

type sent struct {
	chatID    int64
	text      string
	parseMode string
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text, parseMode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{chatID: chatID, text: text, parseMode: parseMode})
	return f.err
}

func (f *fakeSender) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

// failingStore wraps a Store and fails writes while the matching error is set.
type failingStore struct {
	Store
	updateErr error
	deleteErr error
}

func (s *failingStore) Update(ctx context.Context, reminder *models.Reminder) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.Store.Update(ctx, reminder)
}

func (s *failingStore) Delete(ctx context.Context, reminderID int64) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Store.Delete(ctx, reminderID)
}

type fixture struct {
	svc     *Service
	repo    *repository.ReminderRepository
	sched   *fakeScheduler
	sender  *fakeSender
	clock   *clock.Manual
	reg     *prometheus.Registry
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.New(ctx, filepath.Join(t.TempDir(), "reminders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate(ctx)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	f := &fixture{
		repo:    repository.NewReminderRepository(db, kyiv),
		sched:   newFakeScheduler(),
		sender:  &fakeSender{},
		clock:   clock.NewManual(time.Date(2026, time.March, 10, 12, 0, 0, 0, kyiv)),
		reg:     reg,
		metrics: metrics.MustNewMetrics(reg),
	}
	f.svc = f.newService(f.repo, f.sched)
	return f
}

func (f *fixture) newService(store Store, sched Scheduler) *Service {
	return New(Options{
		Store:     store,
		Scheduler: sched,
		Sender:    f.sender,
		Clock:     f.clock,
		Logger:    logx.Nop(),
		Metrics:   f.metrics,
	})
}

func (f *fixture) create(t *testing.T, text string, chatID int64) *models.Reminder {
	t.Helper()
	r, err := f.svc.Create(context.Background(), CreateRequest{
		Text:    text,
		UserID:  7,
		ChatID:  chatID,
		Mention: "[Ann](tg://user?id=7)",
	})
	require.NoError(t, err)
	return r
}

func TestCreateArmsWake(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	r := f.create(t, "call mom in 10 minutes", 100)
	require.Equal(t, "call mom", r.Task)
	require.Equal(t, &models.Delay{Amount: 10, Unit: models.DelayMinute}, r.Delay)
	require.True(t, now.Add(10*time.Minute).Equal(*r.NextExecution))

	w, ok := f.sched.pending(Key(r.ID))
	require.True(t, ok)
	require.Equal(t, 10*time.Minute, w.delay)

	stored, err := f.repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, int64(7), stored.OwnerUserID)
	require.Equal(t, "[Ann](tg://user?id=7)", stored.MentionMarkup)
}

func TestCreateWithOversizedDelayStaysInFuture(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	r := f.create(t, "x every day in 9999999999 hours", 1)
	require.Nil(t, r.Delay)
	require.Equal(t, models.FrequencyDaily, r.Frequency)
	require.True(t, now.AddDate(0, 0, 1).Equal(*r.NextExecution), "got %s", r.NextExecution)

	w, ok := f.sched.pending(Key(r.ID))
	require.True(t, ok)
	require.Equal(t, 24*time.Hour, w.delay)
}

func TestCreateRejectsEmptyText(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateRequest{Text: "   ", ChatID: 1})
	require.ErrorIs(t, err, ErrUsage)
	require.Zero(t, f.sched.Len())
}

func TestFireOneTimeDeliversAndRetires(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, "call mom in 10 minutes", 100)

	f.clock.Advance(10 * time.Minute)
	f.sched.fire(t, Key(r.ID))

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, int64(100), msgs[0].chatID)
	require.Equal(t, "⏰ REMINDER: call mom", msgs[0].text)
	require.Equal(t, "MarkdownV2", msgs[0].parseMode)

	_, err := f.repo.GetByID(context.Background(), r.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.Zero(t, f.sched.Len())
	require.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(`
# HELP remindbot_reminders_fired_total Reminders delivered by the scheduler, by kind.
# TYPE remindbot_reminders_fired_total counter
remindbot_reminders_fired_total{kind="one-time"} 1
`), "remindbot_reminders_fired_total"))
}

func TestFireOneTimeInGroupMentionsOwner(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, "submit 1.5 report in 5 minutes", -100200)

	f.clock.Advance(5 * time.Minute)
	f.sched.fire(t, Key(r.ID))

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, `[Ann](tg://user?id=7): submit 1\.5 report`, msgs[0].text)
}

func TestFireRecurringReschedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "water plants every day at 08:00", -100200)
	first := time.Date(2026, time.March, 11, 8, 0, 0, 0, kyiv)
	require.True(t, first.Equal(*r.NextExecution))

	f.clock.Set(first)
	f.sched.fire(t, Key(r.ID))

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "⏰ REMINDER: water plants", msgs[0].text, "recurring group reminders use the banner")

	stored, err := f.repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, first.AddDate(0, 0, 1).Equal(*stored.NextExecution), "got %s", stored.NextExecution)

	w, ok := f.sched.pending(Key(r.ID))
	require.True(t, ok)
	require.Equal(t, 24*time.Hour, w.delay)
}

func TestDeliveryFailureStillReschedules(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("telegram down")
	r := f.create(t, "stretch every week", 5)

	f.clock.Set(*r.NextExecution)
	f.sched.fire(t, Key(r.ID))

	stored, err := f.repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	require.True(t, stored.NextExecution.After(f.clock.Now()))
	_, ok := f.sched.pending(Key(r.ID))
	require.True(t, ok)
	require.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(`
# HELP remindbot_delivery_failures_total Reminder messages the transport failed to send.
# TYPE remindbot_delivery_failures_total counter
remindbot_delivery_failures_total 1
`), "remindbot_delivery_failures_total"))
}

func TestFireAfterDeleteDoesNothing(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, "call mom in 10 minutes", 1)

	w, ok := f.sched.pending(Key(r.ID))
	require.True(t, ok)
	require.NoError(t, f.repo.Delete(context.Background(), r.ID))

	w.fn(context.Background())
	require.Empty(t, f.sender.messages())
}

func TestEditRearmsUnderSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "call mom in 10 minutes", 1)

	edited, err := f.svc.Edit(ctx, 1, r.ID, "call dad every week")
	require.NoError(t, err)
	require.Equal(t, r.ID, edited.ID)
	require.Equal(t, "call dad", edited.Task)
	require.Equal(t, models.FrequencyWeekly, edited.Frequency)
	require.Nil(t, edited.Delay)
	require.Equal(t, "[Ann](tg://user?id=7)", edited.MentionMarkup)

	require.Contains(t, f.sched.canceled, Key(r.ID))
	require.Equal(t, []string{Key(r.ID)}, f.sched.keys())
	w, _ := f.sched.pending(Key(r.ID))
	require.Equal(t, 7*24*time.Hour, w.delay)

	stored, err := f.repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, "call dad", stored.Task)
}

func TestEditUnknownOrForeignReminder(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, "call mom in 10 minutes", 1)

	_, err := f.svc.Edit(context.Background(), 2, r.ID, "hijack")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Edit(context.Background(), 1, 999, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Edit(context.Background(), 1, r.ID, " ")
	require.ErrorIs(t, err, ErrUsage)
}

func TestEditStoreFailureKeepsOldWake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := &failingStore{Store: f.repo}
	f.svc = f.newService(store, f.sched)
	r := f.create(t, "call mom in 10 minutes", 1)

	store.updateErr = errors.New("disk I/O error")
	_, err := f.svc.Edit(ctx, 1, r.ID, "call dad every week")
	require.ErrorIs(t, err, store.updateErr)

	stored, err := f.repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, "call mom", stored.Task)
	require.True(t, r.NextExecution.Equal(*stored.NextExecution))

	w, ok := f.sched.pending(Key(r.ID))
	require.True(t, ok, "old wake must survive a failed edit")
	require.Equal(t, 10*time.Minute, w.delay)

	f.clock.Advance(10 * time.Minute)
	f.sched.fire(t, Key(r.ID))
	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "⏰ REMINDER: call mom", msgs[0].text)
}

func TestDeleteStoreFailureKeepsWake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := &failingStore{Store: f.repo}
	f.svc = f.newService(store, f.sched)
	a := f.create(t, "a in 1 minute", 1)
	b := f.create(t, "b every day", 1)

	store.deleteErr = errors.New("database is locked")
	require.ErrorIs(t, f.svc.Delete(ctx, 1, a.ID), store.deleteErr)
	w, ok := f.sched.pending(Key(a.ID))
	require.True(t, ok)
	require.Equal(t, time.Minute, w.delay)

	n, err := f.svc.DeleteAll(ctx, 1)
	require.ErrorIs(t, err, store.deleteErr)
	require.Zero(t, n)
	require.Equal(t, []string{Key(a.ID), Key(b.ID)}, f.sched.keys())
}

func TestDeleteCancelsWake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, "call mom in 10 minutes", 1)

	require.NoError(t, f.svc.Delete(ctx, 1, r.ID))
	require.Zero(t, f.sched.Len())

	list, err := f.svc.List(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, list)

	require.ErrorIs(t, f.svc.Delete(ctx, 1, r.ID), ErrNotFound)
}

func TestDeleteAllOnlyTouchesChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "a in 1 minute", 1)
	f.create(t, "b every day", 1)
	other := f.create(t, "c in 1 hour", 2)

	n, err := f.svc.DeleteAll(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{Key(other.ID)}, f.sched.keys())

	list, err := f.svc.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRestoreArmsOnlyFutureReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	add := func(task string, next time.Time) *models.Reminder {
		r := &models.Reminder{Task: task, NextExecution: &next, OwnerUserID: 1, ChatID: 1}
		require.NoError(t, f.repo.Create(ctx, r))
		return r
	}
	future := add("future", now.Add(time.Hour))
	soon := add("soon", now.Add(time.Millisecond))
	stale := add("stale", now.Add(-time.Hour))

	sched := newFakeScheduler()
	svc := f.newService(f.repo, sched)
	armed, err := svc.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, armed)

	w, ok := sched.pending(Key(future.ID))
	require.True(t, ok)
	require.Equal(t, time.Hour, w.delay)

	w, ok = sched.pending(Key(soon.ID))
	require.True(t, ok)
	require.Equal(t, Epsilon, w.delay)

	_, ok = sched.pending(Key(stale.ID))
	require.False(t, ok)
	_, err = f.repo.GetByID(ctx, stale.ID)
	require.NoError(t, err, "stale reminders stay in the store")
}

func TestMessage(t *testing.T) {
	oneTimeGroup := &models.Reminder{Task: "buy *milk*", ChatID: -1, MentionMarkup: "[Bo](tg://user?id=3)"}
	require.Equal(t, `[Bo](tg://user?id=3): buy \*milk\*`, Message(oneTimeGroup))

	private := &models.Reminder{Task: "buy milk", ChatID: 3, MentionMarkup: "[Bo](tg://user?id=3)"}
	require.Equal(t, "⏰ REMINDER: buy milk", Message(private))

	noMention := &models.Reminder{Task: "buy milk", ChatID: -1}
	require.Equal(t, "⏰ REMINDER: buy milk", Message(noMention))
}

// Package scheduler arms one-shot wakes keyed by name and runs their callbacks
// one at a time on a single loop.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hray3182/remindbot/internal/logx"
)

// Func is a wake callback. It runs on the scheduler loop.
type Func func(ctx context.Context)

type wake struct {
	key string
	ver uint64
	fn  Func
}

type entry struct {
	timer *time.Timer
	ver   uint64
	at    time.Time
}

// Scheduler holds at most one pending wake per key. Scheduling a key that is
// already pending replaces the earlier wake.
type Scheduler struct {
	log logx.Logger

	mu      sync.Mutex
	entries map[string]*entry
	ver     uint64
	stopped bool

	firedCh chan wake
	done    chan struct{}
}

func New(log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		log:     log,
		entries: map[string]*entry{},
		firedCh: make(chan wake, 64),
		done:    make(chan struct{}),
	}
}

// Schedule arms fn to run after delay under key, canceling any wake already
// pending for key. Negative delays fire immediately.
func (s *Scheduler) Schedule(delay time.Duration, key string, fn Func) {
	key = strings.TrimSpace(key)
	if key == "" || fn == nil {
		return
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if e, ok := s.entries[key]; ok {
		e.timer.Stop()
	}
	// bump version so a timer that already fired for the old entry is ignored
	s.ver++
	ver := s.ver
	s.entries[key] = &entry{
		ver: ver,
		at:  time.Now().Add(delay),
		timer: time.AfterFunc(delay, func() {
			s.fire(wake{key: key, ver: ver, fn: fn})
		}),
	}
	s.log.Debug("wake scheduled", logx.String("key", key), logx.Duration("delay", delay))
}

// Cancel removes the pending wake for key. It reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, key)
	s.log.Debug("wake canceled", logx.String("key", key))
	return true
}

// Pending reports whether a wake is armed for key and when it is due.
func (s *Scheduler) Pending(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Len returns the number of pending wakes.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) fire(w wake) {
	s.mu.Lock()
	if e, ok := s.entries[w.key]; !ok || e.ver != w.ver || s.stopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	select {
	case s.firedCh <- w:
	case <-s.done:
	}
}

// Run executes fired wakes in order until ctx is done, then stops every
// pending timer.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started")
	defer s.stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case w := <-s.firedCh:
			// The wake may have been canceled or replaced while queued.
			s.mu.Lock()
			e, ok := s.entries[w.key]
			current := ok && e.ver == w.ver
			if current {
				delete(s.entries, w.key)
			}
			s.mu.Unlock()
			if !current {
				continue
			}
			s.run(ctx, w)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, w wake) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("wake callback panicked", logx.String("key", w.key), logx.Any("panic", r))
		}
	}()
	w.fn(ctx)
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	for key, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, key)
	}
	// Drain timers that fired before they could be stopped.
	for {
		select {
		case <-s.firedCh:
		default:
			return
		}
	}
}

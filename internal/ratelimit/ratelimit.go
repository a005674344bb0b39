// Package ratelimit implements fixed-window per-sender admission control.
package ratelimit

import (
	"sync"
	"time"

	"github.com/xaenox/teadesk-bot/internal/models"
)

const (
	DefaultWindow = 60 * time.Second
	DefaultQuota  = 15
)

type window struct {
	count      uint
	resetAt    time.Time
	violations uint
}

// Limiter admits at most quota messages per sender in each window.
// Windows live in memory only. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	quota   uint
	windows map[models.Sender]*window
	now     func() time.Time
}

func New(size time.Duration, quota uint) *Limiter {
	if size <= 0 {
		size = DefaultWindow
	}
	if quota == 0 {
		quota = DefaultQuota
	}
	return &Limiter{
		window:  size,
		quota:   quota,
		windows: make(map[models.Sender]*window),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// current returns the sender's live window, starting a fresh one when none
// exists or the previous one has expired. Caller holds l.mu.
func (l *Limiter) current(sender models.Sender, now time.Time) *window {
	w, ok := l.windows[sender]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(l.window)}
		l.windows[sender] = w
	}
	return w
}

// Admit reports whether the sender may send another message in this window.
func (l *Limiter) Admit(sender models.Sender) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(sender, l.now())
	if w.count >= l.quota {
		w.violations++
		return false
	}
	w.count++
	return true
}

// Violations is the number of denied calls in the sender's current window.
func (l *Limiter) Violations(sender models.Sender) uint {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[sender]
	if !ok || l.now().After(w.resetAt) {
		return 0
	}
	return w.violations
}

// RemainingTime is how long until the sender's window resets.
func (l *Limiter) RemainingTime(sender models.Sender) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[sender]
	if !ok || now.After(w.resetAt) {
		return 0
	}
	return w.resetAt.Sub(now)
}

// RemainingQuota is how many messages the sender may still send in this window.
func (l *Limiter) RemainingQuota(sender models.Sender) uint {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[sender]
	if !ok || l.now().After(w.resetAt) {
		return l.quota
	}
	if w.count >= l.quota {
		return 0
	}
	return l.quota - w.count
}

// Sweep drops windows idle for a full window past their reset and returns
// how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for sender, w := range l.windows {
		if w.resetAt.Add(l.window).Before(now) {
			delete(l.windows, sender)
			removed++
		}
	}
	return removed
}

// Len is the number of tracked senders.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

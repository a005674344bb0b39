// Package conversation tracks per-sender lifecycle: mute state, welcome
// throttling and general-response throttling.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xaenox/teadesk-bot/internal/models"
	"github.com/xaenox/teadesk-bot/internal/storage"
)

const (
	DefaultWelcomeInterval = 24 * time.Hour
	DefaultGeneralInterval = 5 * time.Minute
)

// Controller owns every UserState. Records are created lazily and never
// deleted. Safe for concurrent use.
type Controller struct {
	mu              sync.Mutex
	users           map[models.Sender]*models.UserState
	welcomeInterval time.Duration
	generalInterval time.Duration
	now             func() time.Time
}

func New(welcomeInterval, generalInterval time.Duration) *Controller {
	if welcomeInterval <= 0 {
		welcomeInterval = DefaultWelcomeInterval
	}
	if generalInterval <= 0 {
		generalInterval = DefaultGeneralInterval
	}
	return &Controller{
		users:           make(map[models.Sender]*models.UserState),
		welcomeInterval: welcomeInterval,
		generalInterval: generalInterval,
		now:             time.Now,
	}
}

func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// user returns the sender's record, creating it on first use. Caller holds c.mu.
func (c *Controller) user(sender models.Sender) *models.UserState {
	u, ok := c.users[sender]
	if !ok {
		now := c.now()
		u = &models.UserState{FirstSeenAt: now, LastSeenAt: now, Active: true}
		c.users[sender] = u
	}
	return u
}

// Touch records an interaction and returns the updated state.
func (c *Controller) Touch(sender models.Sender) models.UserState {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.user(sender)
	u.LastSeenAt = c.now()
	u.MessageCount++
	return *u
}

// Get returns a copy of the sender's state without creating it.
func (c *Controller) Get(sender models.Sender) (models.UserState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[sender]
	if !ok {
		return models.UserState{}, false
	}
	return *u, true
}

// IsActive reports whether the sender is not muted. Unknown senders are active.
func (c *Controller) IsActive(sender models.Sender) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[sender]
	return !ok || u.Active
}

func (c *Controller) Mute(sender models.Sender) {
	c.setActive(sender, false)
}

func (c *Controller) Unmute(sender models.Sender) {
	c.setActive(sender, true)
}

func (c *Controller) setActive(sender models.Sender, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user(sender).Active = active
}

// Ignore counts a message dropped because the sender is muted.
func (c *Controller) Ignore(sender models.Sender) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.user(sender)
	u.IgnoredCount++
	return u.IgnoredCount
}

// ShouldSendWelcome reports whether no welcome went out within the welcome
// interval, and stamps the welcome time when it returns true.
func (c *Controller) ShouldSendWelcome(sender models.Sender) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	u := c.user(sender)
	if u.LastWelcomeAt != nil && now.Sub(*u.LastWelcomeAt) < c.welcomeInterval {
		return false
	}
	u.LastWelcomeAt = &now
	return true
}

// ShouldRespondToGeneral reports whether the bot has been quiet towards the
// sender for the general interval. Best effort only.
func (c *Controller) ShouldRespondToGeneral(sender models.Sender) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[sender]
	if !ok || u.LastBotResponseAt == nil {
		return true
	}
	return c.now().Sub(*u.LastBotResponseAt) >= c.generalInterval
}

// MarkResponded stamps the time of the last reply sent to the sender.
func (c *Controller) MarkResponded(sender models.Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.user(sender).LastBotResponseAt = &now
}

func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

func (c *Controller) Load(ctx context.Context, store storage.Storage) error {
	users := make(map[models.Sender]*models.UserState)
	if err := store.Load(ctx, storage.TableUsers, &users); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load user state: %w", err)
	}

	c.mu.Lock()
	c.users = users
	c.mu.Unlock()
	return nil
}

func (c *Controller) Save(ctx context.Context, store storage.Storage) error {
	c.mu.Lock()
	snapshot := make(map[models.Sender]models.UserState, len(c.users))
	for s, u := range c.users {
		snapshot[s] = *u
	}
	c.mu.Unlock()

	if err := store.Save(ctx, storage.TableUsers, snapshot); err != nil {
		return fmt.Errorf("save user state: %w", err)
	}
	return nil
}

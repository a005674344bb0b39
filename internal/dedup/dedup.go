// Package dedup suppresses replayed inbound events.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/teadesk-bot/internal/models"
	"github.com/xaenox/teadesk-bot/internal/storage"
)

const DefaultTTL = time.Hour

// ContentHash digests (sender, normalized text, transport timestamp).
// Two sends of the same text with different transport timestamps hash
// differently.
func ContentHash(sender models.Sender, text string, sentAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(sender))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(text)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(sentAt.UnixMilli(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize lowercases text and collapses runs of whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Cache remembers processed (sender, hash) pairs for a TTL.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]models.DedupEntry
	now     func() time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]models.DedupEntry),
		now:     time.Now,
	}
}

func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func key(sender models.Sender, hash string) string {
	return string(sender) + ":" + hash
}

// IsDuplicate reports whether the pair was already seen within the TTL and
// records it when it was not.
func (c *Cache) IsDuplicate(sender models.Sender, hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	k := key(sender, hash)
	if e, ok := c.entries[k]; ok && now.Sub(e.FirstSeenAt) < c.ttl {
		return true
	}
	c.entries[k] = models.DedupEntry{FirstSeenAt: now}
	return false
}

// Sweep deletes entries older than the TTL.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.FirstSeenAt) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Load replaces the cache contents with the persisted table. A missing table
// leaves the cache empty.
func (c *Cache) Load(ctx context.Context, store storage.Storage) error {
	entries := make(map[string]models.DedupEntry)
	if err := store.Load(ctx, storage.TableDedup, &entries); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load dedup cache: %w", err)
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

func (c *Cache) Save(ctx context.Context, store storage.Storage) error {
	c.mu.Lock()
	snapshot := make(map[string]models.DedupEntry, len(c.entries))
	for k, e := range c.entries {
		snapshot[k] = e
	}
	c.mu.Unlock()

	if err := store.Save(ctx, storage.TableDedup, snapshot); err != nil {
		return fmt.Errorf("save dedup cache: %w", err)
	}
	return nil
}

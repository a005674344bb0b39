// Package router forwards client messages to department staff and matches
// quoted staff replies back to the client who asked.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/teadesk-bot/internal/models"
	"github.com/xaenox/teadesk-bot/internal/storage"
)

const (
	DefaultTicketTTL = 24 * time.Hour
	DefaultPrefixLen = 50

	forwardMarker = "📨 Request for"
)

// Directory resolves a department to its staff.
type Directory interface {
	Members(ctx context.Context, department string) []models.StaffMember
}

// Messenger delivers text to a chat participant.
type Messenger interface {
	SendText(ctx context.Context, to models.Sender, text string) error
}

type entry struct {
	ticket models.ForwardTicket
	seq    uint64
}

// Router owns every ForwardTicket. Safe for concurrent use.
type Router struct {
	dir       Directory
	messenger Messenger
	ttl       time.Duration
	prefixLen int
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	mu      sync.Mutex
	tickets map[string]*entry
	seq     uint64
}

func New(dir Directory, messenger Messenger, ttl time.Duration, prefixLen int, logger *zap.Logger) *Router {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	if prefixLen <= 0 {
		prefixLen = DefaultPrefixLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		dir:       dir,
		messenger: messenger,
		ttl:       ttl,
		prefixLen: prefixLen,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		tickets:   make(map[string]*entry),
	}
}

func (r *Router) WithClock(now func() time.Time) *Router {
	r.now = now
	return r
}

// FormatForward renders the message staff receive. The client's text follows
// the header after a blank line so that a quoted forward can be matched back.
func FormatForward(department, clientName, text string) string {
	return fmt.Sprintf("%s %s from %s\n\n%s", forwardMarker, department, clientName, text)
}

// stripForwardHeader returns the client's original text from a quoted forward,
// or the quoted text unchanged when it is not a forward.
func stripForwardHeader(quoted string) string {
	quoted = strings.TrimSpace(quoted)
	if !strings.HasPrefix(quoted, forwardMarker) {
		return quoted
	}
	if i := strings.Index(quoted, "\n\n"); i >= 0 {
		return strings.TrimSpace(quoted[i+2:])
	}
	return quoted
}

func prefix(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

// Route forwards text to every staff member of department and opens one
// ticket per successful delivery. It reports whether at least one send
// succeeded.
func (r *Router) Route(ctx context.Context, msg models.InboundMessage, department, text string) bool {
	members := r.dir.Members(ctx, department)
	if len(members) == 0 {
		r.logger.Warn("No staff for department",
			zap.String("department", department),
			zap.String("sender", string(msg.Sender)))
		return false
	}

	clientName := msg.DisplayName
	if clientName == "" {
		clientName = string(msg.Sender)
	}
	forward := FormatForward(members[0].Department, clientName, text)

	delivered := 0
	for _, m := range members {
		if err := r.messenger.SendText(ctx, m.ID, forward); err != nil {
			r.logger.Error("Failed to forward message",
				zap.Error(err),
				zap.String("staff_id", string(m.ID)),
				zap.String("department", department))
			continue
		}

		t := models.ForwardTicket{
			ID:                r.newID(),
			ClientID:          msg.Sender,
			StaffID:           m.ID,
			StaffName:         m.Name,
			Department:        m.Department,
			ClientDisplayName: clientName,
			OriginalText:      text,
			CreatedAt:         r.now(),
		}
		r.mu.Lock()
		r.seq++
		r.tickets[t.ID] = &entry{ticket: t, seq: r.seq}
		r.mu.Unlock()
		delivered++
	}

	r.logger.Info("Routed message",
		zap.String("sender", string(msg.Sender)),
		zap.String("department", department),
		zap.Int("staff", len(members)),
		zap.Int("delivered", delivered))
	return delivered > 0
}

// take removes and returns the newest ticket for staffID whose original text
// prefix matches quoted. Equal prefixes are ambiguous: the newest wins.
func (r *Router) take(staffID models.Sender, quoted string) (models.ForwardTicket, bool) {
	candidate := stripForwardHeader(quoted)

	r.mu.Lock()
	defer r.mu.Unlock()

	var matches []*entry
	for _, e := range r.tickets {
		if e.ticket.StaffID != staffID {
			continue
		}
		key := prefix(e.ticket.OriginalText, r.prefixLen)
		if key != "" && strings.HasPrefix(candidate, key) {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return models.ForwardTicket{}, false
	}

	sort.Slice(matches, func(i, j int) bool {
		ti, tj := matches[i].ticket.CreatedAt, matches[j].ticket.CreatedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return matches[i].seq > matches[j].seq
	})
	e := matches[0]
	delete(r.tickets, e.ticket.ID)
	return e.ticket, true
}

func (r *Router) restore(t models.ForwardTicket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.tickets[t.ID] = &entry{ticket: t, seq: r.seq}
}

// CorrelateReply delivers a quoted staff reply to the client whose ticket it
// answers. A ticket is consumed by at most one reply. It returns false when
// the message is not a reply to any open ticket.
func (r *Router) CorrelateReply(ctx context.Context, msg models.InboundMessage) bool {
	if !msg.HasQuote || strings.TrimSpace(msg.QuotedText) == "" {
		return false
	}

	t, ok := r.take(msg.Sender, msg.QuotedText)
	if !ok {
		return false
	}

	reply := fmt.Sprintf("💬 %s (%s):\n%s", t.StaffName, t.Department, msg.Text)
	if err := r.messenger.SendText(ctx, t.ClientID, reply); err != nil {
		r.logger.Error("Failed to deliver staff reply",
			zap.Error(err),
			zap.String("ticket_id", t.ID),
			zap.String("client_id", string(t.ClientID)))
		r.restore(t)
		r.notify(ctx, msg.Sender, "⚠️ Your reply could not be delivered. Please try again.")
		return true
	}

	r.logger.Info("Staff reply delivered",
		zap.String("ticket_id", t.ID),
		zap.String("staff_id", string(t.StaffID)),
		zap.String("client_id", string(t.ClientID)))
	r.notify(ctx, msg.Sender, fmt.Sprintf("✅ Reply delivered to %s.", t.ClientDisplayName))
	return true
}

func (r *Router) notify(ctx context.Context, to models.Sender, text string) {
	if err := r.messenger.SendText(ctx, to, text); err != nil {
		r.logger.Warn("Failed to notify staff", zap.Error(err), zap.String("staff_id", string(to)))
	}
}

// Sweep drops tickets older than the TTL, answered or not.
func (r *Router) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, e := range r.tickets {
		if now.Sub(e.ticket.CreatedAt) > r.ttl {
			delete(r.tickets, id)
			removed++
		}
	}
	return removed
}

// Tickets returns a copy of the open tickets, oldest first.
func (r *Router) Tickets() []models.ForwardTicket {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*entry, 0, len(r.tickets))
	for _, e := range r.tickets {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]models.ForwardTicket, len(entries))
	for i, e := range entries {
		out[i] = e.ticket
	}
	return out
}

func (r *Router) Load(ctx context.Context, store storage.Storage) error {
	loaded := make(map[string]models.ForwardTicket)
	if err := store.Load(ctx, storage.TableTickets, &loaded); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load tickets: %w", err)
	}

	ordered := make([]models.ForwardTicket, 0, len(loaded))
	for _, t := range loaded {
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].CreatedAt.Before(ordered[j].CreatedAt) })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets = make(map[string]*entry, len(ordered))
	r.seq = 0
	for _, t := range ordered {
		r.seq++
		r.tickets[t.ID] = &entry{ticket: t, seq: r.seq}
	}
	return nil
}

func (r *Router) Save(ctx context.Context, store storage.Storage) error {
	r.mu.Lock()
	snapshot := make(map[string]models.ForwardTicket, len(r.tickets))
	for id, e := range r.tickets {
		snapshot[id] = e.ticket
	}
	r.mu.Unlock()

	if err := store.Save(ctx, storage.TableTickets, snapshot); err != nil {
		return fmt.Errorf("save tickets: %w", err)
	}
	return nil
}

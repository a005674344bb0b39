// Package directory keeps a cached snapshot of staff members by department.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/teadesk-bot/internal/models"
	"github.com/xaenox/teadesk-bot/internal/sheets"
)

const DefaultTTL = 5 * time.Minute

// Staff sheet columns.
const (
	colDepartment = iota
	colName
	colID
)

// Directory serves lookups from the last successful fetch. A failed refresh
// keeps the previous snapshot.
type Directory struct {
	source        sheets.Source
	spreadsheetID string
	rng           string
	ttl           time.Duration
	logger        *zap.Logger
	now           func() time.Time

	mu        sync.RWMutex
	byDept    map[string][]models.StaffMember
	fetchedAt time.Time
}

func New(source sheets.Source, spreadsheetID, rng string, ttl time.Duration, logger *zap.Logger) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		source:        source,
		spreadsheetID: spreadsheetID,
		rng:           rng,
		ttl:           ttl,
		logger:        logger,
		now:           time.Now,
		byDept:        make(map[string][]models.StaffMember),
	}
}

func (d *Directory) WithClock(now func() time.Time) *Directory {
	d.now = now
	return d
}

// Refresh fetches the staff range and replaces the snapshot.
func (d *Directory) Refresh(ctx context.Context) error {
	rows, err := d.source.Query(ctx, d.spreadsheetID, d.rng)
	if err != nil {
		return fmt.Errorf("fetch staff directory: %w", err)
	}

	byDept := make(map[string][]models.StaffMember)
	total := 0
	for i, row := range rows {
		dept := sheets.Cell(row, colDepartment)
		if i == 0 && strings.EqualFold(dept, "department") {
			continue
		}
		m := models.StaffMember{
			Department: dept,
			Name:       sheets.Cell(row, colName),
			ID:         models.Sender(sheets.Cell(row, colID)),
		}
		if m.Department == "" || m.ID == "" {
			continue
		}
		key := strings.ToLower(m.Department)
		byDept[key] = append(byDept[key], m)
		total++
	}

	d.mu.Lock()
	d.byDept = byDept
	d.fetchedAt = d.now()
	d.mu.Unlock()

	d.logger.Info("Staff directory refreshed",
		zap.Int("members", total),
		zap.Int("departments", len(byDept)))
	return nil
}

func (d *Directory) stale() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fetchedAt.IsZero() || d.now().Sub(d.fetchedAt) >= d.ttl
}

// Members returns the staff of a department, case-folded. A stale snapshot
// is refreshed first; if that fails the old snapshot is used.
func (d *Directory) Members(ctx context.Context, department string) []models.StaffMember {
	if d.stale() {
		if err := d.Refresh(ctx); err != nil {
			d.logger.Warn("Using cached staff directory", zap.Error(err))
		}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.byDept[strings.ToLower(department)]
	out := make([]models.StaffMember, len(members))
	copy(out, members)
	return out
}

// Departments lists the department names that have staff in the snapshot.
func (d *Directory) Departments() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.byDept))
	for _, members := range d.byDept {
		names = append(names, members[0].Department)
	}
	sort.Strings(names)
	return names
}

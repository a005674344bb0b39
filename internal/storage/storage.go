package storage

import (
	"context"
	"errors"
)

// Table names of the persisted state. The rate limiter is memory-only.
const (
	TableDedup     = "dedup"
	TableUsers     = "users"
	TableTickets   = "tickets"
	TableAnalytics = "analytics"
)

// ErrNotFound is returned by Load when a table has never been saved.
var ErrNotFound = errors.New("table not found")

// Storage persists whole key->record tables as JSON documents.
// Load decodes the stored table into dst; Save replaces it wholesale.
type Storage interface {
	Load(ctx context.Context, table string, dst any) error
	Save(ctx context.Context, table string, v any) error
	Close() error
}

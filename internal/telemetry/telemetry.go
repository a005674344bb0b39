// Package telemetry aggregates counters and duration samples over processed
// messages.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/teadesk-bot/internal/models"
	"github.com/xaenox/teadesk-bot/internal/storage"
)

const (
	DefaultSampleCap  = 1000
	DefaultFlushEvery = 10
	topIntents        = 5
)

type Aggregator struct {
	store      storage.Storage
	metrics    *Metrics
	logger     *zap.Logger
	sampleCap  int
	flushEvery int
	now        func() time.Time

	// saveMu orders snapshot and write together so an older snapshot
	// never lands after a newer one.
	saveMu sync.Mutex

	mu            sync.Mutex
	totalMessages uint64
	uniqueSenders map[models.Sender]struct{}
	intentCounts  map[models.Intent]uint64
	successCount  uint64
	failCount     uint64
	samples       []models.Sample
	calls         int
}

// New creates an aggregator that saves itself to store on every flushEvery-th
// Record. store and metrics may be nil.
func New(store storage.Storage, metrics *Metrics, sampleCap, flushEvery int, logger *zap.Logger) *Aggregator {
	if sampleCap <= 0 {
		sampleCap = DefaultSampleCap
	}
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		store:         store,
		metrics:       metrics,
		logger:        logger,
		sampleCap:     sampleCap,
		flushEvery:    flushEvery,
		now:           time.Now,
		uniqueSenders: make(map[models.Sender]struct{}),
		intentCounts:  make(map[models.Intent]uint64),
	}
}

func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Record accounts one processed message.
func (a *Aggregator) Record(ctx context.Context, sender models.Sender, intent models.Intent, d time.Duration, success bool) {
	a.mu.Lock()
	a.totalMessages++
	a.uniqueSenders[sender] = struct{}{}
	a.intentCounts[intent]++
	if success {
		a.successCount++
	} else {
		a.failCount++
	}
	a.samples = append(a.samples, models.Sample{
		Timestamp:  a.now(),
		DurationMs: d.Milliseconds(),
		Intent:     intent,
		Success:    success,
	})
	if over := len(a.samples) - a.sampleCap; over > 0 {
		a.samples = append(a.samples[:0:0], a.samples[over:]...)
	}
	a.calls++
	flush := a.calls%a.flushEvery == 0
	unique := len(a.uniqueSenders)
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.messages.WithLabelValues(string(intent), strconv.FormatBool(success)).Inc()
		a.metrics.duration.WithLabelValues(string(intent)).Observe(d.Seconds())
		a.metrics.uniqueSenders.Set(float64(unique))
	}

	if flush {
		if err := a.Flush(ctx); err != nil {
			a.logger.Warn("Failed to persist analytics", zap.Error(err))
		}
	}
}

// Flush saves the current snapshot. A nil store is a no-op.
func (a *Aggregator) Flush(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	return a.Save(ctx, a.store)
}

// Snapshot returns a copy of the raw counters.
func (a *Aggregator) Snapshot() models.AnalyticsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := models.AnalyticsSnapshot{
		TotalMessages: a.totalMessages,
		UniqueSenders: make([]models.Sender, 0, len(a.uniqueSenders)),
		IntentCounts:  make(map[models.Intent]uint64, len(a.intentCounts)),
		SuccessCount:  a.successCount,
		FailCount:     a.failCount,
		Samples:       make([]models.Sample, len(a.samples)),
	}
	for sender := range a.uniqueSenders {
		s.UniqueSenders = append(s.UniqueSenders, sender)
	}
	sort.Slice(s.UniqueSenders, func(i, j int) bool { return s.UniqueSenders[i] < s.UniqueSenders[j] })
	for k, v := range a.intentCounts {
		s.IntentCounts[k] = v
	}
	copy(s.Samples, a.samples)
	return s
}

// Stats derives the aggregate view. It has no side effects.
func (a *Aggregator) Stats() models.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := models.Stats{
		TotalMessages: a.totalMessages,
		UniqueSenders: len(a.uniqueSenders),
		SuccessCount:  a.successCount,
		FailCount:     a.failCount,
		TopIntents:    []models.IntentCount{},
	}

	if len(a.samples) > 0 {
		var total int64
		for _, s := range a.samples {
			total += s.DurationMs
		}
		st.AverageDurationMs = float64(total) / float64(len(a.samples))
	}
	if done := a.successCount + a.failCount; done > 0 {
		st.ErrorRate = float64(a.failCount) / float64(done)
	}

	for intent, n := range a.intentCounts {
		st.TopIntents = append(st.TopIntents, models.IntentCount{Intent: intent, Count: n})
	}
	sort.Slice(st.TopIntents, func(i, j int) bool {
		if st.TopIntents[i].Count != st.TopIntents[j].Count {
			return st.TopIntents[i].Count > st.TopIntents[j].Count
		}
		return st.TopIntents[i].Intent < st.TopIntents[j].Intent
	})
	if len(st.TopIntents) > topIntents {
		st.TopIntents = st.TopIntents[:topIntents]
	}
	return st
}

func (a *Aggregator) Load(ctx context.Context, store storage.Storage) error {
	var s models.AnalyticsSnapshot
	if err := store.Load(ctx, storage.TableAnalytics, &s); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load analytics: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalMessages = s.TotalMessages
	a.successCount = s.SuccessCount
	a.failCount = s.FailCount
	a.uniqueSenders = make(map[models.Sender]struct{}, len(s.UniqueSenders))
	for _, sender := range s.UniqueSenders {
		a.uniqueSenders[sender] = struct{}{}
	}
	a.intentCounts = make(map[models.Intent]uint64, len(s.IntentCounts))
	for k, v := range s.IntentCounts {
		a.intentCounts[k] = v
	}
	a.samples = s.Samples
	if over := len(a.samples) - a.sampleCap; over > 0 {
		a.samples = a.samples[over:]
	}
	return nil
}

func (a *Aggregator) Save(ctx context.Context, store storage.Storage) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	if err := store.Save(ctx, storage.TableAnalytics, a.Snapshot()); err != nil {
		return fmt.Errorf("save analytics: %w", err)
	}
	return nil
}

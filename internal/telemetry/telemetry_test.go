package telemetry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/teadesk-bot/internal/models"
	"github.com/xaenox/teadesk-bot/internal/storage"
)

func TestAggregator_Stats(t *testing.T) {
	a := New(nil, nil, 0, 0, nil)
	ctx := context.Background()

	a.Record(ctx, "a", models.IntentFactoryQuery, 10*time.Millisecond, true)
	a.Record(ctx, "a", models.IntentFactoryQuery, 30*time.Millisecond, false)
	a.Record(ctx, "b", models.IntentHelp, 20*time.Millisecond, true)
	a.Record(ctx, "c", models.IntentStatus, 20*time.Millisecond, true)

	st := a.Stats()
	assert.Equal(t, uint64(4), st.TotalMessages)
	assert.Equal(t, 3, st.UniqueSenders)
	assert.InDelta(t, 20.0, st.AverageDurationMs, 1e-9)
	assert.InDelta(t, 0.25, st.ErrorRate, 1e-9)
	require.Len(t, st.TopIntents, 3)
	assert.Equal(t, models.IntentCount{Intent: models.IntentFactoryQuery, Count: 2}, st.TopIntents[0])
	// equal counts are ordered by name
	assert.Equal(t, models.IntentHelp, st.TopIntents[1].Intent)

	// Stats has no side effects.
	assert.Equal(t, st, a.Stats())
}

func TestAggregator_EmptyStats(t *testing.T) {
	st := New(nil, nil, 0, 0, nil).Stats()
	assert.Zero(t, st.AverageDurationMs)
	assert.Zero(t, st.ErrorRate)
	assert.NotNil(t, st.TopIntents)
}

func TestAggregator_TopFiveOnly(t *testing.T) {
	a := New(nil, nil, 0, 0, nil)
	intents := []models.Intent{
		models.IntentFactoryQuery, models.IntentElevationQuery, models.IntentMarketReport,
		models.IntentHelp, models.IntentContact, models.IntentStatus,
	}
	for i, in := range intents {
		for j := 0; j <= i; j++ {
			a.Record(context.Background(), "s", in, 0, true)
		}
	}
	top := a.Stats().TopIntents
	require.Len(t, top, 5)
	assert.Equal(t, models.IntentStatus, top[0].Intent)
	assert.Equal(t, models.IntentElevationQuery, top[4].Intent)
}

func TestAggregator_SamplesAreBounded(t *testing.T) {
	a := New(nil, nil, 3, 0, nil)
	for i := 0; i < 5; i++ {
		a.Record(context.Background(), "s", models.IntentGeneral, time.Duration(i)*time.Millisecond, true)
	}
	samples := a.Snapshot().Samples
	require.Len(t, samples, 3)
	assert.Equal(t, int64(2), samples[0].DurationMs, "oldest evicted first")
	assert.Equal(t, int64(4), samples[2].DurationMs)
}

type countingStore struct {
	*storage.MemoryStorage
	saves int
}

func (c *countingStore) Save(ctx context.Context, table string, v any) error {
	c.saves++
	return c.MemoryStorage.Save(ctx, table, v)
}

func TestAggregator_FlushesEveryNth(t *testing.T) {
	store := &countingStore{MemoryStorage: storage.NewMemoryStorage()}
	a := New(store, nil, 0, 3, nil)

	for i := 0; i < 7; i++ {
		a.Record(context.Background(), models.Sender(fmt.Sprint(i)), models.IntentHelp, 0, true)
	}
	assert.Equal(t, 2, store.saves)

	restored := New(nil, nil, 0, 0, nil)
	require.NoError(t, restored.Load(context.Background(), store))
	assert.Equal(t, uint64(6), restored.Stats().TotalMessages)
	assert.Equal(t, 6, restored.Stats().UniqueSenders)
}

// gatedStore blocks every Save until gate is closed and records the order
// in which snapshots were written.
type gatedStore struct {
	*storage.MemoryStorage
	gate chan struct{}

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	written     []uint64
}

func (g *gatedStore) Save(ctx context.Context, table string, v any) error {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	g.mu.Unlock()

	<-g.gate

	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight--
	g.written = append(g.written, v.(models.AnalyticsSnapshot).TotalMessages)
	return nil
}

func (g *gatedStore) entered() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

func TestAggregator_ConcurrentSavesKeepOrder(t *testing.T) {
	store := &gatedStore{MemoryStorage: storage.NewMemoryStorage(), gate: make(chan struct{})}
	a := New(nil, nil, 0, 0, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	save := func() {
		defer wg.Done()
		assert.NoError(t, a.Save(ctx, store))
	}

	a.Record(ctx, "a", models.IntentHelp, 0, true)
	wg.Add(1)
	go save()
	require.Eventually(t, func() bool { return store.entered() == 1 }, time.Second, time.Millisecond)

	a.Record(ctx, "b", models.IntentHelp, 0, true)
	wg.Add(1)
	go save()
	time.Sleep(20 * time.Millisecond)

	close(store.gate)
	wg.Wait()

	assert.Equal(t, 1, store.maxInFlight)
	assert.Equal(t, []uint64{1, 2}, store.written, "newest snapshot is written last")
}

func TestAggregator_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	a := New(nil, m, 0, 0, nil)

	a.Record(context.Background(), "a", models.IntentHelp, time.Millisecond, true)
	a.Record(context.Background(), "b", models.IntentHelp, time.Millisecond, false)
	m.Dropped("duplicate")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("help", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("help", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.uniqueSenders))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("duplicate")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.Dropped("x") })
}

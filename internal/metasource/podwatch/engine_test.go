package podwatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waggle-sensor/wes-data-sharing-service/internal/broker"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/meta"
)

// fakeAcker records ack/reject calls so tests can assert which deliveries
// were acked and which were rejected.
type fakeAcker struct {
	mu       sync.Mutex
	acked    map[uint64]bool
	rejected map[uint64]bool
}

func newFakeAcker() *fakeAcker {
	return &fakeAcker{acked: map[uint64]bool{}, rejected: map[uint64]bool{}}
}

func (a *fakeAcker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked[tag] = true
	return nil
}

func (a *fakeAcker) Reject(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejected[tag] = true
	return nil
}

type countingCounters struct {
	mu          sync.Mutex
	backlogged  int
	expired     int
	podsExpired int
}

func (c *countingCounters) IncBacklogged()                 { c.mu.Lock(); c.backlogged++; c.mu.Unlock() }
func (c *countingCounters) IncExpired()                    { c.mu.Lock(); c.expired++; c.mu.Unlock() }
func (c *countingCounters) IncPodsExpired()                { c.mu.Lock(); c.podsExpired++; c.mu.Unlock() }
func (c *countingCounters) SetMessagesInBacklog(_ float64) {}
func (c *countingCounters) SetPodsInBacklog(_ float64)     {}

func newDelivery(tag uint64, acker broker.Acker) broker.Delivery {
	return broker.NewDelivery(tag, "upload", "producer-1", "plugin-user", []byte(fmt.Sprintf("body-%d", tag)), acker)
}

func TestBindBacklogsUntilPodEventThenFlushesFIFO(t *testing.T) {
	const n = 23
	acker := newFakeAcker()
	counters := &countingCounters{}

	var replayedTags []uint64
	var replayMu sync.Mutex
	replay := func(_ context.Context, d broker.Delivery, appMeta meta.Application) {
		replayMu.Lock()
		replayedTags = append(replayedTags, d.Tag)
		replayMu.Unlock()
		require.Equal(t, "rpi-node", appMeta["host"])
		require.NoError(t, d.Ack())
	}

	e := NewEngine(Config{PodTTL: time.Hour, PodWithoutMetaTTL: time.Hour}, replay, counters)

	for i := uint64(1); i <= n; i++ {
		d := newDelivery(i, acker)
		_, ok := e.Bind("producer-1", d)
		require.False(t, ok, "delivery %d should have been backlogged, not bound", i)
	}
	require.Equal(t, n, counters.backlogged)
	for i := uint64(1); i <= n; i++ {
		require.False(t, acker.acked[i], "delivery %d must not be acked before metadata binds", i)
	}

	appMeta := meta.Application{"job": "sage", "task": "plugin-iio", "host": "rpi-node"}
	e.HandlePodEvent(context.Background(), "producer-1", appMeta)

	require.Len(t, replayedTags, n)
	for i, tag := range replayedTags {
		require.Equal(t, uint64(i+1), tag, "backlog must flush in FIFO arrival order")
	}
	for i := uint64(1); i <= n; i++ {
		require.True(t, acker.acked[i], "delivery %d should have been acked by replay", i)
	}

	// A further delivery for the now-bound UID resolves immediately rather
	// than joining a backlog.
	d := newDelivery(n+1, acker)
	gotMeta, ok := e.Bind("producer-1", d)
	require.True(t, ok)
	require.Equal(t, appMeta, gotMeta)
	require.Equal(t, n, counters.backlogged, "binding an already-bound producer must not count as backlogged")
}

func TestSweepExpiresWaitingBacklogByRejecting(t *testing.T) {
	acker := newFakeAcker()
	counters := &countingCounters{}
	replay := func(context.Context, broker.Delivery, meta.Application) {
		t.Fatal("replay must not run for a UID that never received a pod event")
	}

	e := NewEngine(Config{PodTTL: time.Hour, PodWithoutMetaTTL: time.Millisecond}, replay, counters)

	d1 := newDelivery(1, acker)
	d2 := newDelivery(2, acker)
	_, ok := e.Bind("producer-2", d1)
	require.False(t, ok)
	_, ok = e.Bind("producer-2", d2)
	require.False(t, ok)

	time.Sleep(5 * time.Millisecond)
	e.Sweep()

	require.True(t, acker.rejected[1])
	require.True(t, acker.rejected[2])
	require.Equal(t, 2, counters.expired)
	require.Equal(t, 1, counters.podsExpired)

	// State for producer-2 is gone; a later delivery starts a fresh backlog.
	d3 := newDelivery(3, acker)
	_, ok = e.Bind("producer-2", d3)
	require.False(t, ok)
	require.Equal(t, 3, counters.backlogged)
}

func TestSweepDropsBoundStateAfterPodTTL(t *testing.T) {
	acker := newFakeAcker()
	counters := &countingCounters{}
	replay := func(context.Context, broker.Delivery, meta.Application) {}

	e := NewEngine(Config{PodTTL: time.Millisecond, PodWithoutMetaTTL: time.Hour}, replay, counters)
	e.HandlePodEvent(context.Background(), "producer-3", meta.Application{"job": "sage"})

	time.Sleep(5 * time.Millisecond)
	e.Sweep()

	// State dropped means the next delivery backlogs again rather than
	// resolving against the now-forgotten metadata.
	d := newDelivery(1, acker)
	_, ok := e.Bind("producer-3", d)
	require.False(t, ok, "expired bound state must not still resolve metadata")
}

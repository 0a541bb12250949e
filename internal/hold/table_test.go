package hold

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinsk/seatwave/internal/domain"
)

type fakeSeats struct {
	mu       sync.Mutex
	statuses map[int64]domain.SeatStatus
}

func newFakeSeats() *fakeSeats {
	return &fakeSeats{statuses: make(map[int64]domain.SeatStatus)}
}

func (f *fakeSeats) set(seatID int64, st domain.SeatStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[seatID] = st
}

func (f *fakeSeats) SeatStatus(_ context.Context, seatID int64) (domain.SeatStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.statuses[seatID]; ok {
		return st, nil
	}
	return domain.SeatAvailable, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeNotifier) Notify(_ context.Context, ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeNotifier) all() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestTable(ttl time.Duration) (*Table, *fakeSeats, *fakeNotifier, *clock) {
	seats := newFakeSeats()
	notifier := &fakeNotifier{}
	clk := newClock()
	return NewTable(ttl, seats, notifier, WithClock(clk.now)), seats, notifier, clk
}

func TestTableAcquire(t *testing.T) {
	ctx := context.Background()
	tbl, _, notifier, _ := newTestTable(5 * time.Minute)

	require.NoError(t, tbl.Acquire(ctx, 1, 10, 100, "conn-a"))

	states, err := tbl.Query(ctx, []int64{1})
	require.NoError(t, err)
	assert.True(t, states[1].IsHeld)
	assert.Equal(t, int64(100), states[1].HeldBy)

	events := notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventHeld, events[0].Type)
	assert.Equal(t, int64(1), events[0].SeatID)
	assert.Equal(t, "conn-a", events[0].Conn)
}

func TestTableAcquireRejectsOtherHolder(t *testing.T) {
	ctx := context.Background()
	tbl, _, _, clk := newTestTable(5 * time.Minute)

	require.NoError(t, tbl.Acquire(ctx, 1, 10, 100, "conn-a"))

	err := tbl.Acquire(ctx, 1, 10, 200, "conn-b")
	assert.ErrorIs(t, err, ErrHeldByAnother)

	// Once the hold expires the seat is up for grabs again.
	clk.advance(5*time.Minute + time.Millisecond)
	require.NoError(t, tbl.Acquire(ctx, 1, 10, 200, "conn-b"))

	states, err := tbl.Query(ctx, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, int64(200), states[1].HeldBy)
}

func TestTableReacquireRefreshesLease(t *testing.T) {
	ctx := context.Background()
	tbl, _, _, clk := newTestTable(5 * time.Minute)

	require.NoError(t, tbl.Acquire(ctx, 1, 10, 100, "conn-a"))

	clk.advance(4 * time.Minute)
	require.NoError(t, tbl.Acquire(ctx, 1, 10, 100, "conn-a"))

	// Past the original expiry but within the refreshed one.
	clk.advance(2 * time.Minute)
	states, err := tbl.Query(ctx, []int64{1})
	require.NoError(t, err)
	assert.True(t, states[1].IsHeld)

	err = tbl.Acquire(ctx, 1, 10, 200, "conn-b")
	assert.ErrorIs(t, err, ErrHeldByAnother)
}

func TestTableAcquireSeatNotAvailable(t *testing.T) {
	ctx := context.Background()
	tbl, seats, notifier, _ := newTestTable(5 * time.Minute)

	seats.set(2, domain.SeatSold)

	err := tbl.Acquire(ctx, 2, 10, 100, "conn-a")
	assert.ErrorIs(t, err, ErrSeatNotAvailable)
	assert.Empty(t, notifier.all())
}

func TestTableRelease(t *testing.T) {
	ctx := context.Background()
	tbl, _, notifier, _ := newTestTable(5 * time.Minute)

	require.NoError(t, tbl.Acquire(ctx, 1, 10, 100, "conn-a"))

	// Non-holder release is a tolerated no-op.
	require.NoError(t, tbl.Release(ctx, 1, 200))
	states, err := tbl.Query(ctx, []int64{1})
	require.NoError(t, err)
	assert.True(t, states[1].IsHeld)

	require.NoError(t, tbl.Release(ctx, 1, 100))
	states, err = tbl.Query(ctx, []int64{1})
	require.NoError(t, err)
	assert.False(t, states[1].IsHeld)

	// Double release is fine too.
	require.NoError(t, tbl.Release(ctx, 1, 100))

	events := notifier.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventReleased, events[1].Type)
	assert.Equal(t, "conn-a", events[1].Conn)
}

func TestTableConsume(t *testing.T) {
	ctx := context.Background()
	tbl, _, notifier, _ := newTestTable(5 * time.Minute)

	require.NoError(t, tbl.Acquire(ctx, 1, 10, 100, "conn-a"))
	require.NoError(t, tbl.Consume(ctx, 1, 100))

	states, err := tbl.Query(ctx, []int64{1})
	require.NoError(t, err)
	assert.False(t, states[1].IsHeld)

	events := notifier.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventBooked, events[1].Type)

	// Consuming an absent lease stays quiet.
	require.NoError(t, tbl.Consume(ctx, 1, 100))
	assert.Len(t, notifier.all(), 2)
}

func TestTableSweepExpiredBoundary(t *testing.T) {
	ctx := context.Background()
	ttl := 5 * time.Minute
	tbl, _, notifier, clk := newTestTable(ttl)

	require.NoError(t, tbl.Acquire(ctx, 1, 10, 100, "conn-a"))

	// Exactly at the TTL the lease still counts as live.
	assert.Equal(t, 0, tbl.SweepExpired(ctx, clk.now().Add(ttl)))

	evicted := tbl.SweepExpired(ctx, clk.now().Add(ttl+time.Millisecond))
	assert.Equal(t, 1, evicted)

	events := notifier.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventReleased, events[1].Type)
	assert.Equal(t, int64(1), events[1].SeatID)

	// Idempotent.
	assert.Equal(t, 0, tbl.SweepExpired(ctx, clk.now().Add(ttl+time.Millisecond)))
}

func TestTableReleaseAllForConnection(t *testing.T) {
	ctx := context.Background()
	tbl, _, notifier, _ := newTestTable(5 * time.Minute)

	require.NoError(t, tbl.Acquire(ctx, 1, 10, 100, "conn-a"))
	require.NoError(t, tbl.Acquire(ctx, 2, 10, 100, "conn-a"))
	require.NoError(t, tbl.Acquire(ctx, 3, 10, 200, "conn-b"))

	released := tbl.ReleaseAllForConnection(ctx, "conn-a")
	assert.Equal(t, 2, released)

	states, err := tbl.Query(ctx, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.False(t, states[1].IsHeld)
	assert.False(t, states[2].IsHeld)
	assert.True(t, states[3].IsHeld)

	var releases int
	for _, ev := range notifier.all() {
		if ev.Type == EventReleased {
			releases++
		}
	}
	assert.Equal(t, 2, releases)
}

func TestTableQueryExpiredLease(t *testing.T) {
	ctx := context.Background()
	tbl, _, _, clk := newTestTable(time.Minute)

	require.NoError(t, tbl.Acquire(ctx, 1, 10, 100, "conn-a"))

	clk.advance(time.Minute + time.Millisecond)

	states, err := tbl.Query(ctx, []int64{1})
	require.NoError(t, err)
	assert.False(t, states[1].IsHeld)
	assert.Zero(t, states[1].HeldBy)
}

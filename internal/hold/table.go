package hold

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avelinsk/seatwave/internal/domain"
)

// Table is the process-local Registry: a mutex-guarded map from seat ID to
// lease. Suitable for single-instance deployments; multi-instance setups
// use the Redis-backed registry instead.
type Table struct {
	mu     sync.Mutex
	leases map[int64]Lease

	ttl      time.Duration
	seats    SeatChecker
	notifier Notifier
	now      func() time.Time
}

type TableOption func(*Table)

// WithClock overrides the time source; tests use it to cross the expiry
// boundary deterministically.
func WithClock(now func() time.Time) TableOption {
	return func(t *Table) { t.now = now }
}

func NewTable(ttl time.Duration, seats SeatChecker, notifier Notifier, opts ...TableOption) *Table {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	t := &Table{
		leases:   make(map[int64]Lease),
		ttl:      ttl,
		seats:    seats,
		notifier: notifier,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *Table) Acquire(ctx context.Context, seatID, eventID, userID int64, connID string) error {
	const op = "hold.Table.Acquire"

	now := t.now()

	t.mu.Lock()
	lease, ok := t.leases[seatID]
	held := ok && now.Sub(lease.AcquiredAt) <= t.ttl
	t.mu.Unlock()

	if held && lease.UserID != userID {
		return fmt.Errorf("%s:%w", op, ErrHeldByAnother)
	}

	status, err := t.seats.SeatStatus(ctx, seatID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if status != domain.SeatAvailable {
		return fmt.Errorf("%s:%w", op, ErrSeatNotAvailable)
	}

	// Re-check under the lock: another connection may have taken the seat
	// while we were reading the seat status.
	t.mu.Lock()
	lease, ok = t.leases[seatID]
	if ok && t.now().Sub(lease.AcquiredAt) <= t.ttl && lease.UserID != userID {
		t.mu.Unlock()
		return fmt.Errorf("%s:%w", op, ErrHeldByAnother)
	}

	t.leases[seatID] = Lease{
		SeatID:     seatID,
		EventID:    eventID,
		UserID:     userID,
		ConnID:     connID,
		AcquiredAt: t.now(),
	}
	t.mu.Unlock()

	t.notify(ctx, Event{
		Type:    EventHeld,
		EventID: eventID,
		SeatID:  seatID,
		UserID:  userID,
		Conn:    connID,
	})

	return nil
}

func (t *Table) Release(ctx context.Context, seatID, userID int64) error {
	t.mu.Lock()
	lease, ok := t.leases[seatID]
	if !ok || lease.UserID != userID {
		t.mu.Unlock()
		return nil
	}

	delete(t.leases, seatID)
	t.mu.Unlock()

	t.notify(ctx, Event{
		Type:    EventReleased,
		EventID: lease.EventID,
		SeatID:  seatID,
		Conn:    lease.ConnID,
	})

	return nil
}

func (t *Table) Consume(ctx context.Context, seatID, userID int64) error {
	t.mu.Lock()
	lease, ok := t.leases[seatID]
	if ok {
		delete(t.leases, seatID)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}

	t.notify(ctx, Event{
		Type:    EventBooked,
		EventID: lease.EventID,
		SeatID:  seatID,
		UserID:  userID,
		Conn:    lease.ConnID,
	})

	return nil
}

func (t *Table) Query(ctx context.Context, seatIDs []int64) (map[int64]State, error) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[int64]State, len(seatIDs))
	for _, id := range seatIDs {
		lease, ok := t.leases[id]
		if ok && now.Sub(lease.AcquiredAt) <= t.ttl {
			out[id] = State{IsHeld: true, HeldBy: lease.UserID}
		} else {
			out[id] = State{}
		}
	}

	return out, nil
}

func (t *Table) SweepExpired(ctx context.Context, now time.Time) int {
	t.mu.Lock()

	var expired []Lease
	for id, lease := range t.leases {
		if now.Sub(lease.AcquiredAt) > t.ttl {
			delete(t.leases, id)
			expired = append(expired, lease)
		}
	}
	t.mu.Unlock()

	for _, lease := range expired {
		t.notify(ctx, Event{
			Type:    EventReleased,
			EventID: lease.EventID,
			SeatID:  lease.SeatID,
			Conn:    lease.ConnID,
		})
	}

	return len(expired)
}

func (t *Table) ReleaseAllForConnection(ctx context.Context, connID string) int {
	t.mu.Lock()

	var released []Lease
	for id, lease := range t.leases {
		if lease.ConnID == connID {
			delete(t.leases, id)
			released = append(released, lease)
		}
	}
	t.mu.Unlock()

	for _, lease := range released {
		t.notify(ctx, Event{
			Type:    EventReleased,
			EventID: lease.EventID,
			SeatID:  lease.SeatID,
			Conn:    lease.ConnID,
		})
	}

	return len(released)
}

func (t *Table) notify(ctx context.Context, ev Event) {
	if t.notifier != nil {
		t.notifier.Notify(ctx, ev)
	}
}

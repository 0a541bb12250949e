// Package hold implements the advisory seat-hold layer: a time-bounded
// lease on a seat that improves UX while a user decides, without gating the
// authoritative booking transaction.
package hold

import (
	"context"
	"errors"
	"time"

	"github.com/avelinsk/seatwave/internal/domain"
)

var (
	ErrHeldByAnother    = errors.New("seat is held by another user")
	ErrSeatNotAvailable = errors.New("seat is not available")
)

// Lease is one advisory hold: who holds the seat, over which connection,
// and since when. A lease older than the registry TTL is logically expired
// even before the sweeper removes it.
type Lease struct {
	SeatID     int64
	EventID    int64
	UserID     int64
	ConnID     string
	AcquiredAt time.Time
}

// State is the snapshot answer for a single seat.
type State struct {
	IsHeld bool
	HeldBy int64
}

// EventType enumerates hold lifecycle broadcasts.
type EventType string

const (
	EventHeld     EventType = "seat-held"
	EventReleased EventType = "seat-released"
	EventBooked   EventType = "seat-booked"
)

// Event is a hold lifecycle notification for an event room. Conn names the
// originating connection, which is excluded from delivery.
type Event struct {
	Type    EventType
	EventID int64
	SeatID  int64
	UserID  int64
	Conn    string
}

// Notifier fans Event out to everyone watching the event room. Delivery is
// best-effort; the registry never fails an operation over a notification.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// SeatChecker reads the persisted seat status. Acquire requires the seat to
// be available but deliberately stops there: the check is eventual, the
// booking transaction is authoritative.
type SeatChecker interface {
	SeatStatus(ctx context.Context, seatID int64) (domain.SeatStatus, error)
}

// Registry is the ephemeral keyed-lease abstraction over seat holds.
// Implementations must serialize mutations; two connections can race to
// hold the same seat.
type Registry interface {
	// Acquire takes or renews the lease. Re-acquiring by the same user
	// refreshes the timestamp. Fails with ErrHeldByAnother while an
	// unexpired lease belongs to someone else, or ErrSeatNotAvailable
	// when the persisted seat status is not available.
	Acquire(ctx context.Context, seatID, eventID, userID int64, connID string) error

	// Release drops the lease if userID holds it; double release and
	// releasing an absent hold are tolerated no-ops.
	Release(ctx context.Context, seatID, userID int64) error

	// Consume removes the lease unconditionally when the holder proceeds
	// to a confirmed booking.
	Consume(ctx context.Context, seatID, userID int64) error

	// Query returns a snapshot of hold state for the given seats.
	Query(ctx context.Context, seatIDs []int64) (map[int64]State, error)

	// SweepExpired evicts every lease older than the TTL as of now.
	// Idempotent. Returns the number of evicted leases.
	SweepExpired(ctx context.Context, now time.Time) int

	// ReleaseAllForConnection drops every lease owned by the connection,
	// broadcasting a release for each. Called on connection loss.
	ReleaseAllForConnection(ctx context.Context, connID string) int
}

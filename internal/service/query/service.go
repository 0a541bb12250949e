// Package query serves the read side: seat maps with live hold state,
// availability counts and booking/payment history. Persisted rows are cached;
// hold state is always read live from the registry.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avelinsk/seatwave/internal/domain"
	"github.com/avelinsk/seatwave/internal/hold"
	"github.com/avelinsk/seatwave/internal/repository"
	postgresrepo "github.com/avelinsk/seatwave/internal/repository/postgres"
	redisrepo "github.com/avelinsk/seatwave/internal/repository/redis"
)

const (
	seatListCacheTTL     = 15 * time.Second
	availabilityCacheTTL = 5 * time.Second

	// Venue seat maps top out well below this.
	seatListLimit = 10000
)

type Service struct {
	store    *postgresrepo.Store
	cache    *redisrepo.Cache
	registry hold.Registry
	logger   *slog.Logger
}

func New(
	store *postgresrepo.Store,
	cache *redisrepo.Cache,
	registry hold.Registry,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		registry: registry,
		logger:   logger,
	}
}

func (s *Service) GetEvent(ctx context.Context, eventID int64) (*domain.Event, error) {
	const op = "query.Service.GetEvent"

	ev, err := s.store.Query().GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return ev, nil
}

// EventSeatsWithHolds returns the event's full seat map, each seat carrying
// its persisted status plus live advisory-hold state. The persisted listing
// is cached briefly; hold state is merged in fresh on every call so a hold
// shows up within one round trip.
func (s *Service) EventSeatsWithHolds(
	ctx context.Context,
	eventID int64,
) ([]domain.SeatWithHold, error) {
	const op = "query.Service.EventSeatsWithHolds"

	seats, err := s.loadSeats(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	ids := make([]int64, len(seats))
	for i, seat := range seats {
		ids[i] = seat.ID
	}

	holds, err := s.registry.Query(ctx, ids)
	if err != nil {
		// A degraded registry should not take the seat map down; holds are
		// advisory.
		s.logger.Warn("hold registry query failed",
			slog.Int64("event_id", eventID),
			slog.Any("error", err),
		)
		holds = nil
	}

	out := make([]domain.SeatWithHold, len(seats))
	for i, seat := range seats {
		sw := domain.SeatWithHold{Seat: seat}
		if st, ok := holds[seat.ID]; ok && st.IsHeld && seat.Status == domain.SeatAvailable {
			sw.IsHeld = true
			sw.HeldBy = st.HeldBy
		}
		out[i] = sw
	}

	return out, nil
}

func (s *Service) loadSeats(ctx context.Context, eventID int64) ([]domain.Seat, error) {
	loader := func(ctx context.Context) ([]domain.Seat, error) {
		seats, err := s.store.Query().ListEventSeats(ctx, eventID, seatListLimit, 0)
		if err != nil {
			return nil, err
		}
		if len(seats) == 0 {
			// Distinguish an unknown event from a venue with no seats.
			if _, err := s.store.Query().GetEvent(ctx, eventID); err != nil {
				return nil, err
			}
		}
		return seats, nil
	}

	if s.cache == nil {
		return loader(ctx)
	}

	return redisrepo.GetOrSetJSON(ctx, s.cache, redisrepo.KeyEventSeats(eventID), seatListCacheTTL, loader)
}

// Availability returns per-status seat counts for the event, cached briefly.
func (s *Service) Availability(ctx context.Context, eventID int64) (*postgresrepo.SeatCounts, error) {
	const op = "query.Service.Availability"

	loader := func(ctx context.Context) (*postgresrepo.SeatCounts, error) {
		return s.store.Query().CountsByStatus(ctx, eventID)
	}

	var counts *postgresrepo.SeatCounts
	var err error
	if s.cache == nil {
		counts, err = loader(ctx)
	} else {
		counts, err = redisrepo.GetOrSetJSON(ctx, s.cache, redisrepo.KeyEventAvailability(eventID), availabilityCacheTTL, loader)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return counts, nil
}

// GetBooking loads a booking; non-admin actors may only read their own.
func (s *Service) GetBooking(
	ctx context.Context,
	id uuid.UUID,
	actorID int64,
	actorIsAdmin bool,
) (*domain.Booking, error) {
	const op = "query.Service.GetBooking"

	b, err := s.store.Query().GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if b.UserID != actorID && !actorIsAdmin {
		return nil, fmt.Errorf("%s:%w", op, ErrAccessDenied)
	}

	return b, nil
}

func (s *Service) ListBookings(
	ctx context.Context,
	userID int64,
	status domain.BookingStatus,
	limit, offset int,
) ([]domain.Booking, error) {
	const op = "query.Service.ListBookings"

	out, err := s.store.Query().ListBookingsByUser(ctx, userID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (s *Service) ListPayments(
	ctx context.Context,
	userID int64,
	limit, offset int,
) ([]domain.Payment, error) {
	const op = "query.Service.ListPayments"

	out, err := s.store.Payments().ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// SeatStatus reads the persisted status of one seat, uncached. It backs the
// hold registry's availability check.
func (s *Service) SeatStatus(ctx context.Context, seatID int64) (domain.SeatStatus, error) {
	seat, err := s.store.Query().GetSeat(ctx, seatID)
	if err != nil {
		return "", err
	}

	return seat.Status, nil
}

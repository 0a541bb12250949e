package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelinsk/seatwave/internal/domain"
	"github.com/avelinsk/seatwave/internal/repository"
)

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// TransitionSeat moves a seat from one status to another. The from-status
// guard in the WHERE clause is what keeps concurrent bookings from both
// claiming the same seat: zero affected rows means another transaction got
// there first.
//
// Returns:
//   - error: repository.ErrSeatUnavailable if the seat was not in the
//     expected status.
func (r *BookingRepo) TransitionSeat(
	ctx context.Context,
	seatID int64,
	from, to domain.SeatStatus,
) error {
	const op = "postgres.BookingRepo.TransitionSeat"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE seats
            SET status = $3
          WHERE id = $1
            AND status = $2`,
		seatID, from, to,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrSeatUnavailable)
	}

	return nil
}

// Create inserts a new pending booking row.
//
// Returns:
//   - error: repository.ErrConflict if the user already has an active
//     booking for the event, or the seat already has an active booking
//     (partial unique indexes).
func (r *BookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.Create"

	db := r.handle()

	if err := db.QueryRow(ctx,
		`INSERT INTO bookings(id, user_id, event_id, seat_id, status, total_cents)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING created_at`,
		b.ID, b.UserID, b.EventID, b.SeatID, b.Status, b.TotalCents,
	).Scan(&b.CreatedAt); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// GetForUpdate loads a booking with a row lock, serializing concurrent
// confirm/cancel/refund attempts on the same booking.
func (r *BookingRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.GetForUpdate"

	db := r.handle()

	var b domain.Booking
	var paymentRef *string
	err := db.QueryRow(ctx,
		`SELECT id, user_id, event_id, seat_id, status, total_cents, payment_ref, created_at
           FROM bookings
          WHERE id = $1
            FOR UPDATE`,
		id,
	).Scan(&b.ID, &b.UserID, &b.EventID, &b.SeatID, &b.Status, &b.TotalCents, &paymentRef, &b.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	if paymentRef != nil {
		b.PaymentRef = *paymentRef
	}

	return &b, nil
}

// HasActiveForUserEvent reports whether the user already holds a pending or
// confirmed booking for the event.
func (r *BookingRepo) HasActiveForUserEvent(
	ctx context.Context,
	userID, eventID int64,
) (bool, error) {
	const op = "postgres.BookingRepo.HasActiveForUserEvent"

	db := r.handle()

	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS(
            SELECT 1 FROM bookings
             WHERE user_id = $1
               AND event_id = $2
               AND status IN ('pending', 'confirmed'))`,
		userID, eventID,
	).Scan(&exists)
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	return exists, nil
}

// SetStatus transitions a booking row. The optional paymentRef is recorded
// when the booking is confirmed.
func (r *BookingRepo) SetStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.BookingStatus,
	paymentRef string,
) error {
	const op = "postgres.BookingRepo.SetStatus"

	db := r.handle()

	var tagErr error
	if paymentRef != "" {
		tag, err := db.Exec(ctx,
			`UPDATE bookings SET status = $2, payment_ref = $3 WHERE id = $1`,
			id, status, paymentRef,
		)
		if err == nil && tag.RowsAffected() == 0 {
			tagErr = repository.ErrNotFound
		} else {
			tagErr = err
		}
	} else {
		tag, err := db.Exec(ctx,
			`UPDATE bookings SET status = $2 WHERE id = $1`,
			id, status,
		)
		if err == nil && tag.RowsAffected() == 0 {
			tagErr = repository.ErrNotFound
		} else {
			tagErr = err
		}
	}

	if tagErr != nil {
		return wrapDBErr(op, tagErr)
	}

	return nil
}

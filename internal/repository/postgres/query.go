package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelinsk/seatwave/internal/domain"
)

type QueryRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *QueryRepo) With(db DB) *QueryRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *QueryRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// GetEvent retrieves an event by its ID.
//
// Returns:
//   - error: repository.ErrNotFound if the event does not exist.
func (r *QueryRepo) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgres.QueryRepo.GetEvent"

	db := r.handle()

	var e domain.Event
	err := db.QueryRow(ctx,
		`SELECT id, venue_id, title, starts_at, status
           FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.VenueID, &e.Title, &e.Starts, &e.Status)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &e, nil
}

// GetSeat retrieves a seat by its ID.
//
// Returns:
//   - error: repository.ErrNotFound if the seat does not exist.
func (r *QueryRepo) GetSeat(ctx context.Context, id int64) (*domain.Seat, error) {
	const op = "postgres.QueryRepo.GetSeat"

	db := r.handle()

	var s domain.Seat
	err := db.QueryRow(ctx,
		`SELECT id, venue_id, section, "row", number, price_cents, status
           FROM seats WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.VenueID, &s.Section, &s.Row, &s.Number, &s.PriceCents, &s.Status)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &s, nil
}

// ListEventSeats lists all seats of the event's venue with their persisted
// status, ordered for a stable seat map.
func (r *QueryRepo) ListEventSeats(
	ctx context.Context,
	eventID int64,
	limit, offset int,
) ([]domain.Seat, error) {
	const op = "postgres.QueryRepo.ListEventSeats"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT s.id, s.venue_id, s.section, s.row, s.number, s.price_cents, s.status
           FROM seats s
           JOIN events e ON e.venue_id = s.venue_id
          WHERE e.id = $1
          ORDER BY s.section, s.row, s.number
          LIMIT $2 OFFSET $3`,
		eventID, limit, offset,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Seat
	for rows.Next() {
		var s domain.Seat
		if err := rows.Scan(&s.ID, &s.VenueID, &s.Section, &s.Row, &s.Number, &s.PriceCents, &s.Status); err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

// SeatCounts holds per-status seat totals for an event's venue.
type SeatCounts struct {
	Available int64
	Reserved  int64
	Sold      int64
	Total     int64
}

func (r *QueryRepo) CountsByStatus(ctx context.Context, eventID int64) (*SeatCounts, error) {
	const op = "postgres.QueryRepo.CountsByStatus"

	db := r.handle()

	var c SeatCounts
	err := db.QueryRow(ctx,
		`SELECT
            COUNT(*) FILTER (WHERE s.status = 'available'),
            COUNT(*) FILTER (WHERE s.status = 'reserved'),
            COUNT(*) FILTER (WHERE s.status = 'sold'),
            COUNT(*)
           FROM seats s
           JOIN events e ON e.venue_id = s.venue_id
          WHERE e.id = $1`,
		eventID,
	).Scan(&c.Available, &c.Reserved, &c.Sold, &c.Total)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &c, nil
}

// GetBooking retrieves a booking by its ID.
func (r *QueryRepo) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.QueryRepo.GetBooking"

	db := r.handle()

	var b domain.Booking
	var paymentRef *string
	err := db.QueryRow(ctx,
		`SELECT id, user_id, event_id, seat_id, status, total_cents, payment_ref, created_at
           FROM bookings WHERE id = $1`,
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

// GetPendingBookingByPaymentRef finds the pending booking that recorded the
// given gateway intent id. Used by the webhook path to settle a booking whose
// confirm call never arrived.
func (r *QueryRepo) GetPendingBookingByPaymentRef(ctx context.Context, ref string) (*domain.Booking, error) {
	const op = "postgres.QueryRepo.GetPendingBookingByPaymentRef"

	db := r.handle()

	var b domain.Booking
	var paymentRef *string
	err := db.QueryRow(ctx,
		`SELECT id, user_id, event_id, seat_id, status, total_cents, payment_ref, created_at
           FROM bookings
          WHERE payment_ref = $1
            AND status = 'pending'`,
		ref,
	).Scan(&b.ID, &b.UserID, &b.EventID, &b.SeatID, &b.Status, &b.TotalCents, &paymentRef, &b.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	if paymentRef != nil {
		b.PaymentRef = *paymentRef
	}

	return &b, nil
}

// ListBookingsByUser returns the user's bookings, newest first, optionally
// filtered by status.
func (r *QueryRepo) ListBookingsByUser(
	ctx context.Context,
	userID int64,
	status domain.BookingStatus,
	limit, offset int,
) ([]domain.Booking, error) {
	const op = "postgres.QueryRepo.ListBookingsByUser"

	db := r.handle()

	query := `SELECT id, user_id, event_id, seat_id, status, total_cents, payment_ref, created_at
                FROM bookings
               WHERE user_id = $1
                 AND ($2 = '' OR status = $2::booking_status)
               ORDER BY created_at DESC
               LIMIT $3 OFFSET $4`

	rows, err := db.Query(ctx, query, userID, string(status), limit, offset)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		var b domain.Booking
		var paymentRef *string
		if err := rows.Scan(&b.ID, &b.UserID, &b.EventID, &b.SeatID, &b.Status, &b.TotalCents, &paymentRef, &b.CreatedAt); err != nil {
			return nil, wrapDBErr(op, err)
		}
		if paymentRef != nil {
			b.PaymentRef = *paymentRef
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

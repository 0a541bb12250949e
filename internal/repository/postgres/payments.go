package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelinsk/seatwave/internal/domain"
)

type PaymentRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *PaymentRepo) With(db DB) *PaymentRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *PaymentRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Insert records a payment. ON CONFLICT on the gateway intent id makes a
// confirm retry after a crash a no-op rather than a double entry.
//
// Returns:
//   - bool: whether a new row was written.
func (r *PaymentRepo) Insert(ctx context.Context, p *domain.Payment) (bool, error) {
	const op = "postgres.PaymentRepo.Insert"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`INSERT INTO payments(id, booking_id, stripe_id, amount_cents, currency, status)
         VALUES ($1, $2, $3, $4, $5, $6)
         ON CONFLICT (stripe_id) DO NOTHING`,
		p.ID, p.BookingID, p.StripeID, p.AmountCents, p.Currency, p.Status,
	)
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *PaymentRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	const op = "postgres.PaymentRepo.Get"

	db := r.handle()

	var p domain.Payment
	err := db.QueryRow(ctx,
		`SELECT id, booking_id, stripe_id, amount_cents, currency, status, created_at
           FROM payments WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.BookingID, &p.StripeID, &p.AmountCents, &p.Currency, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &p, nil
}

func (r *PaymentRepo) SetStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.PaymentStatus,
) error {
	const op = "postgres.PaymentRepo.SetStatus"

	db := r.handle()

	_, err := db.Exec(ctx,
		`UPDATE payments SET status = $2 WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// ListByUser returns the user's payment history, newest first.
func (r *PaymentRepo) ListByUser(
	ctx context.Context,
	userID int64,
	limit, offset int,
) ([]domain.Payment, error) {
	const op = "postgres.PaymentRepo.ListByUser"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT p.id, p.booking_id, p.stripe_id, p.amount_cents, p.currency, p.status, p.created_at
           FROM payments p
           JOIN bookings b ON b.id = p.booking_id
          WHERE b.user_id = $1
          ORDER BY p.created_at DESC
          LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.BookingID, &p.StripeID, &p.AmountCents, &p.Currency, &p.Status, &p.CreatedAt); err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

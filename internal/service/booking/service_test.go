package booking

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinsk/seatwave/internal/domain"
	"github.com/avelinsk/seatwave/internal/payment"
	postgresrepo "github.com/avelinsk/seatwave/internal/repository/postgres"
	"github.com/avelinsk/seatwave/internal/uow"
)

// The suite needs a disposable Postgres. Point TEST_DATABASE_URL at one to
// run it; the schema is reset on every run.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	resetSchema(t, pool)
	return pool
}

func resetSchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
        DROP TABLE IF EXISTS payments, bookings, events, seats, venues, users CASCADE;
        DROP TYPE IF EXISTS seat_status, booking_status, event_status, payment_status CASCADE;
    `)
	require.NoError(t, err)

	schema, err := os.ReadFile("../../../migrations/0001_init.sql")
	require.NoError(t, err)

	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)
}

type fixture struct {
	eventID int64
	seatIDs []int64
	userA   int64
	userB   int64
}

func seed(t *testing.T, pool *pgxpool.Pool) fixture {
	t.Helper()
	ctx := context.Background()

	var f fixture

	var venueID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO venues(name) VALUES ('Main Hall') RETURNING id`,
	).Scan(&venueID))

	for n := 1; n <= 3; n++ {
		var seatID int64
		require.NoError(t, pool.QueryRow(ctx,
			`INSERT INTO seats(venue_id, section, "row", number, price_cents)
             VALUES ($1, 'A', '1', $2, 2500) RETURNING id`,
			venueID, n,
		).Scan(&seatID))
		f.seatIDs = append(f.seatIDs, seatID)
	}

	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO events(venue_id, title, starts_at)
         VALUES ($1, 'Late Show', now() + interval '7 days') RETURNING id`,
		venueID,
	).Scan(&f.eventID))

	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO users(email) VALUES ('a@example.com') RETURNING id`,
	).Scan(&f.userA))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO users(email) VALUES ('b@example.com') RETURNING id`,
	).Scan(&f.userB))

	return f
}

// fakeGateway settles everything instantly and remembers its refunds.
type fakeGateway struct {
	mu      sync.Mutex
	intents map[string]payment.IntentStatus
	refunds []string
	seq     int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: make(map[string]payment.IntentStatus)}
}

func (g *fakeGateway) CreateIntent(_ context.Context, amountCents int64, _ map[string]string) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("pi_test_%d", g.seq)
	g.intents[id] = payment.IntentSucceeded
	return &payment.Intent{ID: id, ClientSecret: id + "_secret", Status: payment.IntentPending, AmountCents: amountCents}, nil
}

func (g *fakeGateway) RetrieveIntent(_ context.Context, intentID string) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("no such intent %s", intentID)
	}
	return &payment.Intent{ID: intentID, Status: st}, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, intentID string) (*payment.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, intentID)
	return &payment.Refund{ID: "re_" + intentID, IntentID: intentID, Status: "succeeded"}, nil
}

func (g *fakeGateway) VerifyWebhook(_ []byte, _ string) (*payment.WebhookEvent, error) {
	return nil, fmt.Errorf("not used in tests")
}

func (g *fakeGateway) failIntent(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[id] = payment.IntentFailed
}

func newTestService(pool *pgxpool.Pool, gw payment.Gateway) (*Service, *postgresrepo.Store) {
	store := postgresrepo.NewStore(pool)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, uow.NewUoW(store), gw, nil, nil, logger), store
}

func seatStatus(t *testing.T, pool *pgxpool.Pool, seatID int64) domain.SeatStatus {
	t.Helper()
	var st domain.SeatStatus
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT status FROM seats WHERE id = $1`, seatID,
	).Scan(&st))
	return st
}

func TestBookingLifecycle(t *testing.T) {
	pool := testPool(t)
	f := seed(t, pool)
	gw := newFakeGateway()
	svc, store := newTestService(pool, gw)
	ctx := context.Background()

	b, err := svc.Create(ctx, f.userA, f.eventID, f.seatIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, b.Status)
	assert.Equal(t, 2500, b.TotalCents)
	assert.Equal(t, domain.SeatReserved, seatStatus(t, pool, f.seatIDs[0]))

	// Same user cannot double up on the event even on another seat.
	_, err = svc.Create(ctx, f.userA, f.eventID, f.seatIDs[1])
	assert.ErrorIs(t, err, ErrDuplicateBooking)

	// Another user cannot touch the reserved seat.
	_, err = svc.Create(ctx, f.userB, f.eventID, f.seatIDs[0])
	assert.ErrorIs(t, err, ErrSeatUnavailable)

	intent, err := svc.CreatePaymentIntent(ctx, b.ID, f.userA)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), intent.AmountCents)

	confirmed, err := svc.Confirm(ctx, b.ID, f.userA, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, confirmed.Status)
	assert.Equal(t, intent.ID, confirmed.PaymentRef)
	assert.Equal(t, domain.SeatSold, seatStatus(t, pool, f.seatIDs[0]))

	// Confirm retry is a no-op returning the settled booking.
	again, err := svc.Confirm(ctx, b.ID, f.userA, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, again.Status)

	// A confirmed booking is refunded, not cancelled.
	_, err = svc.Cancel(ctx, b.ID, f.userA, false)
	assert.ErrorIs(t, err, ErrNotCancellable)

	payments, err := store.Payments().ListByUser(ctx, f.userA, 10, 0)
	require.NoError(t, err)
	require.Len(t, payments, 1)

	refund, err := svc.Refund(ctx, payments[0].ID, true)
	require.NoError(t, err)
	assert.Equal(t, "succeeded", refund.Status)
	assert.Equal(t, domain.SeatAvailable, seatStatus(t, pool, f.seatIDs[0]))

	final, err := store.Query().GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingRefunded, final.Status)
}

func TestCreateValidation(t *testing.T) {
	pool := testPool(t)
	f := seed(t, pool)
	svc, _ := newTestService(pool, newFakeGateway())
	ctx := context.Background()

	_, err := svc.Create(ctx, f.userA, 99999, f.seatIDs[0])
	assert.ErrorIs(t, err, ErrEventNotFound)

	_, err = svc.Create(ctx, f.userA, f.eventID, 99999)
	assert.ErrorIs(t, err, ErrSeatNotFound)

	// A seat that belongs to a different venue is rejected.
	var otherVenue, straySeat int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO venues(name) VALUES ('Annex') RETURNING id`,
	).Scan(&otherVenue))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO seats(venue_id, section, "row", number, price_cents)
         VALUES ($1, 'B', '1', 1, 1000) RETURNING id`,
		otherVenue,
	).Scan(&straySeat))

	_, err = svc.Create(ctx, f.userA, f.eventID, straySeat)
	assert.ErrorIs(t, err, ErrSeatVenueMismatch)

	// An event already underway takes no new bookings.
	var pastEvent int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO events(venue_id, title, starts_at)
         SELECT venue_id, 'Matinee', now() - interval '1 hour' FROM events WHERE id = $1
         RETURNING id`,
		f.eventID,
	).Scan(&pastEvent))

	_, err = svc.Create(ctx, f.userA, pastEvent, f.seatIDs[0])
	assert.ErrorIs(t, err, ErrEventPassed)
}

func TestConfirmRequiresSettledIntent(t *testing.T) {
	pool := testPool(t)
	f := seed(t, pool)
	gw := newFakeGateway()
	svc, _ := newTestService(pool, gw)
	ctx := context.Background()

	b, err := svc.Create(ctx, f.userA, f.eventID, f.seatIDs[0])
	require.NoError(t, err)

	intent, err := svc.CreatePaymentIntent(ctx, b.ID, f.userA)
	require.NoError(t, err)

	gw.failIntent(intent.ID)
	_, err = svc.Confirm(ctx, b.ID, f.userA, intent.ID)
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)

	// Nothing moved.
	assert.Equal(t, domain.SeatReserved, seatStatus(t, pool, f.seatIDs[0]))
}

func TestCancelFreesTheSeat(t *testing.T) {
	pool := testPool(t)
	f := seed(t, pool)
	svc, _ := newTestService(pool, newFakeGateway())
	ctx := context.Background()

	b, err := svc.Create(ctx, f.userA, f.eventID, f.seatIDs[0])
	require.NoError(t, err)

	// Only the owner or an admin may cancel.
	_, err = svc.Cancel(ctx, b.ID, f.userB, false)
	assert.ErrorIs(t, err, ErrAccessDenied)

	cancelled, err := svc.Cancel(ctx, b.ID, f.userA, false)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, cancelled.Status)
	assert.Equal(t, domain.SeatAvailable, seatStatus(t, pool, f.seatIDs[0]))

	// The seat is back on sale for someone else.
	_, err = svc.Create(ctx, f.userB, f.eventID, f.seatIDs[0])
	require.NoError(t, err)
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	pool := testPool(t)
	f := seed(t, pool)
	svc, _ := newTestService(pool, newFakeGateway())

	const racers = 8

	var wg sync.WaitGroup
	results := make([]error, racers)
	start := make(chan struct{})

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			// Distinct users so only the seat itself is contended.
			var userID int64
			err := pool.QueryRow(context.Background(),
				`INSERT INTO users(email) VALUES ($1) RETURNING id`,
				fmt.Sprintf("racer%d@example.com", i),
			).Scan(&userID)
			if err != nil {
				results[i] = err
				return
			}
			_, results[i] = svc.Create(context.Background(), userID, f.eventID, f.seatIDs[2])
		}(i)
	}

	close(start)
	wg.Wait()

	var wins int
	for i, err := range results {
		if err == nil {
			wins++
			continue
		}
		// Losers surface as a seat conflict, never as a raw serialization
		// failure.
		assert.ErrorIs(t, err, ErrSeatUnavailable, "racer %d: %v", i, err)
	}
	assert.Equal(t, 1, wins, "exactly one booking must win the seat")
	assert.Equal(t, domain.SeatReserved, seatStatus(t, pool, f.seatIDs[2]))

	// Losers must not have left partial rows behind.
	var count int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM bookings WHERE seat_id = $1`, f.seatIDs[2],
	).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRefundRequiresAdmin(t *testing.T) {
	pool := testPool(t)
	seed(t, pool)
	svc, _ := newTestService(pool, newFakeGateway())

	_, err := svc.Refund(context.Background(), uuid.New(), false)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

// Package booking owns every persisted seat and booking status transition.
// All writes go through serializable transactions; the hold table is advisory
// and never consulted here.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avelinsk/seatwave/internal/broker"
	"github.com/avelinsk/seatwave/internal/domain"
	"github.com/avelinsk/seatwave/internal/payment"
	"github.com/avelinsk/seatwave/internal/repository"
	postgresrepo "github.com/avelinsk/seatwave/internal/repository/postgres"
	redisrepo "github.com/avelinsk/seatwave/internal/repository/redis"
	"github.com/avelinsk/seatwave/internal/uow"
)

type Service struct {
	store   *postgresrepo.Store
	uow     *uow.UoW
	gateway payment.Gateway
	cache   *redisrepo.Cache
	broker  *broker.Broker
	logger  *slog.Logger
	now     func() time.Time
}

func New(
	store *postgresrepo.Store,
	u *uow.UoW,
	gateway payment.Gateway,
	cache *redisrepo.Cache,
	b *broker.Broker,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:   store,
		uow:     u,
		gateway: gateway,
		cache:   cache,
		broker:  b,
		logger:  logger,
		now:     time.Now,
	}
}

// Serializable transactions that cross abort with a serialization failure
// instead of seeing each other's writes. The unit is side-effect free until
// commit, so it is re-run; the retry then observes the winner's committed
// state and fails with the right sentinel (a raced seat re-reads as
// reserved).
const maxTxAttempts = 3

func (s *Service) doTx(
	ctx context.Context,
	fn func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error,
) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.uow.Do(ctx, fn)
		if err == nil || !postgresrepo.IsRetryable(err) {
			return err
		}
		s.logger.Debug("transaction retried after serialization failure",
			slog.Int("attempt", attempt),
		)
	}
	return err
}

// Create reserves a seat and opens a pending booking for it. Validation and
// the seat transition run in one serializable transaction, so two users
// racing for the same seat produce exactly one booking.
func (s *Service) Create(
	ctx context.Context,
	userID, eventID, seatID int64,
) (*domain.Booking, error) {
	const op = "booking.Service.Create"

	var created *domain.Booking

	err := s.doTx(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		queries := s.store.Query().With(tx)
		bookings := s.store.Bookings().With(tx)

		ev, err := queries.GetEvent(ctx, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrEventNotFound
			}
			return err
		}
		if ev.Status == domain.EventCancelled {
			return ErrEventCancelled
		}
		if !ev.Starts.After(s.now()) {
			return ErrEventPassed
		}

		seat, err := queries.GetSeat(ctx, seatID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrSeatNotFound
			}
			return err
		}
		if seat.VenueID != ev.VenueID {
			return ErrSeatVenueMismatch
		}
		if seat.Status != domain.SeatAvailable {
			return ErrSeatUnavailable
		}

		taken, err := bookings.HasActiveForUserEvent(ctx, userID, eventID)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateBooking
		}

		if err := bookings.TransitionSeat(ctx, seatID, domain.SeatAvailable, domain.SeatReserved); err != nil {
			if errors.Is(err, repository.ErrSeatUnavailable) {
				return ErrSeatUnavailable
			}
			return err
		}

		b := &domain.Booking{
			ID:         uuid.New(),
			UserID:     userID,
			EventID:    eventID,
			SeatID:     seatID,
			Status:     domain.BookingPending,
			TotalCents: seat.PriceCents,
		}
		if err := bookings.Create(ctx, b); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrDuplicateBooking
			}
			return err
		}
		created = b

		after(func(ctx context.Context) {
			s.invalidateEvent(ctx, eventID)
		})

		return nil
	})
	if err != nil {
		return nil, s.wrap(op, err)
	}

	s.logger.Info("booking created",
		slog.String("booking_id", created.ID.String()),
		slog.Int64("event_id", eventID),
		slog.Int64("seat_id", seatID),
		slog.Int64("user_id", userID),
	)

	return created, nil
}

// CreatePaymentIntent opens a gateway payment for a pending booking and
// records the intent id on the booking so a webhook delivery can settle it
// even if the client never calls confirm.
func (s *Service) CreatePaymentIntent(
	ctx context.Context,
	bookingID uuid.UUID,
	userID int64,
) (*payment.Intent, error) {
	const op = "booking.Service.CreatePaymentIntent"

	b, err := s.store.Query().GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if b.UserID != userID {
		return nil, fmt.Errorf("%s:%w", op, ErrAccessDenied)
	}
	if b.Status != domain.BookingPending {
		return nil, fmt.Errorf("%s:%w", op, ErrNotPending)
	}

	intent, err := s.gateway.CreateIntent(ctx, int64(b.TotalCents), map[string]string{
		"booking_id": b.ID.String(),
		"event_id":   fmt.Sprint(b.EventID),
		"seat_id":    fmt.Sprint(b.SeatID),
		"user_id":    fmt.Sprint(userID),
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if err := s.store.Bookings().SetStatus(ctx, b.ID, domain.BookingPending, intent.ID); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return intent, nil
}

// Confirm settles a pending booking against a succeeded gateway intent:
// booking confirmed, seat sold, payment recorded, all atomically. Calling it
// again with the same intent is a no-op that returns the confirmed booking.
func (s *Service) Confirm(
	ctx context.Context,
	bookingID uuid.UUID,
	userID int64,
	intentID string,
) (*domain.Booking, error) {
	const op = "booking.Service.Confirm"

	intent, err := s.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if intent.Status != payment.IntentSucceeded {
		return nil, fmt.Errorf("%s:%w", op, ErrPaymentNotCompleted)
	}

	b, err := s.settle(ctx, bookingID, intentID, func(b *domain.Booking) error {
		if b.UserID != userID {
			return ErrAccessDenied
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap(op, err)
	}

	return b, nil
}

// HandleWebhook authenticates a gateway delivery and, for a succeeded intent,
// settles the matching pending booking. It is the backstop for clients that
// paid but never reached the confirm endpoint; an unknown intent is not an
// error.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	const op = "booking.Service.HandleWebhook"

	ev, err := s.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if ev.Type != "payment_intent.succeeded" || ev.IntentID == "" {
		return nil
	}

	b, err := s.store.Query().GetPendingBookingByPaymentRef(ctx, ev.IntentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	if _, err := s.settle(ctx, b.ID, ev.IntentID, nil); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	s.logger.Info("booking settled via webhook",
		slog.String("booking_id", b.ID.String()),
		slog.String("intent_id", ev.IntentID),
	)

	return nil
}

// settle performs the confirm transaction. guard, when non-nil, runs against
// the locked booking row before any write.
func (s *Service) settle(
	ctx context.Context,
	bookingID uuid.UUID,
	intentID string,
	guard func(*domain.Booking) error,
) (*domain.Booking, error) {
	var settled *domain.Booking

	err := s.doTx(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		bookings := s.store.Bookings().With(tx)
		payments := s.store.Payments().With(tx)

		b, err := bookings.GetForUpdate(ctx, bookingID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrBookingNotFound
			}
			return err
		}

		if guard != nil {
			if err := guard(b); err != nil {
				return err
			}
		}

		// Retry of an already-settled confirm.
		if b.Status == domain.BookingConfirmed && b.PaymentRef == intentID {
			settled = b
			return nil
		}
		if b.Status != domain.BookingPending {
			return ErrNotPending
		}

		if err := bookings.SetStatus(ctx, b.ID, domain.BookingConfirmed, intentID); err != nil {
			return err
		}
		if err := bookings.TransitionSeat(ctx, b.SeatID, domain.SeatReserved, domain.SeatSold); err != nil {
			return err
		}
		if _, err := payments.Insert(ctx, &domain.Payment{
			ID:          uuid.New(),
			BookingID:   b.ID,
			StripeID:    intentID,
			AmountCents: b.TotalCents,
			Currency:    "usd",
			Status:      domain.PaymentSucceeded,
		}); err != nil {
			return err
		}

		b.Status = domain.BookingConfirmed
		b.PaymentRef = intentID
		settled = b

		after(func(ctx context.Context) {
			s.invalidateEvent(ctx, b.EventID)
			s.publish(ctx, broker.RouteBookingConfirmed, b)
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return settled, nil
}

// Cancel releases a pending booking and puts its seat back on sale. Paid
// bookings are not cancellable; they go through Refund.
func (s *Service) Cancel(
	ctx context.Context,
	bookingID uuid.UUID,
	actorID int64,
	actorIsAdmin bool,
) (*domain.Booking, error) {
	const op = "booking.Service.Cancel"

	var cancelled *domain.Booking

	err := s.doTx(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		queries := s.store.Query().With(tx)
		bookings := s.store.Bookings().With(tx)

		b, err := bookings.GetForUpdate(ctx, bookingID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrBookingNotFound
			}
			return err
		}
		if b.UserID != actorID && !actorIsAdmin {
			return ErrAccessDenied
		}
		if b.Status != domain.BookingPending {
			return ErrNotCancellable
		}

		ev, err := queries.GetEvent(ctx, b.EventID)
		if err != nil {
			return err
		}
		if !ev.Starts.After(s.now()) {
			return ErrEventStarted
		}

		if err := bookings.SetStatus(ctx, b.ID, domain.BookingCancelled, ""); err != nil {
			return err
		}
		if err := bookings.TransitionSeat(ctx, b.SeatID, domain.SeatReserved, domain.SeatAvailable); err != nil {
			return err
		}

		b.Status = domain.BookingCancelled
		cancelled = b

		after(func(ctx context.Context) {
			s.invalidateEvent(ctx, b.EventID)
		})

		return nil
	})
	if err != nil {
		return nil, s.wrap(op, err)
	}

	s.logger.Info("booking cancelled", slog.String("booking_id", cancelled.ID.String()))

	return cancelled, nil
}

// Refund reverses a settled payment. The gateway refund happens before any
// local write: if it fails nothing changes here, and the rows stay consistent
// with the money.
func (s *Service) Refund(
	ctx context.Context,
	paymentID uuid.UUID,
	actorIsAdmin bool,
) (*payment.Refund, error) {
	const op = "booking.Service.Refund"

	if !actorIsAdmin {
		return nil, fmt.Errorf("%s:%w", op, ErrAccessDenied)
	}

	p, err := s.store.Payments().Get(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrPaymentNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if p.Status != domain.PaymentSucceeded {
		return nil, fmt.Errorf("%s:%w", op, ErrNotRefundable)
	}

	refund, err := s.gateway.CreateRefund(ctx, p.StripeID)
	if err != nil {
		return nil, fmt.Errorf("%s: create refund: %w", op, err)
	}

	err = s.doTx(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		bookings := s.store.Bookings().With(tx)
		payments := s.store.Payments().With(tx)

		b, err := bookings.GetForUpdate(ctx, p.BookingID)
		if err != nil {
			return err
		}

		if err := payments.SetStatus(ctx, p.ID, domain.PaymentRefunded); err != nil {
			return err
		}
		if err := bookings.SetStatus(ctx, b.ID, domain.BookingRefunded, ""); err != nil {
			return err
		}
		if err := bookings.TransitionSeat(ctx, b.SeatID, domain.SeatSold, domain.SeatAvailable); err != nil {
			return err
		}

		b.Status = domain.BookingRefunded

		after(func(ctx context.Context) {
			s.invalidateEvent(ctx, b.EventID)
			s.publish(ctx, broker.RouteBookingRefunded, b)
		})

		return nil
	})
	if err != nil {
		// The gateway refund already went through; the local rows must be
		// reconciled by a retry or by hand.
		s.logger.Error("refund committed at gateway but local update failed",
			slog.String("payment_id", p.ID.String()),
			slog.String("refund_id", refund.ID),
			slog.Any("error", err),
		)
		return nil, s.wrap(op, err)
	}

	s.logger.Info("payment refunded",
		slog.String("payment_id", p.ID.String()),
		slog.String("refund_id", refund.ID),
	)

	return refund, nil
}

func (s *Service) invalidateEvent(ctx context.Context, eventID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateEvent(ctx, eventID); err != nil {
		s.logger.Warn("event cache invalidation failed",
			slog.Int64("event_id", eventID),
			slog.Any("error", err),
		)
	}
}

func (s *Service) publish(ctx context.Context, route string, b *domain.Booking) {
	if s.broker == nil {
		return
	}
	err := s.broker.PublishBooking(ctx, route, broker.BookingNotice{
		BookingID:  b.ID,
		UserID:     b.UserID,
		EventID:    b.EventID,
		SeatID:     b.SeatID,
		TotalCents: b.TotalCents,
		OccurredAt: s.now(),
	})
	if err != nil {
		s.logger.Warn("booking notice publish failed",
			slog.String("route", route),
			slog.Any("error", err),
		)
	}
}

// wrap keeps service sentinels bare for the transport layer and annotates
// everything else with the operation.
func (s *Service) wrap(op string, err error) error {
	for _, sentinel := range []error{
		ErrEventNotFound, ErrEventCancelled, ErrEventPassed,
		ErrSeatNotFound, ErrSeatUnavailable, ErrSeatVenueMismatch,
		ErrDuplicateBooking, ErrBookingNotFound, ErrNotPending,
		ErrNotCancellable, ErrEventStarted,
		ErrPaymentNotFound, ErrPaymentNotCompleted, ErrNotRefundable,
		ErrAccessDenied,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%s:%w", op, err)
}

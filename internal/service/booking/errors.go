package booking

import "errors"

var (
	ErrEventNotFound  = errors.New("event not found")
	ErrEventCancelled = errors.New("event is cancelled")
	ErrEventPassed    = errors.New("event has already passed")

	ErrSeatNotFound      = errors.New("seat not found")
	ErrSeatUnavailable   = errors.New("seat is not available")
	ErrSeatVenueMismatch = errors.New("seat does not belong to event venue")

	ErrDuplicateBooking = errors.New("user already has a booking for this event")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrNotPending       = errors.New("booking is not in pending status")
	ErrNotCancellable   = errors.New("booking cannot be cancelled")
	ErrEventStarted     = errors.New("cannot cancel booking for past events")

	ErrPaymentNotFound     = errors.New("payment not found")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrNotRefundable       = errors.New("payment cannot be refunded")

	ErrAccessDenied = errors.New("access denied")
)

package httpgin

import (
	"time"

	"github.com/avelinsk/seatwave/internal/domain"
)

type CreateBookingRequest struct {
	EventID int64 `json:"event_id" binding:"required"`
	SeatID  int64 `json:"seat_id" binding:"required"`
}

type CreateIntentRequest struct {
	BookingID string `json:"booking_id" binding:"required,uuid"`
}

type ConfirmPaymentRequest struct {
	BookingID       string `json:"booking_id" binding:"required,uuid"`
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type BookingResponse struct {
	ID         string    `json:"id"`
	EventID    int64     `json:"event_id"`
	SeatID     int64     `json:"seat_id"`
	Status     string    `json:"status"`
	TotalCents int       `json:"total_cents"`
	PaymentRef string    `json:"payment_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func newBookingResponse(b *domain.Booking) BookingResponse {
	return BookingResponse{
		ID:         b.ID.String(),
		EventID:    b.EventID,
		SeatID:     b.SeatID,
		Status:     string(b.Status),
		TotalCents: b.TotalCents,
		PaymentRef: b.PaymentRef,
		CreatedAt:  b.CreatedAt,
	}
}

type CreateIntentResponse struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	AmountCents  int64  `json:"amount_cents"`
}

type RefundResponse struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

type SeatResponse struct {
	ID         int64  `json:"id"`
	Section    string `json:"section"`
	Row        string `json:"row"`
	Number     int    `json:"number"`
	PriceCents int    `json:"price_cents"`
	Status     string `json:"status"`
	IsHeld     bool   `json:"is_held"`
	HeldBy     int64  `json:"held_by,omitempty"`
}

func newSeatResponse(s domain.SeatWithHold) SeatResponse {
	return SeatResponse{
		ID:         s.ID,
		Section:    s.Section,
		Row:        s.Row,
		Number:     s.Number,
		PriceCents: s.PriceCents,
		Status:     string(s.Status),
		IsHeld:     s.IsHeld,
		HeldBy:     s.HeldBy,
	}
}

type PaymentResponse struct {
	ID          string    `json:"id"`
	BookingID   string    `json:"booking_id"`
	StripeID    string    `json:"stripe_id"`
	AmountCents int       `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func newPaymentResponse(p domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:          p.ID.String(),
		BookingID:   p.BookingID.String(),
		StripeID:    p.StripeID,
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt,
	}
}

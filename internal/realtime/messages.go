package realtime

import "github.com/avelinsk/seatwave/internal/domain"

// Inbound message types.
const (
	MsgJoinEvent           = "join-event"
	MsgLeaveEvent          = "leave-event"
	MsgHoldSeat            = "hold-seat"
	MsgReleaseSeat         = "release-seat"
	MsgConfirmBooking      = "confirm-booking"
	MsgGetSeatAvailability = "get-seat-availability"
)

// Outbound message types.
const (
	MsgSeatHoldSuccess    = "seat-hold-success"
	MsgSeatHoldFailed     = "seat-hold-failed"
	MsgSeatHeld           = "seat-held"
	MsgSeatReleased       = "seat-released"
	MsgSeatReleaseSuccess = "seat-release-success"
	MsgSeatBooked         = "seat-booked"
	MsgBookingConfirmed   = "booking-confirmed"
	MsgSeatAvailability   = "seat-availability"
	MsgError              = "error"
)

// ClientMessage is the inbound envelope. Fields not used by a message type
// are left zero.
type ClientMessage struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id,omitempty"`
	SeatID  int64  `json:"seat_id,omitempty"`
	UserID  int64  `json:"user_id,omitempty"`
}

// ServerMessage is the outbound envelope.
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type SeatResult struct {
	SeatID  int64  `json:"seat_id"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type SeatEvent struct {
	SeatID int64 `json:"seat_id"`
	UserID int64 `json:"user_id,omitempty"`
}

type SeatView struct {
	ID         int64  `json:"id"`
	Section    string `json:"section"`
	Row        string `json:"row"`
	Number     int    `json:"number"`
	PriceCents int    `json:"price_cents"`
	Status     string `json:"status"`
	IsHeld     bool   `json:"is_held"`
	HeldBy     int64  `json:"held_by,omitempty"`
}

type SeatAvailability struct {
	EventID int64      `json:"event_id"`
	Seats   []SeatView `json:"seats"`
}

func NewSeatView(s domain.SeatWithHold) SeatView {
	return SeatView{
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

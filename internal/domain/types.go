package domain

import (
	"time"

	"github.com/google/uuid"
)

type SeatStatus string

const (
	SeatAvailable   SeatStatus = "available"
	SeatReserved    SeatStatus = "reserved"
	SeatSold        SeatStatus = "sold"
	SeatMaintenance SeatStatus = "maintenance"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingRefunded  BookingStatus = "refunded"
)

// Terminal reports whether no further transition is allowed from s.
func (s BookingStatus) Terminal() bool {
	return s == BookingCancelled || s == BookingRefunded
}

// Active reports whether the booking still ties up a seat.
func (s BookingStatus) Active() bool {
	return s == BookingPending || s == BookingConfirmed
}

type EventStatus string

const (
	EventUpcoming  EventStatus = "upcoming"
	EventOngoing   EventStatus = "ongoing"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentRefunded  PaymentStatus = "refunded"
)

type Venue struct {
	ID      int64
	Name    string
	Address string
	City    string
	State   string
}

type Event struct {
	ID      int64
	VenueID int64
	Title   string
	Starts  time.Time
	Status  EventStatus
}

type Seat struct {
	ID         int64
	VenueID    int64
	Section    string
	Row        string
	Number     int
	PriceCents int
	Status     SeatStatus
}

// SeatWithHold is a seat listing entry augmented with live advisory-hold
// state from the hold registry.
type SeatWithHold struct {
	Seat
	IsHeld bool
	HeldBy int64 // zero when not held
}

type Booking struct {
	ID         uuid.UUID
	UserID     int64
	EventID    int64
	SeatID     int64
	Status     BookingStatus
	TotalCents int
	PaymentRef string // gateway intent id, empty until confirmed
	CreatedAt  time.Time
}

type Payment struct {
	ID          uuid.UUID
	BookingID   uuid.UUID
	StripeID    string
	AmountCents int
	Currency    string
	Status      PaymentStatus
	CreatedAt   time.Time
}

type User struct {
	ID    int64
	Email string
	Role  string
}

const RoleAdmin = "admin"

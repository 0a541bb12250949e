package realtime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/avelinsk/seatwave/internal/domain"
	"github.com/avelinsk/seatwave/internal/hold"
	"github.com/avelinsk/seatwave/internal/repository"
)

// SeatLister provides the availability snapshot, already augmented with
// live hold state.
type SeatLister interface {
	EventSeatsWithHolds(ctx context.Context, eventID int64) ([]domain.SeatWithHold, error)
}

// Dispatcher routes inbound client messages to the hold registry and the
// seat lister. Handler failures are reported to the originating connection
// only; they never take down the hub or other connections.
type Dispatcher struct {
	hub      *Hub
	registry hold.Registry
	seats    SeatLister
	logger   *slog.Logger
}

func NewDispatcher(hub *Hub, registry hold.Registry, seats SeatLister, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		hub:      hub,
		registry: registry,
		seats:    seats,
		logger:   logger,
	}
}

func (d *Dispatcher) Handle(ctx context.Context, c *Client, msg ClientMessage) {
	switch msg.Type {
	case MsgJoinEvent:
		d.hub.Join(msg.EventID, c)
	case MsgLeaveEvent:
		d.hub.Leave(msg.EventID, c)
	case MsgHoldSeat:
		d.holdSeat(ctx, c, msg)
	case MsgReleaseSeat:
		d.releaseSeat(ctx, c, msg)
	case MsgConfirmBooking:
		d.confirmBooking(ctx, c, msg)
	case MsgGetSeatAvailability:
		d.seatAvailability(ctx, c, msg)
	default:
		c.reply(ServerMessage{Type: MsgError, Data: SeatResult{Error: "unknown message type"}})
	}
}

// ConnectionClosed releases every hold owned by the connection.
func (d *Dispatcher) ConnectionClosed(ctx context.Context, c *Client) {
	if n := d.registry.ReleaseAllForConnection(ctx, c.ID()); n > 0 {
		d.logger.Info("holds released on disconnect", "conn", c.ID(), "count", n)
	}
}

func (d *Dispatcher) holdSeat(ctx context.Context, c *Client, msg ClientMessage) {
	err := d.registry.Acquire(ctx, msg.SeatID, msg.EventID, msg.UserID, c.ID())
	if err != nil {
		c.reply(ServerMessage{
			Type: MsgSeatHoldFailed,
			Data: SeatResult{SeatID: msg.SeatID, Error: holdErrorText(err)},
		})
		return
	}

	c.reply(ServerMessage{
		Type: MsgSeatHoldSuccess,
		Data: SeatResult{SeatID: msg.SeatID, Message: "seat held successfully"},
	})
}

func (d *Dispatcher) releaseSeat(ctx context.Context, c *Client, msg ClientMessage) {
	if err := d.registry.Release(ctx, msg.SeatID, msg.UserID); err != nil {
		d.logger.Warn("seat release failed", "seat", msg.SeatID, "error", err)
		return
	}

	c.reply(ServerMessage{
		Type: MsgSeatReleaseSuccess,
		Data: SeatResult{SeatID: msg.SeatID, Message: "seat released successfully"},
	})
}

func (d *Dispatcher) confirmBooking(ctx context.Context, c *Client, msg ClientMessage) {
	if err := d.registry.Consume(ctx, msg.SeatID, msg.UserID); err != nil {
		d.logger.Warn("hold consume failed", "seat", msg.SeatID, "error", err)
	}

	c.reply(ServerMessage{
		Type: MsgBookingConfirmed,
		Data: SeatResult{SeatID: msg.SeatID, Message: "booking confirmed"},
	})
}

func (d *Dispatcher) seatAvailability(ctx context.Context, c *Client, msg ClientMessage) {
	seats, err := d.seats.EventSeatsWithHolds(ctx, msg.EventID)
	if err != nil {
		c.reply(ServerMessage{Type: MsgError, Data: SeatResult{Error: "failed to get seat availability"}})
		return
	}

	views := make([]SeatView, 0, len(seats))
	for _, s := range seats {
		views = append(views, NewSeatView(s))
	}

	c.reply(ServerMessage{
		Type: MsgSeatAvailability,
		Data: SeatAvailability{EventID: msg.EventID, Seats: views},
	})
}

func holdErrorText(err error) string {
	switch {
	case errors.Is(err, hold.ErrHeldByAnother):
		return "seat is already being held by another user"
	case errors.Is(err, hold.ErrSeatNotAvailable), errors.Is(err, repository.ErrNotFound):
		return "seat is not available"
	default:
		return "failed to hold seat"
	}
}

// Package realtime carries the websocket seat-hold channel: per-event rooms
// of connections, best-effort at-most-once broadcasts, and the dispatcher
// for the hold message contract.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/avelinsk/seatwave/internal/hold"
)

// Publisher republishes local seat events to other instances. Optional; nil
// means single-instance operation.
type Publisher interface {
	Publish(ctx context.Context, ev hold.Event) error
}

// Hub maintains per-event subscriber rooms. It implements hold.Notifier:
// hold lifecycle events are delivered to every room member except the
// originating connection, then handed to the Publisher for cross-instance
// fan-out.
type Hub struct {
	mu    sync.RWMutex
	rooms map[int64]map[*Client]struct{}

	pub    Publisher
	logger *slog.Logger
}

func NewHub(pub Publisher, logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[int64]map[*Client]struct{}),
		pub:    pub,
		logger: logger,
	}
}

func (h *Hub) Join(eventID int64, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[eventID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[eventID] = room
	}

	room[c] = struct{}{}
}

func (h *Hub) Leave(eventID int64, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(eventID, c)
}

// LeaveAll removes the connection from every room. Called on disconnect.
func (h *Hub) LeaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for eventID := range h.rooms {
		h.leaveLocked(eventID, c)
	}
}

func (h *Hub) leaveLocked(eventID int64, c *Client) {
	room, ok := h.rooms[eventID]
	if !ok {
		return
	}

	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, eventID)
	}
}

// Notify implements hold.Notifier.
func (h *Hub) Notify(ctx context.Context, ev hold.Event) {
	h.Deliver(ev)

	if h.pub != nil {
		if err := h.pub.Publish(ctx, ev); err != nil {
			h.logger.Warn("seat event publish failed", "error", err)
		}
	}
}

// Deliver broadcasts a seat event into the local room, excluding the
// originating connection. The pubsub bridge calls it for remote events.
func (h *Hub) Deliver(ev hold.Event) {
	msg := serverMessageFor(ev)
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	room := h.rooms[ev.EventID]
	targets := make([]*Client, 0, len(room))
	for c := range room {
		if c.ID() != ev.Conn {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(b)
	}
}

func serverMessageFor(ev hold.Event) ServerMessage {
	switch ev.Type {
	case hold.EventHeld:
		return ServerMessage{Type: MsgSeatHeld, Data: SeatEvent{SeatID: ev.SeatID, UserID: ev.UserID}}
	case hold.EventBooked:
		return ServerMessage{Type: MsgSeatBooked, Data: SeatEvent{SeatID: ev.SeatID, UserID: ev.UserID}}
	default:
		return ServerMessage{Type: MsgSeatReleased, Data: SeatEvent{SeatID: ev.SeatID}}
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Client is one websocket connection. A full send buffer drops the client
// rather than block the hub: delivery is best-effort, and a reconnecting
// client re-queries current state.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	hub        *Hub
	dispatcher *Dispatcher
}

func NewClient(id string, conn *websocket.Conn, hub *Hub, dispatcher *Dispatcher) *Client {
	return &Client{
		id:         id,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		hub:        hub,
		dispatcher: dispatcher,
	}
}

func (c *Client) ID() string { return c.id }

// Run pumps the connection until it closes, then releases every hold owned
// by it. Blocks; callers run it per connection.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	go c.writePump(cancel)
	c.readPump(ctx)

	cancel()
	c.hub.LeaveAll(c)
	c.dispatcher.ConnectionClosed(context.WithoutCancel(ctx), c)
}

func (c *Client) enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
		// Slow consumer. Close and let the read pump clean up.
		_ = c.conn.Close()
	}
}

func (c *Client) reply(msg ServerMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(b)
}

func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(ServerMessage{Type: MsgError, Data: SeatResult{Error: "malformed message"}})
			continue
		}

		c.dispatcher.Handle(ctx, c, msg)
	}
}

func (c *Client) writePump(cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		_ = c.conn.Close()
	}()

	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avelinsk/seatwave/internal/hold"
)

// SeatEventsPubSub fans hold lifecycle events out across instances so every
// node's websocket rooms see holds taken on any node. Delivery is
// best-effort with no replay; a reconnecting client re-queries state.
type SeatEventsPubSub struct {
	rdb     *redis.Client
	channel string
	origin  string
}

// NewSeatEventsPubSub creates a pubsub handle. origin identifies this
// process so subscribers can skip their own publishes.
func NewSeatEventsPubSub(rdb *redis.Client, origin string) *SeatEventsPubSub {
	return &SeatEventsPubSub{
		rdb:     rdb,
		channel: ChannelSeatEvents(),
		origin:  origin,
	}
}

type seatEventMsg struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
	SeatID  int64  `json:"seat_id"`
	UserID  int64  `json:"user_id,omitempty"`
	Conn    string `json:"conn,omitempty"`
	Origin  string `json:"origin"`
	TsUnix  int64  `json:"ts_unix"`
}

func (p *SeatEventsPubSub) Publish(ctx context.Context, ev hold.Event) error {
	msg := seatEventMsg{
		Type:    string(ev.Type),
		EventID: ev.EventID,
		SeatID:  ev.SeatID,
		UserID:  ev.UserID,
		Conn:    ev.Conn,
		Origin:  p.origin,
		TsUnix:  time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// Subscribe delivers remote-origin seat events to handler until ctx is
// cancelled. Events published by this process are skipped; the hub already
// delivered those locally.
func (p *SeatEventsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, ev hold.Event)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg seatEventMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				continue
			}
			if msg.Origin == p.origin || msg.SeatID == 0 {
				continue
			}
			handler(ctx, hold.Event{
				Type:    hold.EventType(msg.Type),
				EventID: msg.EventID,
				SeatID:  msg.SeatID,
				UserID:  msg.UserID,
				Conn:    msg.Conn,
			})
		}
	}
}

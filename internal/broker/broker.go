// Package broker publishes booking lifecycle notifications to an AMQP
// topic exchange, where the notification service picks them up.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/google/uuid"
)

type Broker struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func New(url, exchange string) (*Broker, error) {
	const op = "broker.New"

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &Broker{conn: conn, ch: ch, exchange: exchange}, nil
}

func (b *Broker) Close() {
	if b == nil {
		return
	}
	_ = b.ch.Close()
	_ = b.conn.Close()
}

// BookingNotice is the message body for booking lifecycle routing keys
// (booking.confirmed, booking.refunded).
type BookingNotice struct {
	BookingID  uuid.UUID `json:"booking_id"`
	UserID     int64     `json:"user_id"`
	EventID    int64     `json:"event_id"`
	SeatID     int64     `json:"seat_id"`
	TotalCents int       `json:"total_cents"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PublishBooking is nil-safe: an unconfigured broker drops the notice.
func (b *Broker) PublishBooking(ctx context.Context, routingKey string, n BookingNotice) error {
	const op = "broker.Broker.PublishBooking"

	if b == nil {
		return nil
	}

	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now()
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	err = b.ch.PublishWithContext(ctx, b.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

const (
	RouteBookingConfirmed = "booking.confirmed"
	RouteBookingRefunded  = "booking.refunded"
)

package service

import (
	"log/slog"

	brokermq "github.com/avelinsk/seatwave/internal/broker"
	"github.com/avelinsk/seatwave/internal/hold"
	"github.com/avelinsk/seatwave/internal/payment"
	postgres "github.com/avelinsk/seatwave/internal/repository/postgres"
	redis "github.com/avelinsk/seatwave/internal/repository/redis"
	"github.com/avelinsk/seatwave/internal/service/booking"
	"github.com/avelinsk/seatwave/internal/service/query"
	"github.com/avelinsk/seatwave/internal/uow"
)

type Services struct {
	Booking *booking.Service
	Query   *query.Service
}

func NewServices(
	store *postgres.Store,
	u *uow.UoW,
	cache *redis.Cache,
	registry hold.Registry,
	gateway payment.Gateway,
	broker *brokermq.Broker,
	logger *slog.Logger,
) *Services {
	return &Services{
		Booking: booking.New(store, u, gateway, cache, broker, logger),
		Query:   query.New(store, cache, registry, logger),
	}
}

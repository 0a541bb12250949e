package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/avelinsk/seatwave/internal/broker"
	"github.com/avelinsk/seatwave/internal/config"
	"github.com/avelinsk/seatwave/internal/domain"
	"github.com/avelinsk/seatwave/internal/hold"
	"github.com/avelinsk/seatwave/internal/payment"
	"github.com/avelinsk/seatwave/internal/postgres"
	"github.com/avelinsk/seatwave/internal/realtime"
	"github.com/avelinsk/seatwave/internal/redis"
	postgresrepo "github.com/avelinsk/seatwave/internal/repository/postgres"
	redisrepo "github.com/avelinsk/seatwave/internal/repository/redis"
	"github.com/avelinsk/seatwave/internal/service"
	httpgin "github.com/avelinsk/seatwave/internal/transport/http/gin"
	"github.com/avelinsk/seatwave/internal/uow"
)

type seatCheckerFunc func(ctx context.Context, seatID int64) (domain.SeatStatus, error)

func (f seatCheckerFunc) SeatStatus(ctx context.Context, seatID int64) (domain.SeatStatus, error) {
	return f(ctx, seatID)
}

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	sweeper    *hold.Sweeper
	pubsub     *redisrepo.SeatEventsPubSub
	hub        *realtime.Hub
	mq         *broker.Broker
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redis.New(context.Background(), redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	pubsub := redisrepo.NewSeatEventsPubSub(rdb, uuid.NewString())
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "rl", 10, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Seat checks read straight from the store: the registry must see the
	// persisted status, not a cached one.
	seatChecker := seatCheckerFunc(func(ctx context.Context, seatID int64) (domain.SeatStatus, error) {
		seat, err := store.Query().GetSeat(ctx, seatID)
		if err != nil {
			return "", err
		}
		return seat.Status, nil
	})

	// The hub delivers locally and mirrors through Redis so rooms on other
	// instances see the same hold traffic.
	hub := realtime.NewHub(pubsub, logger)

	var registry hold.Registry
	if cfg.Hold.Distributed {
		registry = redisrepo.NewHoldRegistry(rdb, cfg.Hold.TTL, seatChecker, hub)
	} else {
		registry = hold.NewTable(cfg.Hold.TTL, seatChecker, hub)
	}

	sweeper := hold.NewSweeper(registry, cfg.Hold.SweepInterval, logger)

	gateway := payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)

	var mq *broker.Broker
	if cfg.Broker.URL != "" {
		mq, err = broker.New(cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize broker: %w", err)
		}
	}

	// Initialize services
	services := service.NewServices(store, uow.NewUoW(store), cache, registry, gateway, mq, logger)

	dispatcher := realtime.NewDispatcher(hub, registry, services.Query, logger)

	// Initialize Gin router
	router := httpgin.NewRouter(httpgin.RouterDeps{
		Services:   services,
		Hub:        hub,
		Dispatcher: dispatcher,
		Idem:       idempotencyStore,
		Limiter:    limiter,
		JWTSecret:  cfg.Auth.JWTSecret,
		Logger:     logger,
	})

	return &App{
		cfg:     cfg,
		logger:  logger,
		sweeper: sweeper,
		pubsub:  pubsub,
		hub:     hub,
		mq:      mq,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Evict expired holds
	g.Go(func() error {
		if err := a.sweeper.Run(gCtx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})

	// Bridge remote hold events into local websocket rooms
	g.Go(func() error {
		err := a.pubsub.Subscribe(gCtx, func(_ context.Context, ev hold.Event) {
			a.hub.Deliver(ev)
		})
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		a.mq.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

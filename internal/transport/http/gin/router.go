package httpgin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/avelinsk/seatwave/internal/domain"
	"github.com/avelinsk/seatwave/internal/realtime"
	redisrepo "github.com/avelinsk/seatwave/internal/repository/redis"
	"github.com/avelinsk/seatwave/internal/service"
	"github.com/avelinsk/seatwave/internal/service/booking"
	"github.com/avelinsk/seatwave/internal/service/query"
)

type RouterDeps struct {
	Services   *service.Services
	Hub        *realtime.Hub
	Dispatcher *realtime.Dispatcher
	Idem       *redisrepo.IdempotencyStore
	Limiter    *redisrepo.SlidingWindowLimiter
	JWTSecret  string
	Logger     *slog.Logger
}

func NewRouter(deps RouterDeps, middlewares ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(deps.Logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/events/:id", handleGetEvent(deps.Services))
	r.GET("/events/:id/availability", handleGetAvailability(deps.Services))
	r.GET("/events/:id/seats", handleListEventSeats(deps.Services))

	r.GET("/ws", RateLimitMiddleware(deps.Limiter), handleWebsocket(deps.Hub, deps.Dispatcher, deps.Logger))

	// Stripe calls this; signature, not JWT, authenticates it.
	r.POST("/payments/webhook", handleWebhook(deps.Services))

	authed := r.Group("/", JWTAuth(deps.JWTSecret))
	{
		authed.POST("/bookings", RateLimitMiddleware(deps.Limiter), handleCreateBooking(deps.Services, deps.Idem))
		authed.GET("/bookings", handleListBookings(deps.Services))
		authed.GET("/bookings/:id", handleGetBooking(deps.Services))
		authed.PUT("/bookings/:id/cancel", handleCancelBooking(deps.Services))

		authed.POST("/payments/intent", handleCreateIntent(deps.Services))
		authed.POST("/payments/confirm", handleConfirmPayment(deps.Services))
		authed.GET("/payments/history", handlePaymentHistory(deps.Services))
	}

	adminGroup := r.Group("/admin", JWTAuth(deps.JWTSecret), AdminOnly())
	{
		adminGroup.POST("/payments/:id/refund", handleRefund(deps.Services))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Get event
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.Event
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		e, err := svcs.Query.GetEvent(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 60s
		writeJSONWithCache(c, http.StatusOK, e, "public, max-age=60", true)
	}
}

// @Summary  Get availability counters
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  postgres.SeatCounts
// @Router   /events/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		cnt, err := svcs.Query.Availability(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, cnt, "public, max-age=5", true)
	}
}

// @Summary  List event seats with live hold state
// @Param    id  path  int  true  "Event ID"
// @Success  200  {array}   SeatResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/seats [get]
func handleListEventSeats(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		seats, err := svcs.Query.EventSeatsWithHolds(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		out := make([]SeatResponse, len(seats))
		for i, s := range seats {
			out[i] = newSeatResponse(s)
		}
		// Short cache only: hold state goes stale fast.
		writeJSONWithCache(c, http.StatusOK, out, "public, max-age=5", true)
	}
}

// @Summary  Create booking (idempotent)
// @Param    req body  CreateBookingRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} BookingResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "seat unavailable / duplicate / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /bookings [post]
func handleCreateBooking(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
			return
		}

		var req CreateBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemBooking(userID, idemKey)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		b, err := svcs.Booking.Create(c.Request.Context(), userID, req.EventID, req.SeatID)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := newBookingResponse(b)

		if idemStorageKey != "" && idem != nil {
			payload, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(payload))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  List my bookings
// @Param    status query  string false "pending|confirmed|cancelled|refunded"
// @Param    limit  query  int    false "page size"
// @Param    offset query  int    false "offset"
// @Success  200 {array} BookingResponse
// @Router   /bookings [get]
func handleListBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
			return
		}

		limit := parseIntDefault(c.Query("limit"), 50)
		offset := parseIntDefault(c.Query("offset"), 0)
		status := domain.BookingStatus(c.Query("status"))

		list, err := svcs.Query.ListBookings(c.Request.Context(), userID, status, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		out := make([]BookingResponse, len(list))
		for i := range list {
			out[i] = newBookingResponse(&list[i])
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Get booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} BookingResponse
// @Failure  404 {object} ErrorResponse
// @Router   /bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := currentUser(c)
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		b, err := svcs.Query.GetBooking(c.Request.Context(), id, userID, isAdmin(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, newBookingResponse(b))
	}
}

// @Summary  Cancel a pending booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} BookingResponse
// @Failure  409 {object} ErrorResponse
// @Router   /bookings/{id}/cancel [put]
func handleCancelBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := currentUser(c)
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		b, err := svcs.Booking.Cancel(c.Request.Context(), id, userID, isAdmin(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, newBookingResponse(b))
	}
}

// @Summary  Create payment intent for a pending booking
// @Param    req body  CreateIntentRequest true "payload"
// @Success  201 {object} CreateIntentResponse
// @Failure  409 {object} ErrorResponse
// @Router   /payments/intent [post]
func handleCreateIntent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := currentUser(c)

		var req CreateIntentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		bookingID, err := uuid.Parse(req.BookingID)
		if err != nil {
			badRequest(c, "invalid booking_id")
			return
		}

		intent, err := svcs.Booking.CreatePaymentIntent(c.Request.Context(), bookingID, userID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateIntentResponse{
			IntentID:     intent.ID,
			ClientSecret: intent.ClientSecret,
			AmountCents:  intent.AmountCents,
		})
	}
}

// @Summary  Confirm payment and settle the booking
// @Param    req body  ConfirmPaymentRequest true "payload"
// @Success  200 {object} BookingResponse
// @Failure  402 {object} ErrorResponse "payment not completed"
// @Failure  409 {object} ErrorResponse
// @Router   /payments/confirm [post]
func handleConfirmPayment(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := currentUser(c)

		var req ConfirmPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		bookingID, err := uuid.Parse(req.BookingID)
		if err != nil {
			badRequest(c, "invalid booking_id")
			return
		}

		b, err := svcs.Booking.Confirm(c.Request.Context(), bookingID, userID, req.PaymentIntentID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, newBookingResponse(b))
	}
}

// @Summary  My payment history
// @Param    limit  query  int  false "page size"
// @Param    offset query  int  false "offset"
// @Success  200 {array} PaymentResponse
// @Router   /payments/history [get]
func handlePaymentHistory(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
			return
		}

		limit := parseIntDefault(c.Query("limit"), 50)
		offset := parseIntDefault(c.Query("offset"), 0)

		list, err := svcs.Query.ListPayments(c.Request.Context(), userID, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		out := make([]PaymentResponse, len(list))
		for i, p := range list {
			out[i] = newPaymentResponse(p)
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Refund a settled payment
// @Param    id  path  string  true  "Payment ID (uuid)"
// @Success  200 {object} RefundResponse
// @Failure  409 {object} ErrorResponse
// @Router   /admin/payments/{id}/refund [post]
func handleRefund(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		refund, err := svcs.Booking.Refund(c.Request.Context(), id, isAdmin(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, RefundResponse{
			RefundID: refund.ID,
			Status:   refund.Status,
		})
	}
}

// @Summary  Payment gateway webhook
// @Success  200 {object} map[string]string
// @Failure  400 {object} ErrorResponse
// @Router   /payments/webhook [post]
func handleWebhook(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			badRequest(c, "cannot read body")
			return
		}

		if err := svcs.Booking.HandleWebhook(
			c.Request.Context(),
			payload,
			c.GetHeader("Stripe-Signature"),
		); err != nil {
			badRequest(c, "webhook rejected")
			return
		}

		c.JSON(http.StatusOK, gin.H{"received": "true"})
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// booking service
	case errors.Is(err, booking.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, booking.ErrSeatNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "seat not found"})
		return
	case errors.Is(err, booking.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
		return
	case errors.Is(err, booking.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "payment not found"})
		return
	case errors.Is(err, booking.ErrSeatVenueMismatch):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "seat does not belong to event venue"})
		return
	case errors.Is(err, booking.ErrEventCancelled):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event is cancelled"})
		return
	case errors.Is(err, booking.ErrEventPassed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event has already passed"})
		return
	case errors.Is(err, booking.ErrEventStarted):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "cannot cancel booking for past events"})
		return
	case errors.Is(err, booking.ErrSeatUnavailable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "seat is not available"})
		return
	case errors.Is(err, booking.ErrDuplicateBooking):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "user already has a booking for this event"})
		return
	case errors.Is(err, booking.ErrNotPending):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking is not in pending status"})
		return
	case errors.Is(err, booking.ErrNotCancellable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking cannot be cancelled"})
		return
	case errors.Is(err, booking.ErrNotRefundable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "payment cannot be refunded"})
		return
	case errors.Is(err, booking.ErrPaymentNotCompleted):
		c.JSON(http.StatusPaymentRequired, ErrorResponse{Error: "payment not completed"})
		return
	case errors.Is(err, booking.ErrAccessDenied), errors.Is(err, query.ErrAccessDenied):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})
		return
	// query service
	case errors.Is(err, query.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, query.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

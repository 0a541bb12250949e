package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avelinsk/seatwave/internal/domain"
	"github.com/avelinsk/seatwave/internal/hold"
)

// Acquire-or-renew atomically: reject when the lease belongs to a different
// user, otherwise write the new lease and index it under the connection.
// KEYS[1] = lease key, KEYS[2] = connection index
// ARGV[1] = lease json, ARGV[2] = user_id, ARGV[3] = ttl_ms, ARGV[4] = seat_id
const luaAcquireLease = `
local cur = redis.call('GET', KEYS[1])
if cur then
  local lease = cjson.decode(cur)
  if tostring(lease.user_id) ~= ARGV[2] then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return 1
`

// Delete the lease only when held by the given user. Returns the lease
// payload so the caller can broadcast with the right event id.
// KEYS[1] = lease key
// ARGV[1] = user_id ('' to delete unconditionally)
const luaReleaseLease = `
local cur = redis.call('GET', KEYS[1])
if not cur then
  return false
end
if ARGV[1] ~= '' then
  local lease = cjson.decode(cur)
  if tostring(lease.user_id) ~= ARGV[1] then
    return false
  end
end
redis.call('DEL', KEYS[1])
return cur
`

type leasePayload struct {
	EventID    int64  `json:"event_id"`
	UserID     int64  `json:"user_id"`
	ConnID     string `json:"conn_id"`
	AcquiredAt int64  `json:"acquired_at"`
}

// HoldRegistry is the Redis-backed hold.Registry for multi-instance
// deployments: leases live in Redis with a PX TTL, so every node sees the
// same holds and expiry needs no sweeping.
type HoldRegistry struct {
	rdb      *redis.Client
	ttl      time.Duration
	seats    hold.SeatChecker
	notifier hold.Notifier

	acquire *redis.Script
	release *redis.Script
}

func NewHoldRegistry(
	rdb *redis.Client,
	ttl time.Duration,
	seats hold.SeatChecker,
	notifier hold.Notifier,
) *HoldRegistry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &HoldRegistry{
		rdb:      rdb,
		ttl:      ttl,
		seats:    seats,
		notifier: notifier,
		acquire:  redis.NewScript(luaAcquireLease),
		release:  redis.NewScript(luaReleaseLease),
	}
}

func (r *HoldRegistry) Acquire(ctx context.Context, seatID, eventID, userID int64, connID string) error {
	const op = "redis.HoldRegistry.Acquire"

	status, err := r.seats.SeatStatus(ctx, seatID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if status != domain.SeatAvailable {
		return fmt.Errorf("%s:%w", op, hold.ErrSeatNotAvailable)
	}

	payload, _ := json.Marshal(leasePayload{
		EventID:    eventID,
		UserID:     userID,
		ConnID:     connID,
		AcquiredAt: time.Now().UnixMilli(),
	})

	res, err := r.acquire.Run(
		ctx,
		r.rdb,
		[]string{KeySeatLease(seatID), KeyConnLeases(connID)},
		payload, strconv.FormatInt(userID, 10), r.ttl.Milliseconds(), seatID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if res != 1 {
		return fmt.Errorf("%s:%w", op, hold.ErrHeldByAnother)
	}

	r.notify(ctx, hold.Event{
		Type:    hold.EventHeld,
		EventID: eventID,
		SeatID:  seatID,
		UserID:  userID,
		Conn:    connID,
	})

	return nil
}

func (r *HoldRegistry) Release(ctx context.Context, seatID, userID int64) error {
	const op = "redis.HoldRegistry.Release"

	lease, ok, err := r.removeLease(ctx, seatID, strconv.FormatInt(userID, 10))
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if !ok {
		return nil
	}

	r.notify(ctx, hold.Event{
		Type:    hold.EventReleased,
		EventID: lease.EventID,
		SeatID:  seatID,
		Conn:    lease.ConnID,
	})

	return nil
}

func (r *HoldRegistry) Consume(ctx context.Context, seatID, userID int64) error {
	const op = "redis.HoldRegistry.Consume"

	lease, ok, err := r.removeLease(ctx, seatID, "")
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if !ok {
		return nil
	}

	r.notify(ctx, hold.Event{
		Type:    hold.EventBooked,
		EventID: lease.EventID,
		SeatID:  seatID,
		UserID:  userID,
		Conn:    lease.ConnID,
	})

	return nil
}

func (r *HoldRegistry) Query(ctx context.Context, seatIDs []int64) (map[int64]hold.State, error) {
	const op = "redis.HoldRegistry.Query"

	out := make(map[int64]hold.State, len(seatIDs))
	if len(seatIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(seatIDs))
	for i, id := range seatIDs {
		keys[i] = KeySeatLease(id)
	}

	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	for i, v := range vals {
		state := hold.State{}
		if s, ok := v.(string); ok {
			var lease leasePayload
			if err := json.Unmarshal([]byte(s), &lease); err == nil {
				state = hold.State{IsHeld: true, HeldBy: lease.UserID}
			}
		}
		out[seatIDs[i]] = state
	}

	return out, nil
}

// SweepExpired is a no-op for the Redis registry: lease keys carry a PX TTL
// and Redis evicts them itself.
func (r *HoldRegistry) SweepExpired(ctx context.Context, now time.Time) int {
	return 0
}

func (r *HoldRegistry) ReleaseAllForConnection(ctx context.Context, connID string) int {
	seatIDs, err := r.rdb.SMembers(ctx, KeyConnLeases(connID)).Result()
	if err != nil {
		return 0
	}

	released := 0
	for _, raw := range seatIDs {
		seatID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}

		lease, ok, err := r.removeLeaseForConn(ctx, seatID, connID)
		if err != nil || !ok {
			continue
		}

		released++
		r.notify(ctx, hold.Event{
			Type:    hold.EventReleased,
			EventID: lease.EventID,
			SeatID:  seatID,
			Conn:    connID,
		})
	}

	_ = r.rdb.Del(ctx, KeyConnLeases(connID)).Err()

	return released
}

func (r *HoldRegistry) removeLease(ctx context.Context, seatID int64, userID string) (*leasePayload, bool, error) {
	res, err := r.release.Run(
		ctx,
		r.rdb,
		[]string{KeySeatLease(seatID)},
		userID,
	).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	raw, ok := res.(string)
	if !ok {
		return nil, false, nil
	}

	var lease leasePayload
	if err := json.Unmarshal([]byte(raw), &lease); err != nil {
		return nil, false, nil
	}

	return &lease, true, nil
}

func (r *HoldRegistry) removeLeaseForConn(ctx context.Context, seatID int64, connID string) (*leasePayload, bool, error) {
	raw, err := r.rdb.Get(ctx, KeySeatLease(seatID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var lease leasePayload
	if err := json.Unmarshal([]byte(raw), &lease); err != nil {
		return nil, false, nil
	}

	if lease.ConnID != connID {
		return nil, false, nil
	}

	if err := r.rdb.Del(ctx, KeySeatLease(seatID)).Err(); err != nil {
		return nil, false, err
	}

	return &lease, true, nil
}

func (r *HoldRegistry) notify(ctx context.Context, ev hold.Event) {
	if r.notifier != nil {
		r.notifier.Notify(ctx, ev)
	}
}

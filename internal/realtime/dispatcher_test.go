package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinsk/seatwave/internal/domain"
	"github.com/avelinsk/seatwave/internal/hold"
)

type fakeRegistry struct {
	acquireErr error
	acquired   []int64
	released   []int64
	consumed   []int64
	dropped    []string
}

func (f *fakeRegistry) Acquire(_ context.Context, seatID, _, _ int64, _ string) error {
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired = append(f.acquired, seatID)
	return nil
}

func (f *fakeRegistry) Release(_ context.Context, seatID, _ int64) error {
	f.released = append(f.released, seatID)
	return nil
}

func (f *fakeRegistry) Consume(_ context.Context, seatID, _ int64) error {
	f.consumed = append(f.consumed, seatID)
	return nil
}

func (f *fakeRegistry) Query(_ context.Context, seatIDs []int64) (map[int64]hold.State, error) {
	out := make(map[int64]hold.State, len(seatIDs))
	for _, id := range seatIDs {
		out[id] = hold.State{}
	}
	return out, nil
}

func (f *fakeRegistry) SweepExpired(_ context.Context, _ time.Time) int { return 0 }

func (f *fakeRegistry) ReleaseAllForConnection(_ context.Context, connID string) int {
	f.dropped = append(f.dropped, connID)
	return 1
}

type fakeLister struct {
	seats []domain.SeatWithHold
	err   error
}

func (f *fakeLister) EventSeatsWithHolds(_ context.Context, _ int64) ([]domain.SeatWithHold, error) {
	return f.seats, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// drain reads one queued server message off the client's send buffer.
func drain(t *testing.T, c *Client) ServerMessage {
	t.Helper()

	select {
	case b := <-c.send:
		var msg ServerMessage
		require.NoError(t, json.Unmarshal(b, &msg))
		return msg
	default:
		t.Fatal("no message queued")
		return ServerMessage{}
	}
}

func newTestSetup(reg *fakeRegistry, lister *fakeLister) (*Hub, *Dispatcher, *Client) {
	hub := NewHub(nil, testLogger())
	d := NewDispatcher(hub, reg, lister, testLogger())
	c := NewClient("conn-1", nil, hub, d)
	return hub, d, c
}

func TestDispatcherHoldSeat(t *testing.T) {
	reg := &fakeRegistry{}
	_, d, c := newTestSetup(reg, &fakeLister{})

	d.Handle(context.Background(), c, ClientMessage{Type: MsgHoldSeat, EventID: 10, SeatID: 7, UserID: 100})

	assert.Equal(t, []int64{7}, reg.acquired)
	msg := drain(t, c)
	assert.Equal(t, MsgSeatHoldSuccess, msg.Type)
}

func TestDispatcherHoldSeatFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		text string
	}{
		{"held by another", hold.ErrHeldByAnother, "seat is already being held by another user"},
		{"not available", hold.ErrSeatNotAvailable, "seat is not available"},
		{"registry down", context.DeadlineExceeded, "failed to hold seat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &fakeRegistry{acquireErr: tt.err}
			_, d, c := newTestSetup(reg, &fakeLister{})

			d.Handle(context.Background(), c, ClientMessage{Type: MsgHoldSeat, SeatID: 7, UserID: 100})

			msg := drain(t, c)
			assert.Equal(t, MsgSeatHoldFailed, msg.Type)

			data, ok := msg.Data.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.text, data["error"])
		})
	}
}

func TestDispatcherReleaseSeat(t *testing.T) {
	reg := &fakeRegistry{}
	_, d, c := newTestSetup(reg, &fakeLister{})

	d.Handle(context.Background(), c, ClientMessage{Type: MsgReleaseSeat, SeatID: 7, UserID: 100})

	assert.Equal(t, []int64{7}, reg.released)
	msg := drain(t, c)
	assert.Equal(t, MsgSeatReleaseSuccess, msg.Type)
}

func TestDispatcherConfirmBooking(t *testing.T) {
	reg := &fakeRegistry{}
	_, d, c := newTestSetup(reg, &fakeLister{})

	d.Handle(context.Background(), c, ClientMessage{Type: MsgConfirmBooking, SeatID: 7, UserID: 100})

	assert.Equal(t, []int64{7}, reg.consumed)
	msg := drain(t, c)
	assert.Equal(t, MsgBookingConfirmed, msg.Type)
}

func TestDispatcherSeatAvailability(t *testing.T) {
	lister := &fakeLister{seats: []domain.SeatWithHold{
		{Seat: domain.Seat{ID: 1, Section: "A", Row: "1", Number: 1, Status: domain.SeatAvailable}},
		{Seat: domain.Seat{ID: 2, Section: "A", Row: "1", Number: 2, Status: domain.SeatAvailable}, IsHeld: true, HeldBy: 42},
	}}
	_, d, c := newTestSetup(&fakeRegistry{}, lister)

	d.Handle(context.Background(), c, ClientMessage{Type: MsgGetSeatAvailability, EventID: 10})

	msg := drain(t, c)
	require.Equal(t, MsgSeatAvailability, msg.Type)

	data, ok := msg.Data.(map[string]any)
	require.True(t, ok)
	seats, ok := data["seats"].([]any)
	require.True(t, ok)
	assert.Len(t, seats, 2)
}

func TestDispatcherUnknownMessage(t *testing.T) {
	_, d, c := newTestSetup(&fakeRegistry{}, &fakeLister{})

	d.Handle(context.Background(), c, ClientMessage{Type: "nonsense"})

	msg := drain(t, c)
	assert.Equal(t, MsgError, msg.Type)
}

func TestDispatcherConnectionClosed(t *testing.T) {
	reg := &fakeRegistry{}
	_, d, c := newTestSetup(reg, &fakeLister{})

	d.ConnectionClosed(context.Background(), c)

	assert.Equal(t, []string{"conn-1"}, reg.dropped)
}

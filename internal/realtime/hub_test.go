package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinsk/seatwave/internal/hold"
)

type fakePublisher struct {
	published []hold.Event
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, ev hold.Event) error {
	f.published = append(f.published, ev)
	return f.err
}

func newRoomClient(id string, hub *Hub, eventID int64) *Client {
	c := NewClient(id, nil, hub, nil)
	hub.Join(eventID, c)
	return c
}

func TestHubDeliverExcludesOrigin(t *testing.T) {
	hub := NewHub(nil, testLogger())

	origin := newRoomClient("conn-a", hub, 10)
	other := newRoomClient("conn-b", hub, 10)
	elsewhere := newRoomClient("conn-c", hub, 20)

	hub.Deliver(hold.Event{Type: hold.EventHeld, EventID: 10, SeatID: 7, UserID: 100, Conn: "conn-a"})

	select {
	case b := <-other.send:
		var msg ServerMessage
		require.NoError(t, json.Unmarshal(b, &msg))
		assert.Equal(t, MsgSeatHeld, msg.Type)
	default:
		t.Fatal("room member got nothing")
	}

	assert.Empty(t, origin.send)
	assert.Empty(t, elsewhere.send)
}

func TestHubNotifyPublishes(t *testing.T) {
	pub := &fakePublisher{}
	hub := NewHub(pub, testLogger())

	ev := hold.Event{Type: hold.EventReleased, EventID: 10, SeatID: 7}
	hub.Notify(context.Background(), ev)

	require.Len(t, pub.published, 1)
	assert.Equal(t, ev, pub.published[0])
}

func TestHubNotifySurvivesPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("redis down")}
	hub := NewHub(pub, testLogger())

	member := newRoomClient("conn-b", hub, 10)

	// Local delivery still happens when the cross-instance publish fails.
	hub.Notify(context.Background(), hold.Event{Type: hold.EventHeld, EventID: 10, SeatID: 7, Conn: "conn-a"})

	assert.Len(t, member.send, 1)
}

func TestHubLeaveAll(t *testing.T) {
	hub := NewHub(nil, testLogger())

	c := newRoomClient("conn-a", hub, 10)
	hub.Join(20, c)

	hub.LeaveAll(c)

	hub.Deliver(hold.Event{Type: hold.EventHeld, EventID: 10, SeatID: 1})
	hub.Deliver(hold.Event{Type: hold.EventHeld, EventID: 20, SeatID: 2})

	assert.Empty(t, c.send)
}

func TestServerMessageFor(t *testing.T) {
	held := serverMessageFor(hold.Event{Type: hold.EventHeld, SeatID: 1, UserID: 9})
	assert.Equal(t, MsgSeatHeld, held.Type)

	booked := serverMessageFor(hold.Event{Type: hold.EventBooked, SeatID: 1})
	assert.Equal(t, MsgSeatBooked, booked.Type)

	released := serverMessageFor(hold.Event{Type: hold.EventReleased, SeatID: 1})
	assert.Equal(t, MsgSeatReleased, released.Type)
}

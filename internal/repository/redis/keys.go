package redis

import "fmt"

const ns = "seatwave:v1"

func KeyEventSeats(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:seats", ns, eventID)
}

func KeyEventAvailability(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:availability", ns, eventID)
}

func KeySeatLease(seatID int64) string {
	return fmt.Sprintf("%s:hold:%d", ns, seatID)
}

func KeyConnLeases(connID string) string {
	return fmt.Sprintf("%s:conn:%s", ns, connID)
}

func KeyIdemBooking(userID int64, idemKey string) string {
	return fmt.Sprintf("%s:idem:bookings:%d:%s", ns, userID, idemKey)
}

func ChannelSeatEvents() string {
	return ns + ":seats:events"
}

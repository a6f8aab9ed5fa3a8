package chat

import (
	"fmt"
	"strconv"
	"strings"
)

const roomPrefix = "ride_request_"

// FormatRoomID returns the wire room name for a ride request.
func FormatRoomID(rideRequestID int64) string {
	return roomPrefix + strconv.FormatInt(rideRequestID, 10)
}

// ParseRoomID is the inverse of FormatRoomID.
func ParseRoomID(room string) (int64, error) {
	raw, ok := strings.CutPrefix(room, roomPrefix)
	if !ok {
		return 0, fmt.Errorf("room %q: missing %q prefix", room, roomPrefix)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("room %q: invalid ride request id", room)
	}
	return id, nil
}

package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfCapacity           = errors.New("out of capacity")
	ErrInvalidDateRange        = errors.New("check_out must be after check_in")
	ErrInvalidQuantity         = errors.New("quantity must be between 1 and 10000, extra beds between 0 and 100")
	ErrInvalidRoom             = errors.New("invalid room")
	ErrRoomNotFound            = errors.New("room not found")
	ErrBookingRoomNotFound     = errors.New("booking room not found")
	ErrInvalidStatusTransition = errors.New("invalid booking room status transition")
)

// CapacityError reports how many units were still free when a reservation
// was rejected.
type CapacityError struct {
	RoomID    int64
	Requested int
	Available int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("room %d: requested %d, available %d: %s", e.RoomID, e.Requested, e.Available, ErrOutOfCapacity)
}

func (e *CapacityError) Unwrap() error {
	return ErrOutOfCapacity
}

package booking

import (
	"errors"
	"fmt"

	"innkeeper/internal/domain/inventory"
)

var (
	ErrNotFound         = errors.New("booking not found")
	ErrValidation       = errors.New("invalid booking request")
	ErrAlreadyCancelled = errors.New("booking room already cancelled")
	ErrNotArchivable    = errors.New("booking still has open stays")
	ErrAlreadyArchived  = errors.New("booking is archived")
)

// RoomRequestError names the request line that could not be reserved.
type RoomRequestError struct {
	Index     int
	RoomID    int64
	Available int
	Err       error
}

func (e *RoomRequestError) Error() string {
	return fmt.Sprintf("rooms[%d] (room %d): %v", e.Index, e.RoomID, e.Err)
}

func (e *RoomRequestError) Unwrap() error {
	return e.Err
}

func roomRequestError(index int, roomID int64, err error) error {
	out := &RoomRequestError{Index: index, RoomID: roomID, Err: err}
	var capErr *inventory.CapacityError
	if errors.As(err, &capErr) {
		out.Available = capErr.Available
	}
	return out
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

package history

import "errors"

var (
	ErrInvalidSource = errors.New("invalid history source")
	ErrInvalidStatus = errors.New("history status is required")
	ErrInvalidEntry  = errors.New("invalid history entry")
	ErrNotFound      = errors.New("no history for booking")
)

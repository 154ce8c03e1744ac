package engine

import "errors"

var (
	ErrReceiverRequired = errors.New("receiver required")
	ErrInvalidDuration  = errors.New("duration must be positive")
)

package relay

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrStopped        = errors.New("relay stopped")
	ErrStreamDropped  = errors.New("file stream dropped")
)

// DecodeError reports an inbound frame that never reached the relay.
type DecodeError struct {
	Event string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Event == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Event, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

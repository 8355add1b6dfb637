package comm

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is matched by every MalformedError.
	ErrMalformed = errors.New("malformed frame")
	// ErrNoPayload indicates a frame without payload is being encoded.
	ErrNoPayload = errors.New("frame has no payload")
	// ErrPayloadTooLarge indicates the encoded payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// MalformedError describes why a frame was rejected by Decode.
type MalformedError struct {
	Reason string
	Err    error
}

// Error implements error.
func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame: %s: %v", e.Reason, e.Err)
	}
	return "malformed frame: " + e.Reason
}

// Is makes errors.Is(err, ErrMalformed) hold.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

// Unwrap returns the underlying cause.
func (e *MalformedError) Unwrap() error {
	return e.Err
}

func malformed(reason string, err error) error {
	return &MalformedError{Reason: reason, Err: err}
}

package extract

import (
	"errors"
	"fmt"
)

// ErrPayloadNotFound reports that no script or table carrying leaderboard data exists.
var ErrPayloadNotFound = errors.New("leaderboard payload not found")

// ErrMalformedPayload is matched by every *MalformedPayloadError.
var ErrMalformedPayload = errors.New("malformed leaderboard payload")

// MalformedPayloadError describes why a located payload could not be decoded.
type MalformedPayloadError struct {
	Reason string
	Err    error
}

func malformed(reason string, err error) error {
	return &MalformedPayloadError{Reason: reason, Err: err}
}

func (e *MalformedPayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrMalformedPayload, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrMalformedPayload, e.Reason)
}

// Unwrap exposes the decode error, if any.
func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrMalformedPayload) match.
func (e *MalformedPayloadError) Is(target error) bool {
	return target == ErrMalformedPayload
}

package session

import (
	"errors"
	"fmt"
)

var (
	ErrBusy             = errors.New("another call operation is in progress")
	ErrNotLive          = errors.New("not in a call")
	ErrAlreadyJoined    = errors.New("already in a call")
	ErrMediaUnavailable = errors.New("media device unavailable")
	ErrTimeout          = errors.New("timeout")
)

// Error describes a failed call operation.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

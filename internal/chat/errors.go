package chat

import (
	"errors"
	"fmt"
)

// ValidationError rejects bad input before any store call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// PersistenceError means the store could not complete a write or read that
// the operation depends on. The operation is aborted and nothing is broadcast.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// MembershipLookupError means fan-out targets for a channel could not be
// resolved. It never fails the send that triggered the lookup.
type MembershipLookupError struct {
	ChannelID string
	Err       error
}

func (e *MembershipLookupError) Error() string {
	return fmt.Sprintf("membership lookup for channel %s failed: %v", e.ChannelID, e.Err)
}

func (e *MembershipLookupError) Unwrap() error { return e.Err }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsPersistence(err error) bool {
	var e *PersistenceError
	return errors.As(err, &e)
}

func IsMembershipLookup(err error) bool {
	var e *MembershipLookupError
	return errors.As(err, &e)
}

// Code maps an error onto the status code carried by error events.
func Code(err error) int {
	switch {
	case err == nil:
		return 200
	case IsValidation(err):
		return 400
	case IsPersistence(err), IsMembershipLookup(err):
		return 503
	default:
		return 500
	}
}

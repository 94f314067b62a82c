package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGuardFailed is returned when every guard for a permitted event rejects the subject.
	// It matches ErrInvalidTransition under errors.Is.
	ErrGuardFailed = fmt.Errorf("%w: guard condition failed", ErrInvalidTransition)

	// ErrInvalidArgument is returned for malformed input
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState is returned when a structural precondition is violated
	ErrInvalidState = errors.New("invalid state")
)

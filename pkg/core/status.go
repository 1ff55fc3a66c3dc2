package core

import (
	"errors"
	"fmt"
)

// Status classifies errors raised by the Ethos-U host stack.
type Status int

const (
	StatusSuccess Status = iota
	StatusInvalidArgument
	StatusNoSpace
	StatusInvalidFrame
	StatusTimeout
	StatusInterrupted
	StatusFaulted
	StatusResourceExhausted
	StatusNotFound
	StatusInternalFailure
)

var statusMessages = map[Status]string{
	StatusSuccess:           "success",
	StatusInvalidArgument:   "invalid argument",
	StatusNoSpace:           "no space",
	StatusInvalidFrame:      "invalid frame",
	StatusTimeout:           "timeout",
	StatusInterrupted:       "interrupted",
	StatusFaulted:           "firmware fault",
	StatusResourceExhausted: "resource exhausted",
	StatusNotFound:          "not found",
	StatusInternalFailure:   "internal failure",
}

// String returns the human-readable status message
func (s Status) String() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return fmt.Sprintf("unknown status (%d)", int(s))
}

// Error represents an error from the Ethos-U host stack
type Error struct {
	Status  Status
	Context string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Context != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Context, e.Status.String(), e.Cause)
		}
		return fmt.Sprintf("%s: %s", e.Context, e.Status.String())
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Status.String(), e.Cause)
	}
	return e.Status.String()
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target status
func (e *Error) Is(target error) bool {
	var coreErr *Error
	if errors.As(target, &coreErr) {
		return e.Status == coreErr.Status
	}
	return false
}

// NewError creates a new Error with the given status
func NewError(status Status, context string) *Error {
	return &Error{
		Status:  status,
		Context: context,
	}
}

// NewErrorWithCause creates a new Error with an underlying cause
func NewErrorWithCause(status Status, context string, cause error) *Error {
	return &Error{
		Status:  status,
		Context: context,
		Cause:   cause,
	}
}

// StatusOf extracts the Status from an error, or StatusInternalFailure if the
// error does not carry one.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Status
	}
	return StatusInternalFailure
}

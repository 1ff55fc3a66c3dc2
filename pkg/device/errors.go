package device

import (
	"errors"

	"github.com/anthropics/purple-ethosu/pkg/core"
)

// Errors for device operations
var (
	ErrDeviceClosed = errors.New("device is closed")
)

// IsTimeout reports whether err is a caller-visible RPC timeout.
func IsTimeout(err error) bool {
	return core.StatusOf(err) == core.StatusTimeout
}

// IsInterrupted reports whether err means the caller's context was cancelled
// while waiting for the device.
func IsInterrupted(err error) bool {
	return core.StatusOf(err) == core.StatusInterrupted
}

// IsFaulted reports whether err means the firmware returned an error frame or
// was declared dead by the watchdog.
func IsFaulted(err error) bool {
	return core.StatusOf(err) == core.StatusFaulted
}

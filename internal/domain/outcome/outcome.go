// Package outcome defines the single-byte result codes that cross the
// guest/host boundary and the host-side error taxonomy they are reduced from.
package outcome

import (
	"errors"
	"fmt"
)

// Code is the result value returned to a guest in place of a structured error.
// The wire width is one byte; new codes must fit in it.
type Code uint8

const (
	// None signals success. It shares the all-zero bit pattern with "no data".
	None Code = 0
	// Other is the catch-all failure: unresolved caller, unknown handle,
	// denied permission or address, invalid buffer translation.
	Other Code = 1
	// Device signals that the bus transaction itself failed.
	Device Code = 2
)

// String returns a human-readable name for the code.
func (c Code) String() string {
	switch c {
	case None:
		return "none"
	case Other:
		return "other"
	case Device:
		return "device"
	default:
		return fmt.Sprintf("code(%d)", uint8(c))
	}
}

// OK reports whether the code signals success.
func (c Code) OK() bool {
	return c == None
}

// Boundary-resolution failures.
var (
	// ErrNullIdentity is returned when the engine cannot tell which module instance is calling.
	ErrNullIdentity = errors.New("caller identity could not be resolved")
	// ErrInvalidBuffer is returned when a guest offset/length does not translate to guest memory.
	ErrInvalidBuffer = errors.New("guest buffer is outside linear memory")
)

// Authorization failures.
var (
	// ErrUnknownHandle is returned when the handle is not registered for the calling instance.
	ErrUnknownHandle = errors.New("handle not found for module instance")
	// ErrPermissionDenied is returned when the handle lacks the requested operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrAddressDenied is returned when the target device address is not allowed for the handle.
	ErrAddressDenied = errors.New("device address denied")
)

var (
	// ErrDevice wraps failures of the underlying bus transaction.
	ErrDevice = errors.New("device transaction failed")
	// ErrHandlesExhausted is returned when no free handle value is left.
	ErrHandlesExhausted = errors.New("no free handle values")
)

// CodeOf reduces a host-side error to the code sent to the guest.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return None
	case errors.Is(err, ErrDevice):
		return Device
	default:
		return Other
	}
}

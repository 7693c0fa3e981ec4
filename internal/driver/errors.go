package driver

import "errors"

// Sentinel errors returned by driver implementations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoDevice is returned by Discover when no device appeared in time.
	ErrNoDevice = errors.New("driver: no device found")

	// ErrDisconnected is returned by handle calls once the device is gone.
	ErrDisconnected = errors.New("driver: device disconnected")

	// ErrUnknownPath is returned when a property path does not exist.
	ErrUnknownPath = errors.New("driver: unknown property path")

	// ErrReadOnly is returned when writing a read-only property.
	ErrReadOnly = errors.New("driver: property is read-only")

	// ErrUnknownMethod is returned when calling a method the device lacks.
	ErrUnknownMethod = errors.New("driver: unknown method")
)

package connection

import "errors"

// Sentinel errors for the connection package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoDeviceFound is returned by Connect when discovery finds nothing.
	ErrNoDeviceFound = errors.New("connection: no device found")

	// ErrIdentityMismatch describes a discovery result for a different serial.
	// It is logged and recorded, never returned from the supervisor.
	ErrIdentityMismatch = errors.New("connection: device identity mismatch")

	// ErrProbeFailed wraps any driver error raised by the health probe.
	ErrProbeFailed = errors.New("connection: health probe failed")

	// ErrReconnectExhausted is reported through Status when the attempt
	// ceiling is reached.
	ErrReconnectExhausted = errors.New("connection: reconnection attempts exhausted")

	// ErrNotConnected is returned by device access while no healthy handle exists.
	ErrNotConnected = errors.New("connection: device not connected")

	// ErrRebooting is returned by device access during a protected operation.
	ErrRebooting = errors.New("connection: device is rebooting")

	// ErrConnectAborted is returned when Disconnect ran while Connect was
	// still discovering.
	ErrConnectAborted = errors.New("connection: connect aborted by disconnect")

	// ErrProtectedOperationFailed wraps a non-disconnect error from save,
	// reboot or erase.
	ErrProtectedOperationFailed = errors.New("connection: protected operation failed")

	// ErrInvalidOperation is returned for an unknown protected operation kind.
	ErrInvalidOperation = errors.New("connection: invalid protected operation")

	// ErrInvalidPath is returned for an empty or malformed property path.
	ErrInvalidPath = errors.New("connection: invalid property path")
)

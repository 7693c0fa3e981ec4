package driver

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Identity is the stable serial number naming a physical device across
// reconnections, formatted as the vendor prints it (e.g. "0x3a1f2b3c4d5e").
type Identity string

// String returns the identity as a plain string.
func (i Identity) String() string {
	return string(i)
}

// Handle is an opaque reference to a live connection with one device.
//
// A handle becomes stale when the device reboots or is unplugged; every
// call on a stale handle fails with an error satisfying IsDisconnect.
// Handles are not safe for concurrent use; callers serialise access.
type Handle interface {
	// Get reads a dotted property path such as "axis0.current_state".
	Get(path string) (any, error)

	// Set writes a dotted property path.
	Set(path string, value any) error

	// Call invokes a device method such as "save_configuration".
	Call(method string, args ...any) (any, error)
}

// Info describes a device seen during a scan.
type Info struct {
	Path            string   `json:"path"`
	Serial          Identity `json:"serial"`
	FirmwareVersion string   `json:"fw_version"`
	HardwareVersion string   `json:"hw_version"`
	Index           int      `json:"index"`
}

// Found is a successful discovery result.
type Found struct {
	Handle   Handle
	Identity Identity
}

// Discoverer finds a device on the bus.
type Discoverer interface {
	// Discover blocks until any device is reachable or timeout elapses.
	// It returns ErrNoDevice when nothing was found. The device returned
	// is whichever the transport reports first; it is not necessarily the
	// one the caller expects.
	Discover(ctx context.Context, timeout time.Duration) (Found, error)
}

// Scanner lists the devices currently visible.
type Scanner interface {
	Scan(ctx context.Context, timeout time.Duration) ([]Info, error)
}

// Driver is the full vendor driver surface.
type Driver interface {
	Discoverer
	Scanner
}

// IsDisconnect reports whether err means the device went away during a call.
// Vendor drivers do not always wrap ErrDisconnected, so the message is
// checked as well.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDisconnected) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "disconnected")
}

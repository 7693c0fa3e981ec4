// Package sim is an in-memory motor-controller bus.
//
// Devices can be plugged, unplugged and rebooted from tests or from the
// development server. A rebooting device drops off the bus for BootDelay
// and every handle obtained before the reboot goes stale, which mirrors how
// the vendor transport behaves across a reset.
package sim

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/drivelink/internal/driver"
)

// pollInterval is how often Discover re-checks the bus while waiting.
const pollInterval = 20 * time.Millisecond

// Options configures a simulated bus.
type Options struct {
	// BootDelay is how long a device stays off the bus after a reboot.
	BootDelay time.Duration

	// SaveReboots makes save_configuration reboot the device, matching
	// firmware that resets after writing flash.
	SaveReboots bool
}

// Bus is a simulated transport holding zero or more devices.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Bus struct {
	opts Options

	mu      sync.Mutex
	devices map[driver.Identity]*device
	order   []driver.Identity
	now     func() time.Time

	discoverCalls int
}

// NewBus creates an empty bus.
func NewBus(opts Options) *Bus {
	return &Bus{
		opts:    opts,
		devices: make(map[driver.Identity]*device),
		now:     time.Now,
	}
}

// Plug attaches a device with factory defaults, or re-attaches a previously
// unplugged one with its saved configuration.
func (b *Bus) Plug(serial driver.Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d, ok := b.devices[serial]; ok {
		if !d.plugged {
			d.plugged = true
			d.epoch++
			d.live = cloneProps(d.saved)
		}
		return
	}

	d := newDevice(serial)
	b.devices[serial] = d
	b.order = append(b.order, serial)
}

// Unplug detaches a device. Its handles go stale immediately.
func (b *Bus) Unplug(serial driver.Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d, ok := b.devices[serial]; ok && d.plugged {
		d.plugged = false
		d.epoch++
	}
}

// Reboot resets a device as if its reboot method had been called.
func (b *Bus) Reboot(serial driver.Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d, ok := b.devices[serial]; ok {
		b.rebootLocked(d)
	}
}

// Online reports whether a device is plugged in and finished booting.
func (b *Bus) Online(serial driver.Identity) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.devices[serial]
	return ok && b.onlineLocked(d)
}

// DiscoverCalls returns how many Discover calls the bus has served.
func (b *Bus) DiscoverCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.discoverCalls
}

// Discover waits for the first online device in plug order.
func (b *Bus) Discover(ctx context.Context, timeout time.Duration) (driver.Found, error) {
	b.mu.Lock()
	b.discoverCalls++
	b.mu.Unlock()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if found, ok := b.firstOnline(); ok {
			return found, nil
		}
		if !time.Now().Before(deadline) {
			return driver.Found{}, driver.ErrNoDevice
		}
		select {
		case <-ctx.Done():
			return driver.Found{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Scan lists online devices. It does not wait for devices to appear.
func (b *Bus) Scan(_ context.Context, _ time.Duration) ([]driver.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	infos := make([]driver.Info, 0, len(b.order))
	for _, serial := range b.order {
		d := b.devices[serial]
		if !b.onlineLocked(d) {
			continue
		}
		infos = append(infos, driver.Info{
			Path:            fmt.Sprintf("sim:%d", len(infos)),
			Serial:          serial,
			FirmwareVersion: fmt.Sprint(d.live["fw_version"]),
			HardwareVersion: fmt.Sprint(d.live["hw_version"]),
			Index:           len(infos),
		})
	}
	return infos, nil
}

func (b *Bus) firstOnline() (driver.Found, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, serial := range b.order {
		d := b.devices[serial]
		if b.onlineLocked(d) {
			return driver.Found{
				Handle:   &handle{bus: b, dev: d, epoch: d.epoch},
				Identity: serial,
			}, true
		}
	}
	return driver.Found{}, false
}

func (b *Bus) onlineLocked(d *device) bool {
	return d.plugged && !b.now().Before(d.bootUntil)
}

func (b *Bus) rebootLocked(d *device) {
	d.epoch++
	d.bootUntil = b.now().Add(b.opts.BootDelay)
	d.live = cloneProps(d.saved)
}

// handle is bound to one boot epoch of a device.
type handle struct {
	bus   *Bus
	dev   *device
	epoch uint64
}

func (h *handle) checkLocked() error {
	if h.dev.epoch != h.epoch || !h.bus.onlineLocked(h.dev) {
		return fmt.Errorf("%w: %s", driver.ErrDisconnected, h.dev.serial)
	}
	return nil
}

func (h *handle) Get(path string) (any, error) {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()

	if err := h.checkLocked(); err != nil {
		return nil, err
	}
	v, ok := h.dev.live[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", driver.ErrUnknownPath, path)
	}
	return v, nil
}

func (h *handle) Set(path string, value any) error {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()

	if err := h.checkLocked(); err != nil {
		return err
	}
	if _, ok := h.dev.live[path]; !ok {
		return fmt.Errorf("%w: %s", driver.ErrUnknownPath, path)
	}
	if readOnly[path] {
		return fmt.Errorf("%w: %s", driver.ErrReadOnly, path)
	}
	h.dev.live[path] = value
	if axis, ok := strings.CutSuffix(path, ".requested_state"); ok {
		h.dev.live[axis+".current_state"] = value
	}
	return nil
}

func (h *handle) Call(method string, _ ...any) (any, error) {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()

	if err := h.checkLocked(); err != nil {
		return nil, err
	}

	switch strings.TrimSuffix(method, "()") {
	case "reboot":
		h.bus.rebootLocked(h.dev)
		return nil, fmt.Errorf("%w: %s rebooted", driver.ErrDisconnected, h.dev.serial)
	case "save_configuration":
		h.dev.saved = cloneProps(h.dev.live)
		if h.bus.opts.SaveReboots {
			h.bus.rebootLocked(h.dev)
			return nil, fmt.Errorf("%w: %s rebooted after save", driver.ErrDisconnected, h.dev.serial)
		}
		return true, nil
	case "erase_configuration":
		h.dev.saved = factoryProps(h.dev.serial)
		h.bus.rebootLocked(h.dev)
		return nil, fmt.Errorf("%w: %s rebooted after erase", driver.ErrDisconnected, h.dev.serial)
	case "clear_errors":
		for _, p := range []string{"axis0.error", "axis1.error"} {
			h.dev.live[p] = 0
		}
		return nil, nil
	}

	return nil, fmt.Errorf("%w: %s", driver.ErrUnknownMethod, method)
}

// device is the simulated hardware.
type device struct {
	serial    driver.Identity
	plugged   bool
	epoch     uint64
	bootUntil time.Time
	live      map[string]any
	saved     map[string]any
}

func newDevice(serial driver.Identity) *device {
	props := factoryProps(serial)
	return &device{
		serial:  serial,
		plugged: true,
		live:    props,
		saved:   cloneProps(props),
	}
}

var readOnly = map[string]bool{
	"serial_number":       true,
	"fw_version":          true,
	"hw_version":          true,
	"vbus_voltage":        true,
	"axis0.current_state": true,
	"axis1.current_state": true,
	"axis0.error":         true,
	"axis1.error":         true,
}

func factoryProps(serial driver.Identity) map[string]any {
	return map[string]any{
		"serial_number":                        string(serial),
		"fw_version":                           "0.5.6",
		"hw_version":                           "3.6-56V",
		"vbus_voltage":                         24.1,
		"config.brake_resistance":              2.0,
		"config.dc_max_negative_current":       -10.0,
		"axis0.error":                          0,
		"axis0.current_state":                  1,
		"axis0.requested_state":                0,
		"axis0.motor.config.pole_pairs":        7,
		"axis0.motor.config.current_lim":       10.0,
		"axis0.motor.config.motor_type":        0,
		"axis0.encoder.config.cpr":             8192,
		"axis0.controller.config.control_mode": 3,
		"axis0.controller.config.vel_limit":    2.0,
		"axis0.controller.config.pos_gain":     20.0,
		"axis0.controller.config.vel_gain":     0.16,
		"axis1.error":                          0,
		"axis1.current_state":                  1,
		"axis1.requested_state":                0,
	}
}

func cloneProps(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Paths returns the sorted property paths of a fresh device.
func Paths() []string {
	props := factoryProps("")
	paths := make([]string, 0, len(props))
	for p := range props {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

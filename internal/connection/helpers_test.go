package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/drivelink/internal/driver"
)

const (
	serialA driver.Identity = "0x3a1f2b3c4d5e"
	serialB driver.Identity = "0x20873592524b"
)

// fastConfig keeps every wait in the millisecond range.
func fastConfig() Config {
	return Config{
		ProbeProperty:          "vbus_voltage",
		ConnectTimeout:         time.Second,
		ReconnectTimeout:       10 * time.Millisecond,
		RebootReconnectTimeout: 20 * time.Millisecond,
		RetryDelay:             5 * time.Millisecond,
		RebootRetryDelay:       5 * time.Millisecond,
		MaxReconnectAttempts:   3,
		ScanTimeout:            time.Second,
		ReturnTimeout:          2 * time.Second,
	}
}

// stubHandle is a hand-written driver.Handle.
type stubHandle struct {
	mu       sync.Mutex
	probeErr error
	probes   int
	props    map[string]any
	getErr   map[string]error
	callErr  map[string]error
	calls    []string
}

func newStubHandle() *stubHandle {
	return &stubHandle{
		props:   map[string]any{"axis0.controller.config.vel_limit": 2.0},
		getErr:  map[string]error{},
		callErr: map[string]error{},
	}
}

func (h *stubHandle) Get(path string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if path == "vbus_voltage" {
		h.probes++
		if h.probeErr != nil {
			return nil, h.probeErr
		}
		return 24.0, nil
	}
	if err := h.getErr[path]; err != nil {
		return nil, err
	}
	v, ok := h.props[path]
	if !ok {
		return nil, driver.ErrUnknownPath
	}
	return v, nil
}

func (h *stubHandle) Set(path string, value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.getErr[path]; err != nil {
		return err
	}
	h.props[path] = value
	return nil
}

func (h *stubHandle) Call(method string, _ ...any) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls = append(h.calls, method)
	if err := h.callErr[method]; err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *stubHandle) setProbeErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probeErr = err
}

func (h *stubHandle) probeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.probes
}

func (h *stubHandle) callLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

type discoverResult struct {
	found driver.Found
	err   error
}

func found(id driver.Identity, h driver.Handle) discoverResult {
	return discoverResult{found: driver.Found{Handle: h, Identity: id}}
}

// stubDriver serves queued discovery results, then a fallback.
type stubDriver struct {
	mu          sync.Mutex
	queue       []discoverResult
	fallback    discoverResult
	timeouts    []time.Duration
	block       chan struct{}
	inFlight    int
	maxInFlight int
	scan        []driver.Info
}

func newStubDriver(results ...discoverResult) *stubDriver {
	return &stubDriver{
		queue:    results,
		fallback: discoverResult{err: driver.ErrNoDevice},
	}
}

func (d *stubDriver) Discover(ctx context.Context, timeout time.Duration) (driver.Found, error) {
	d.mu.Lock()
	d.timeouts = append(d.timeouts, timeout)
	d.inFlight++
	if d.inFlight > d.maxInFlight {
		d.maxInFlight = d.inFlight
	}
	r := d.fallback
	if len(d.queue) > 0 {
		r = d.queue[0]
		d.queue = d.queue[1:]
	}
	block := d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	d.mu.Lock()
	d.inFlight--
	d.mu.Unlock()
	return r.found, r.err
}

func (d *stubDriver) Scan(context.Context, time.Duration) ([]driver.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scan, nil
}

func (d *stubDriver) setFallback(r discoverResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = r
}

func (d *stubDriver) setBlock(ch chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.block = ch
}

func (d *stubDriver) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timeouts)
}

func (d *stubDriver) timeoutAt(i int) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timeouts[i]
}

func (d *stubDriver) peakInFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// eventLog is a Sink recording every event.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) HandleEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]EventKind, len(l.events))
	for i, e := range l.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// of returns the recorded events of one kind, in order.
func (l *eventLog) of(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) has(kind EventKind) bool {
	for _, k := range l.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// recordingLogger keeps Info messages.
type recordingLogger struct {
	mu   sync.Mutex
	info []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Warn(string, ...any)  {}
func (l *recordingLogger) Error(string, ...any) {}

func (l *recordingLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.info = append(l.info, msg)
}

func (l *recordingLogger) saw(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.info {
		if m == msg {
			return true
		}
	}
	return false
}

var errUSB = errors.New("usb transfer failed")

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}

// connected returns a manager connected to serialA through h.
func connected(t *testing.T, cfg Config, drv *stubDriver, h *stubHandle) *Manager {
	t.Helper()
	drv.mu.Lock()
	drv.queue = append([]discoverResult{found(serialA, h)}, drv.queue...)
	drv.mu.Unlock()

	m := NewManager(cfg, drv)
	t.Cleanup(m.Close)

	if _, err := m.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return m
}

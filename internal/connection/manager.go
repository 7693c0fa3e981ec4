package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/drivelink/internal/driver"
)

// Logger defines the logging interface for the connection manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recoverer is an opaque recovery action, such as a USB port reset, that
// the supervisor may run once per loss episode.
type Recoverer interface {
	Recover(ctx context.Context) error
}

// RecovererFunc adapts a function to Recoverer.
type RecovererFunc func(ctx context.Context) error

// Recover calls f(ctx).
func (f RecovererFunc) Recover(ctx context.Context) error {
	return f(ctx)
}

// Manager owns the connection to one device.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - Status never blocks on discovery or device I/O.
type Manager struct {
	cfg      Config
	drv      driver.Driver
	probe    *Probe
	logger   Logger
	notifier *notifier
	now      func() time.Time

	mu        sync.Mutex
	st        state
	sup       supervisor
	lifecycle uint64
	seq       uint64
	recoverer Recoverer
	observer  ProbeObserver

	// connectMu serialises Connect calls.
	connectMu sync.Mutex

	// opMu serialises every call on the device handle.
	opMu sync.Mutex
}

// NewManager creates a Manager using drv for discovery and scanning.
// Call Close when done to stop background goroutines.
func NewManager(cfg Config, drv driver.Driver) *Manager {
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:    cfg,
		drv:    drv,
		probe:  NewProbe(cfg.ProbeProperty),
		logger: noopLogger{},
		now:    time.Now,
	}
	m.notifier = newNotifier(func(e Event) {
		m.logger.Warn("event queue full, dropping event", "kind", e.Kind, "seq", e.Seq)
	})
	return m
}

// SetLogger sets the logger for the manager.
// Call it before Connect, Run or AddSink; it is not safe to change the
// logger while the manager is in use.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetRecoverer installs the recovery action used after
// Config.RecoveryAfterAttempts failed attempts.
func (m *Manager) SetRecoverer(r Recoverer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoverer = r
}

// SetProbeObserver installs a callback receiving every probe result.
func (m *Manager) SetProbeObserver(fn ProbeObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = fn
}

// AddSink registers an event sink.
func (m *Manager) AddSink(s Sink) {
	m.notifier.add(s)
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Close stops the supervisor and flushes pending events to the sinks.
// The manager must not be used afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopSupervisorLocked(SupervisorIdle)
	m.mu.Unlock()

	m.notifier.close()
}

// Connect discovers a device and starts a new session.
//
// Any previous session is discarded first. hint is the serial the caller
// expects; a different device is still adopted but the mismatch is recorded
// in the returned snapshot. Returns ErrNoDeviceFound when discovery finds
// nothing within Config.ConnectTimeout.
func (m *Manager) Connect(ctx context.Context, hint driver.Identity) (Snapshot, error) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	m.stopSupervisorLocked(SupervisorIdle)
	m.st.reset()
	m.lifecycle++
	lifecycle := m.lifecycle
	m.mu.Unlock()

	m.logger.Info("searching for device", "timeout", m.cfg.ConnectTimeout, "hint", hint)

	found, err := m.drv.Discover(ctx, m.cfg.ConnectTimeout)
	if err != nil {
		if errors.Is(err, driver.ErrNoDevice) {
			m.logger.Warn("no device found", "timeout", m.cfg.ConnectTimeout)
			return Snapshot{}, ErrNoDeviceFound
		}
		m.logger.Warn("device discovery failed", "error", err)
		return Snapshot{}, fmt.Errorf("%w: %w", ErrNoDeviceFound, err)
	}
	if found.Handle == nil || found.Identity == "" {
		return Snapshot{}, fmt.Errorf("%w: discovery returned an incomplete result", ErrNoDeviceFound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lifecycle != lifecycle {
		return Snapshot{}, ErrConnectAborted
	}

	m.st.adopt(found.Handle, m.now())
	m.st.identity = found.Identity
	m.st.session = uuid.NewString()
	m.st.hint = hint
	m.st.hintMismatch = hint != "" && hint != found.Identity

	if m.st.hintMismatch {
		m.logger.Warn("connected device differs from requested serial",
			"serial", found.Identity,
			"requested", hint,
		)
	}
	m.logger.Info("device connected",
		"serial", found.Identity,
		"session_id", m.st.session,
	)
	m.emitLocked(EventConnected, 0, "")

	return m.snapshotLocked(), nil
}

// Disconnect ends the session. It always succeeds and is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	hadSession := m.st.identity != ""
	identity, session := m.st.identity, m.st.session

	m.stopSupervisorLocked(SupervisorIdle)
	m.st.reset()
	m.lifecycle++

	if hadSession {
		m.logger.Info("device disconnected", "serial", identity, "session_id", session)
		m.emitEventLocked(Event{Kind: EventDisconnected, Identity: identity, Session: session})
	}
}

// IsConnected reports whether a handle exists and the connection is not
// known to be lost. It performs no I/O.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.isConnected()
}

// Status returns a consistent snapshot of the connection state.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// CheckConnection verifies the current handle with a probe and applies the
// result:
//
//   - no handle: false, no I/O
//   - rebooting within Config.RebootCheckGrace: false, no I/O
//   - probe success after a loss: the connection is recovered
//   - probe failure on a healthy connection: marked lost, supervisor started
//
// A probe whose handle was replaced while it ran is discarded.
func (m *Manager) CheckConnection(ctx context.Context) bool {
	m.mu.Lock()
	h := m.st.handle
	if h == nil {
		m.mu.Unlock()
		return false
	}
	if m.st.isRebooting && m.now().Sub(m.st.rebootStartedAt) < m.cfg.RebootCheckGrace {
		m.mu.Unlock()
		m.logger.Debug("device rebooting, skipping probe")
		return false
	}
	generation := m.st.generation
	identity := m.st.identity
	observer := m.observer
	m.mu.Unlock()

	if ctx.Err() != nil {
		return m.IsConnected()
	}

	m.opMu.Lock()
	start := time.Now()
	value, err := m.probe.Check(ctx, h)
	latency := time.Since(start)
	m.opMu.Unlock()

	if observer != nil {
		observer(ProbeResult{
			Identity: identity,
			Property: m.probe.Property(),
			Value:    value,
			Latency:  latency,
			Err:      err,
			At:       m.now(),
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.generation != generation || m.st.handle == nil {
		m.logger.Debug("discarding stale probe result", "generation", generation)
		return m.st.isConnected()
	}

	if err != nil {
		if ctx.Err() != nil {
			return m.st.isConnected()
		}
		m.markLostLocked(err)
		return false
	}

	if m.st.connectionLost {
		m.recoverLocked("probe")
	}
	return true
}

// WaitConnected polls Status until the device is connected, timeout
// elapses or ctx is cancelled.
func (m *Manager) WaitConnected(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.IsConnected() {
			return true
		}
		select {
		case <-ctx.Done():
			return m.IsConnected()
		case <-ticker.C:
		}
	}
}

// Scan lists visible devices. It never changes the connection state.
func (m *Manager) Scan(ctx context.Context) ([]driver.Info, error) {
	infos, err := m.drv.Scan(ctx, m.cfg.ScanTimeout)
	if err != nil {
		return nil, fmt.Errorf("scanning devices: %w", err)
	}
	return infos, nil
}

// Run polls CheckConnection every Config.PollInterval until ctx is
// cancelled. With a zero interval it only waits for ctx.
func (m *Manager) Run(ctx context.Context) error {
	if m.cfg.PollInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.CheckConnection(ctx)
		}
	}
}

// markLostLocked records a loss and starts the supervisor. A loss on an
// already lost connection is ignored.
func (m *Manager) markLostLocked(cause error) {
	if m.st.connectionLost {
		return
	}
	m.st.connectionLost = true
	m.st.reconnectAttempts = 0
	m.st.lastError = cause.Error()
	m.sup.notBefore = time.Time{}
	m.sup.recoveryDone = false

	m.logger.Warn("device connection lost", "serial", m.st.identity, "error", cause)
	m.emitLocked(EventLost, 0, cause.Error())
	m.startSupervisorLocked()
}

// recoverLocked clears the loss flags and stops the supervisor.
func (m *Manager) recoverLocked(via string) {
	m.st.markRecovered()
	m.stopSupervisorLocked(SupervisorIdle)

	m.logger.Info("device connection recovered", "serial", m.st.identity, "via", via)
	m.emitLocked(EventRecovered, 0, via)
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		Connected:            m.st.isConnected(),
		ConnectionLost:       m.st.connectionLost,
		Identity:             m.st.identity,
		IsRebooting:          m.st.isRebooting,
		RebootStartedAt:      m.st.rebootStartedAt,
		ReconnectAttempts:    m.st.reconnectAttempts,
		MaxReconnectAttempts: m.cfg.MaxReconnectAttempts,
		Supervisor:           m.sup.state,
		SessionID:            m.st.session,
		Generation:           m.st.generation,
		ConnectedAt:          m.st.connectedAt,
		RequestedIdentity:    m.st.hint,
		IdentityMismatch:     m.st.hintMismatch,
		LastError:            m.st.lastError,
	}
	if snap.Supervisor == "" {
		snap.Supervisor = SupervisorIdle
	}
	if m.sup.state == SupervisorWaiting {
		snap.NextAttemptAt = m.sup.deadline
	}
	return snap
}

func (m *Manager) emitLocked(kind EventKind, attempt int, detail string) {
	m.emitEventLocked(Event{
		Kind:     kind,
		Identity: m.st.identity,
		Session:  m.st.session,
		Attempt:  attempt,
		Detail:   detail,
	})
}

// emitEventLocked stamps e and queues it. Emitting under mu keeps the
// event order identical to the transition order.
func (m *Manager) emitEventLocked(e Event) {
	m.seq++
	e.Seq = m.seq
	e.At = m.now()
	e.Status = m.snapshotLocked()
	m.notifier.emit(e)
}

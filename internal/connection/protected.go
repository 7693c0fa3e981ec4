package connection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/drivelink/internal/driver"
)

// OperationKind is a command expected to reboot or disconnect the device.
type OperationKind string

const (
	OperationSave   OperationKind = "save"
	OperationReboot OperationKind = "reboot"
	OperationErase  OperationKind = "erase"
)

// Valid reports whether k is a known operation.
func (k OperationKind) Valid() bool {
	switch k {
	case OperationSave, OperationReboot, OperationErase:
		return true
	}
	return false
}

// Method returns the device method that performs k.
func (k OperationKind) Method() string {
	switch k {
	case OperationSave:
		return "save_configuration"
	case OperationReboot:
		return "reboot"
	case OperationErase:
		return "erase_configuration"
	}
	return ""
}

// OperationForMethod maps a device method name to its protected operation.
// Trailing "()" is ignored.
func OperationForMethod(method string) (OperationKind, bool) {
	switch strings.TrimSuffix(strings.TrimSpace(method), "()") {
	case "save_configuration":
		return OperationSave, true
	case "reboot":
		return OperationReboot, true
	case "erase_configuration":
		return OperationErase, true
	}
	return "", false
}

// BeginProtectedOperation marks the connection as rebooting before a
// save, reboot or erase command is sent, and starts the supervisor.
//
// Most callers want RunProtected, which sends the command through the
// live handle and completes the operation. The Begin/Complete pair is for
// callers that already hold a driver.Handle and issue the command on it
// themselves; they must call CompleteProtectedOperation with its outcome.
func (m *Manager) BeginProtectedOperation(kind OperationKind) error {
	_, err := m.beginProtected(kind)
	return err
}

func (m *Manager) beginProtected(kind OperationKind) (driver.Handle, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.isRebooting {
		return nil, ErrRebooting
	}
	if !m.st.isConnected() {
		return nil, ErrNotConnected
	}

	m.st.isRebooting = true
	m.st.rebootStartedAt = m.now()
	m.st.connectionLost = true
	m.st.reconnectAttempts = 0
	m.st.lastError = ""
	m.sup.notBefore = time.Time{}
	m.sup.recoveryDone = false

	m.logger.Info("protected operation starting",
		"operation", kind,
		"serial", m.st.identity,
		"grace_period", m.cfg.RebootGracePeriod,
	)
	m.emitLocked(EventProtectedStarted, 0, string(kind))
	m.startSupervisorLocked()

	return m.st.handle, nil
}

// CompleteProtectedOperation reports the outcome of the command.
//
// A nil error or a disconnect error is the expected outcome: the device is
// rebooting and the supervisor brings it back. A save that returned without
// disconnecting left the device in place, so the handle is verified at once.
// Any other error means the command failed; the rebooting flag is cleared,
// the handle is probed immediately and the error is returned wrapped in
// ErrProtectedOperationFailed.
func (m *Manager) CompleteProtectedOperation(ctx context.Context, kind OperationKind, cmdErr error) error {
	switch {
	case cmdErr != nil && driver.IsDisconnect(cmdErr):
		m.logger.Info("device disconnected as expected", "operation", kind)
		return nil

	case cmdErr == nil && kind != OperationSave:
		m.logger.Info("protected operation issued", "operation", kind)
		return nil

	case cmdErr == nil:
		m.logger.Info("configuration saved without reboot, verifying handle")
		m.clearRebooting("")
		m.CheckConnection(ctx)
		return nil
	}

	m.logger.Error("protected operation failed", "operation", kind, "error", cmdErr)
	m.clearRebooting(cmdErr.Error())
	m.CheckConnection(ctx)

	return fmt.Errorf("%w: %s: %w", ErrProtectedOperationFailed, kind, cmdErr)
}

// clearRebooting ends the reboot window while leaving the connection lost,
// so the next probe decides. The supervisor keeps its ordinary cadence.
func (m *Manager) clearRebooting(failure string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.st.isRebooting {
		return
	}
	m.st.isRebooting = false
	m.st.rebootStartedAt = time.Time{}
	if failure != "" {
		m.st.lastError = failure
		m.emitLocked(EventProtectedFailed, 0, failure)
	}
}

// RunProtected performs a protected operation end to end: begin, issue the
// device method under the operation lock, complete.
//
// Erase is followed by a best-effort reboot when the device did not drop
// off the bus by itself.
func (m *Manager) RunProtected(ctx context.Context, kind OperationKind) error {
	h, err := m.beginProtected(kind)
	if err != nil {
		return err
	}

	m.opMu.Lock()
	_, cmdErr := safeCall(h, kind.Method())
	if kind == OperationErase && cmdErr == nil {
		if _, rebootErr := safeCall(h, OperationReboot.Method()); rebootErr != nil && !driver.IsDisconnect(rebootErr) {
			m.logger.Warn("reboot after erase failed", "error", rebootErr)
		}
	}
	m.opMu.Unlock()

	return m.CompleteProtectedOperation(ctx, kind, cmdErr)
}

// SaveAndReboot saves the configuration, waits for the device to come back
// within Config.ReturnTimeout, then reboots it.
func (m *Manager) SaveAndReboot(ctx context.Context) error {
	if err := m.RunProtected(ctx, OperationSave); err != nil {
		return fmt.Errorf("saving configuration: %w", err)
	}

	if !m.WaitConnected(ctx, m.cfg.ReturnTimeout) {
		return fmt.Errorf("%w: device did not return after save", ErrNotConnected)
	}

	if err := m.RunProtected(ctx, OperationReboot); err != nil {
		return fmt.Errorf("rebooting: %w", err)
	}
	return nil
}

func safeCall(h driver.Handle, method string, args ...any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("driver panic in %s: %v", method, r)
		}
	}()
	return h.Call(method, args...)
}

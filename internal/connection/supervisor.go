package connection

import (
	"context"
	"fmt"
	"time"
)

// supervisor is the reconnect loop bookkeeping. Guarded by Manager.mu.
type supervisor struct {
	state  SupervisorState
	active bool

	// run identifies the current loop goroutine. Stopping bumps it so a
	// loop that is still inside discovery drops its result.
	run  uint64
	stop chan struct{}

	// deadline is when the next attempt may start, for Status.
	deadline time.Time

	// notBefore is the earliest start of the next attempt after a failure.
	notBefore time.Time

	recoveryDone bool

	// started counts loop goroutines ever launched.
	started int
}

// startSupervisorLocked launches the loop unless one is already running.
func (m *Manager) startSupervisorLocked() {
	if m.sup.active {
		return
	}
	m.sup.active = true
	m.sup.run++
	m.sup.started++
	m.sup.stop = make(chan struct{})
	m.sup.state = SupervisorWaiting

	m.logger.Debug("reconnect supervisor started", "run", m.sup.run)
	go m.supervise(m.sup.run, m.sup.stop)
}

// stopSupervisorLocked ends the current loop, if any, and sets the phase.
func (m *Manager) stopSupervisorLocked(next SupervisorState) {
	if m.sup.active {
		m.sup.active = false
		m.sup.run++
		close(m.sup.stop)
	}
	m.sup.state = next
	m.sup.deadline = time.Time{}
}

func (m *Manager) currentRunLocked(run uint64) bool {
	return m.sup.active && m.sup.run == run
}

// nextDeadlineLocked returns when the next attempt may start: the end of
// the reboot grace period or the retry delay, whichever is later.
func (m *Manager) nextDeadlineLocked() time.Time {
	deadline := m.sup.notBefore
	if m.st.isRebooting {
		grace := m.st.rebootStartedAt.Add(m.cfg.RebootGracePeriod)
		if grace.After(deadline) {
			deadline = grace
		}
	}
	return deadline
}

// supervise reacquires a handle for the session's identity.
//
// Each iteration waits for the deadline, runs one bounded discovery and
// applies the result. The stop channel and the run id are checked between
// steps; discovery itself is never interrupted.
func (m *Manager) supervise(run uint64, stop <-chan struct{}) {
	for {
		m.mu.Lock()
		if !m.currentRunLocked(run) {
			m.mu.Unlock()
			return
		}
		if !m.st.connectionLost || m.st.identity == "" {
			m.stopSupervisorLocked(SupervisorIdle)
			m.mu.Unlock()
			return
		}
		deadline := m.nextDeadlineLocked()
		m.sup.state = SupervisorWaiting
		m.sup.deadline = deadline
		wait := deadline.Sub(m.now())
		m.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		m.mu.Lock()
		if !m.currentRunLocked(run) {
			m.mu.Unlock()
			return
		}
		// A protected operation may have moved the deadline while we slept.
		if m.now().Before(m.nextDeadlineLocked()) {
			m.mu.Unlock()
			continue
		}
		m.sup.state = SupervisorAttempting
		m.sup.deadline = time.Time{}
		expected := m.st.identity
		rebooting := m.st.isRebooting
		attempt := m.st.reconnectAttempts + 1
		m.mu.Unlock()

		timeout := m.cfg.ReconnectTimeout
		if rebooting {
			timeout = m.cfg.RebootReconnectTimeout
		}

		m.logger.Info("attempting reconnection",
			"serial", expected,
			"attempt", attempt,
			"max_attempts", m.cfg.MaxReconnectAttempts,
			"rebooting", rebooting,
			"timeout", timeout,
		)

		found, err := m.drv.Discover(context.Background(), timeout)

		m.mu.Lock()
		if !m.currentRunLocked(run) {
			m.mu.Unlock()
			m.logger.Debug("supervisor stopped during discovery, discarding result", "run", run)
			return
		}

		if err == nil && found.Handle != nil && found.Identity == expected {
			m.st.adopt(found.Handle, m.now())
			m.recoverLocked("reconnect")
			m.mu.Unlock()
			return
		}

		var detail string
		switch {
		case err != nil:
			detail = err.Error()
		case found.Handle == nil:
			detail = "discovery returned no handle"
		default:
			detail = fmt.Sprintf("%v: found %s, expected %s", ErrIdentityMismatch, found.Identity, expected)
			m.logger.Warn("found a different device, not adopting",
				"serial", found.Identity,
				"expected", expected,
			)
			m.emitLocked(EventIdentityMismatch, attempt, string(found.Identity))
		}

		m.st.reconnectAttempts++
		attempts := m.st.reconnectAttempts
		m.emitLocked(EventAttemptFailed, attempts, detail)

		if attempts >= m.cfg.MaxReconnectAttempts {
			m.st.lastError = ErrReconnectExhausted.Error()
			m.stopSupervisorLocked(SupervisorExhausted)
			m.logger.Error("reconnection attempts exhausted",
				"serial", expected,
				"attempts", attempts,
			)
			m.emitLocked(EventExhausted, attempts, ErrReconnectExhausted.Error())
			m.mu.Unlock()
			return
		}

		delay := m.cfg.RetryDelay
		if m.st.isRebooting {
			delay = m.cfg.RebootRetryDelay
		}
		m.sup.notBefore = m.now().Add(delay)

		recoverer := m.recoverer
		runRecovery := recoverer != nil &&
			m.cfg.RecoveryAfterAttempts > 0 &&
			attempts >= m.cfg.RecoveryAfterAttempts &&
			!m.sup.recoveryDone
		if runRecovery {
			m.sup.recoveryDone = true
			m.emitLocked(EventRecoveryAttempted, attempts, "")
		}
		m.mu.Unlock()

		m.logger.Debug("reconnection attempt failed", "attempt", attempts, "detail", detail, "retry_in", delay)

		if runRecovery {
			m.runRecovery(recoverer, attempts)
		}
	}
}

func (m *Manager) runRecovery(r Recoverer, attempts int) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RecoveryTimeout)
	defer cancel()

	m.logger.Warn("running recovery action", "after_attempts", attempts)
	if err := r.Recover(ctx); err != nil {
		m.logger.Error("recovery action failed", "error", err)
		return
	}
	m.logger.Info("recovery action completed")
}

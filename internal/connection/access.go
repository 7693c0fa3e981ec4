package connection

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/drivelink/internal/driver"
)

// Get reads a property through the current handle.
func (m *Manager) Get(ctx context.Context, path string) (any, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	var value any
	err := m.withHandle(ctx, func(h driver.Handle) error {
		v, err := h.Get(path)
		value = v
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return value, nil
}

// Set writes a property through the current handle.
func (m *Manager) Set(ctx context.Context, path string, value any) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	err := m.withHandle(ctx, func(h driver.Handle) error {
		return h.Set(path, value)
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Call invokes a device method. save_configuration, reboot and
// erase_configuration are run as protected operations.
func (m *Manager) Call(ctx context.Context, method string, args ...any) (any, error) {
	method = strings.TrimSuffix(strings.TrimSpace(method), "()")
	if kind, ok := OperationForMethod(method); ok {
		return nil, m.RunProtected(ctx, kind)
	}
	if err := ValidatePath(method); err != nil {
		return nil, err
	}

	var result any
	err := m.withHandle(ctx, func(h driver.Handle) error {
		r, err := h.Call(method, args...)
		result = r
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	return result, nil
}

// withHandle runs fn with the current handle under the operation lock.
//
// A lost connection gets one CheckConnection first. A disconnect error from
// fn marks the connection lost and starts the supervisor, unless the handle
// was replaced meanwhile.
func (m *Manager) withHandle(ctx context.Context, fn func(driver.Handle) error) error {
	m.mu.Lock()
	connected := m.st.isConnected()
	rebooting := m.st.isRebooting
	hasHandle := m.st.handle != nil
	m.mu.Unlock()

	if !connected {
		switch {
		case rebooting:
			return ErrRebooting
		case !hasHandle:
			return ErrNotConnected
		case !m.CheckConnection(ctx):
			return ErrNotConnected
		}
	}

	m.opMu.Lock()
	m.mu.Lock()
	h := m.st.handle
	generation := m.st.generation
	ok := m.st.isConnected()
	m.mu.Unlock()

	if !ok {
		m.opMu.Unlock()
		return ErrNotConnected
	}

	err := runSafely(fn, h)
	m.opMu.Unlock()

	if err != nil && driver.IsDisconnect(err) {
		m.mu.Lock()
		if m.st.generation == generation {
			m.markLostLocked(err)
		}
		m.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return err
}

func runSafely(fn func(driver.Handle) error, h driver.Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("driver panic: %v", r)
		}
	}()
	return fn(h)
}

// ValidatePath checks a dotted property or method path such as
// "axis0.controller.config.vel_limit".
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
		for _, r := range segment {
			if !isPathRune(r) {
				return fmt.Errorf("%w: %q contains %q", ErrInvalidPath, path, r)
			}
		}
	}
	return nil
}

func isPathRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

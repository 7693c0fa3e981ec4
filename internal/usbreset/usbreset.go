package usbreset

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const (
	resetTimeout = 10 * time.Second
	checkTimeout = 5 * time.Second

	// settleDelay lets the device re-enumerate after a reset.
	settleDelay = 500 * time.Millisecond
)

// MaxRecoverDuration is the longest Recover can take before its own
// timeouts fire.
const MaxRecoverDuration = resetTimeout + settleDelay + checkTimeout

var (
	// ErrInvalidID is returned for vendor or product IDs that are not four hex digits.
	ErrInvalidID = errors.New("usbreset: invalid USB id")

	// ErrNotPresent is returned when lsusb does not list the device.
	ErrNotPresent = errors.New("usbreset: device not present")

	// ErrResetFailed wraps a failed usbreset invocation.
	ErrResetFailed = errors.New("usbreset: reset failed")
)

var usbIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{4}$`)

// Logger defines the logging interface for the resetter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// runFunc executes a command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Config selects the device to reset.
type Config struct {
	VendorID  string
	ProductID string
}

// Resetter resets one USB device identified by vendor:product.
type Resetter struct {
	device string
	logger Logger
	run    runFunc
	settle time.Duration
}

// New validates cfg and returns a Resetter.
func New(cfg Config) (*Resetter, error) {
	if !usbIDPattern.MatchString(cfg.VendorID) {
		return nil, fmt.Errorf("%w: vendor id %q must be 4 hex digits", ErrInvalidID, cfg.VendorID)
	}
	if !usbIDPattern.MatchString(cfg.ProductID) {
		return nil, fmt.Errorf("%w: product id %q must be 4 hex digits", ErrInvalidID, cfg.ProductID)
	}
	return &Resetter{
		device: strings.ToLower(cfg.VendorID + ":" + cfg.ProductID),
		logger: noopLogger{},
		run:    execRun,
		settle: settleDelay,
	}, nil
}

// SetLogger sets the logger for the resetter.
func (r *Resetter) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Device returns the vendor:product selector.
func (r *Resetter) Device() string {
	return r.device
}

// Present reports whether lsusb lists the device.
func (r *Resetter) Present(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	output, err := r.run(checkCtx, "lsusb", "-d", r.device)
	if err != nil {
		if errors.Is(checkCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("USB device check timed out after %v", checkTimeout)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("USB device check cancelled: %w", ctx.Err())
		}
		// lsusb exits 1 when nothing matches.
		return fmt.Errorf("%w: %s: %w", ErrNotPresent, r.device, err)
	}
	if len(strings.TrimSpace(string(output))) == 0 {
		return fmt.Errorf("%w: %s: no lsusb output", ErrNotPresent, r.device)
	}

	r.logger.Debug("USB device present", "device", r.device, "info", strings.TrimSpace(string(output)))
	return nil
}

// Reset issues a port reset and waits for the device to settle.
func (r *Resetter) Reset(ctx context.Context) error {
	r.logger.Info("resetting USB device", "device", r.device)

	resetCtx, cancel := context.WithTimeout(ctx, resetTimeout)
	defer cancel()

	output, err := r.run(resetCtx, "usbreset", r.device)
	if err != nil {
		if errors.Is(resetCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: timed out after %v", ErrResetFailed, resetTimeout)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("usbreset cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("%w: %w (output: %s)", ErrResetFailed, err, strings.TrimSpace(string(output)))
	}

	r.logger.Info("USB device reset successful", "device", r.device)

	if r.settle > 0 {
		t := time.NewTimer(r.settle)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Recover resets the device and confirms it enumerated again.
// It implements connection.Recoverer.
func (r *Resetter) Recover(ctx context.Context) error {
	if err := r.Reset(ctx); err != nil {
		return err
	}
	return r.Present(ctx)
}

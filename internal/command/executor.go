package command

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultRateLimit is the minimum interval between two identical lines.
const DefaultRateLimit = 100 * time.Millisecond

// Device is the device access the executor needs. *connection.Manager
// satisfies it.
type Device interface {
	Get(ctx context.Context, path string) (any, error)
	Set(ctx context.Context, path string, value any) error
	Call(ctx context.Context, method string, args ...any) (any, error)
}

// Logger defines the logging interface for the executor.
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

// Result is the outcome of one executed line.
type Result struct {
	Command Command `json:"command"`
	Value   any     `json:"result"`
	Message string  `json:"message,omitempty"`
}

// Executor parses and runs console lines against a Device.
//
// Thread Safety:
//   - Execute is safe for concurrent use.
type Executor struct {
	dev       Device
	logger    Logger
	rateLimit time.Duration
	now       func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewExecutor creates an executor with DefaultRateLimit.
func NewExecutor(dev Device) *Executor {
	return &Executor{
		dev:       dev,
		logger:    noopLogger{},
		rateLimit: DefaultRateLimit,
		now:       time.Now,
		last:      make(map[string]time.Time),
	}
}

// SetLogger sets the logger for the executor.
func (e *Executor) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetRateLimit changes the duplicate-line interval. 0 disables limiting.
func (e *Executor) SetRateLimit(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rateLimit = d
}

// Execute parses line and runs it.
//
// Parse errors wrap ErrSyntax or ErrEmpty. Device errors are returned as
// produced by the Device, so connection sentinels remain testable with
// errors.Is.
func (e *Executor) Execute(ctx context.Context, line string) (Result, error) {
	cmd, err := Parse(line)
	if err != nil {
		return Result{}, err
	}
	if err := e.throttle(cmd.String()); err != nil {
		return Result{Command: cmd}, err
	}

	e.logger.Debug("executing command", "raw", cmd.Raw, "normalized", cmd.String())

	res := Result{Command: cmd}
	switch cmd.Kind {
	case KindGet:
		v, err := e.dev.Get(ctx, cmd.Path)
		if err != nil {
			return res, err
		}
		res.Value = v

	case KindSet:
		if cmd.Skip {
			e.logger.Warn("skipping command with undefined value", "raw", cmd.Raw)
			res.Message = fmt.Sprintf("Skipped %s (undefined value)", cmd.Path)
			return res, nil
		}
		if err := e.dev.Set(ctx, cmd.Path, cmd.Value); err != nil {
			return res, err
		}
		res.Value = cmd.Value
		res.Message = fmt.Sprintf("Set %s = %v", cmd.Path, cmd.Value)

	case KindCall:
		v, err := e.dev.Call(ctx, cmd.Path, cmd.Args...)
		if err != nil {
			return res, err
		}
		res.Value = v
		if cmd.Protected() {
			res.Message = "Command executed successfully - device will reboot"
		} else {
			res.Message = "Command executed successfully"
		}
	}
	return res, nil
}

// throttle rejects a normalised line seen less than rateLimit ago.
func (e *Executor) throttle(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rateLimit <= 0 {
		return nil
	}
	now := e.now()
	if last, ok := e.last[key]; ok && now.Sub(last) < e.rateLimit {
		return ErrRateLimited
	}
	e.last[key] = now

	// Keep the map from growing without bound on long sessions.
	if len(e.last) > 1024 {
		for k, t := range e.last {
			if now.Sub(t) >= e.rateLimit {
				delete(e.last, k)
			}
		}
	}
	return nil
}

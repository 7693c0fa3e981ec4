package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/drivelink/internal/driver"
)

// Probe checks liveness with one lightweight read-only property access.
// It never mutates connection state; CheckConnection applies the result.
type Probe struct {
	property string
}

// NewProbe creates a probe reading property.
func NewProbe(property string) *Probe {
	return &Probe{property: property}
}

// Property returns the probed property path.
func (p *Probe) Property() string {
	return p.property
}

// Check reads the probe property from h. Every driver error, including a
// panic inside the driver, is returned wrapped in ErrProbeFailed.
func (p *Probe) Check(ctx context.Context, h driver.Handle) (value any, err error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}

	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("%w: driver panic: %v", ErrProbeFailed, r)
		}
	}()

	v, err := h.Get(p.property)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrProbeFailed, p.property, err)
	}
	return v, nil
}

// ProbeResult is passed to a ProbeObserver after every probe.
type ProbeResult struct {
	Identity driver.Identity
	Property string
	Value    any
	Latency  time.Duration
	Err      error
	At       time.Time
}

// OK reports whether the probe succeeded.
func (r ProbeResult) OK() bool {
	return r.Err == nil
}

// ProbeObserver receives probe results, for example to record bus voltage.
// It is called synchronously and must not block.
type ProbeObserver func(ProbeResult)

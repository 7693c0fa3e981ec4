package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/drivelink/internal/connection"
)

// Measurement names.
const (
	measurementProbe = "probe"
	measurementEvent = "connection_event"
)

// WriteProbe records one health probe: whether it succeeded, how long it
// took and, for numeric probe properties such as vbus_voltage, the value.
func (c *Client) WriteProbe(r connection.ProbeResult) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(probePoint(r))
}

// WriteConnectionEvent records one connection transition.
func (c *Client) WriteConnectionEvent(e connection.Event) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(eventPoint(e))
}

// HandleEvent implements connection.Sink.
func (c *Client) HandleEvent(e connection.Event) {
	c.WriteConnectionEvent(e)
}

// ObserveProbe is a connection.ProbeObserver.
func (c *Client) ObserveProbe(r connection.ProbeResult) {
	c.WriteProbe(r)
}

func probePoint(r connection.ProbeResult) *write.Point {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := map[string]any{
		"ok":         r.OK(),
		"latency_ms": float64(r.Latency) / float64(time.Millisecond),
	}
	if v, ok := numeric(r.Value); ok && r.OK() {
		fields["value"] = v
	}

	return write.NewPoint(measurementProbe,
		map[string]string{
			"device_serial": r.Identity.String(),
			"property":      r.Property,
		},
		fields,
		at,
	)
}

func eventPoint(e connection.Event) *write.Point {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := map[string]any{
		"seq":                   int64(e.Seq), //nolint:gosec // sequence numbers stay far below MaxInt64
		"attempt":               e.Attempt,
		"connected":             e.Status.Connected,
		"is_rebooting":          e.Status.IsRebooting,
		"reconnection_attempts": e.Status.ReconnectAttempts,
	}
	if e.Detail != "" {
		fields["detail"] = e.Detail
	}

	return write.NewPoint(measurementEvent,
		map[string]string{
			"kind":          string(e.Kind),
			"device_serial": e.Identity.String(),
		},
		fields,
		at,
	)
}

// numeric converts the numeric values a driver can return to float64.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

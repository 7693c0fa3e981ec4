package mqtt

import (
	"encoding/json"

	"github.com/nerrad567/drivelink/internal/connection"
)

// Publisher is the publish side of Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EventPublisher mirrors connection transitions onto the broker.
//
// Each event is published to Topics.ConnectionEvents and the snapshot it
// carries replaces the retained message on Topics.ConnectionStatus.
// It implements connection.Sink.
type EventPublisher struct {
	pub    Publisher
	qos    byte
	logger Logger
}

// NewEventPublisher creates an EventPublisher. logger may be nil.
func NewEventPublisher(pub Publisher, qos byte, logger Logger) *EventPublisher {
	return &EventPublisher{pub: pub, qos: qos, logger: logger}
}

// HandleEvent publishes e. Failures are logged; a broker outage must not
// stall event delivery to the other sinks.
func (p *EventPublisher) HandleEvent(e connection.Event) {
	topics := Topics{}

	status, err := json.Marshal(e.Status)
	if err != nil {
		p.logError("failed to encode connection status", e, err)
		return
	}
	if err := p.pub.Publish(topics.ConnectionStatus(), status, p.qos, true); err != nil {
		p.logError("failed to publish connection status", e, err)
	}

	event, err := json.Marshal(e)
	if err != nil {
		p.logError("failed to encode connection event", e, err)
		return
	}
	if err := p.pub.Publish(topics.ConnectionEvents(), event, p.qos, false); err != nil {
		p.logError("failed to publish connection event", e, err)
	}
}

func (p *EventPublisher) logError(msg string, e connection.Event, err error) {
	if p.logger != nil {
		p.logger.Warn(msg, "kind", e.Kind, "seq", e.Seq, "error", err)
	}
}

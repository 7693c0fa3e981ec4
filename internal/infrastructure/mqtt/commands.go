package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/drivelink/internal/command"
)

// commandTimeout bounds one console line received over MQTT. Protected
// operations wait for the device to come back, hence the margin.
const commandTimeout = 30 * time.Second

// Executor runs console lines. *command.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, line string) (command.Result, error)
}

// Subscriber is the subscribe side of Client.
type Subscriber interface {
	Publisher
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
}

// CommandRequest is the body accepted on Topics.ConnectionCommand. A plain
// text payload is treated as the command line itself.
type CommandRequest struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
}

// CommandReply is published on Topics.ConnectionCommandResult.
type CommandReply struct {
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Command string `json:"command"`
	Result  any    `json:"result,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CommandBridge executes console lines received from the broker and
// publishes the outcome.
type CommandBridge struct {
	client Subscriber
	exec   Executor
	qos    byte
	logger Logger

	ctx context.Context //nolint:containedctx // parent for handler contexts, set by Start
}

// NewCommandBridge creates a bridge. logger may be nil.
func NewCommandBridge(client Subscriber, exec Executor, qos byte, logger Logger) *CommandBridge {
	return &CommandBridge{
		client: client,
		exec:   exec,
		qos:    qos,
		logger: logger,
		ctx:    context.Background(),
	}
}

// Start subscribes to the command topic. Commands in flight are cancelled
// when ctx is.
func (b *CommandBridge) Start(ctx context.Context) error {
	b.ctx = ctx
	if err := b.client.Subscribe(Topics{}.ConnectionCommand(), b.qos, b.handle); err != nil {
		return fmt.Errorf("subscribing to command topic: %w", err)
	}
	return nil
}

// Stop unsubscribes from the command topic.
func (b *CommandBridge) Stop() error {
	return b.client.Unsubscribe(Topics{}.ConnectionCommand())
}

func (b *CommandBridge) handle(_ string, payload []byte) error {
	req, err := decodeCommandRequest(payload)
	if err != nil {
		return b.reply(CommandReply{Error: err.Error()})
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	res, err := b.exec.Execute(ctx, req.Command)
	reply := CommandReply{ID: req.ID, Command: req.Command}
	if err != nil {
		reply.Error = err.Error()
		if b.logger != nil {
			b.logger.Info("MQTT command failed", "command", req.Command, "error", err)
		}
	} else {
		reply.Success = true
		reply.Result = res.Value
		reply.Message = res.Message
	}
	return b.reply(reply)
}

func (b *CommandBridge) reply(r CommandReply) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding command reply: %w", err)
	}
	return b.client.Publish(Topics{}.ConnectionCommandResult(), data, b.qos, false)
}

// decodeCommandRequest accepts either a JSON CommandRequest or a bare line.
func decodeCommandRequest(payload []byte) (CommandRequest, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return CommandRequest{}, fmt.Errorf("%w: empty command", ErrInvalidPayload)
	}
	if !strings.HasPrefix(text, "{") {
		return CommandRequest{Command: text}, nil
	}

	var req CommandRequest
	if err := json.Unmarshal([]byte(text), &req); err != nil {
		return CommandRequest{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(req.Command) == "" {
		return CommandRequest{}, fmt.Errorf("%w: command is required", ErrInvalidPayload)
	}
	return req, nil
}

// Package control listens for JSON commands on an MQTT topic and answers
// on <topic>/response.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	subscribeTimeout = 5 * time.Second
	publishTimeout   = 2 * time.Second
	shutdownDelay    = 500 * time.Millisecond
)

// Command is a control plane request.
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response answers a Command.
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  int64          `json:"timestamp"`
}

// Callbacks implement the commands. A nil callback answers with an error.
type Callbacks struct {
	OnGetStatus func() map[string]any
	OnShutdown  func()
}

// client is the part of mqtt.Client the handler uses.
type client interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Handler dispatches control commands.
type Handler struct {
	client    client
	topic     string
	qos       byte
	callbacks Callbacks
	commands  chan Command
	now       func() time.Time
}

// NewHandler returns a handler for topic; Start subscribes.
func NewHandler(c mqtt.Client, topic string, qos byte, callbacks Callbacks) *Handler {
	return newHandler(c, topic, qos, callbacks)
}

func newHandler(c client, topic string, qos byte, callbacks Callbacks) *Handler {
	return &Handler{
		client:    c,
		topic:     topic,
		qos:       qos,
		callbacks: callbacks,
		commands:  make(chan Command, 10),
		now:       time.Now,
	}
}

// Start subscribes and processes commands until ctx ends.
func (h *Handler) Start(ctx context.Context) error {
	slog.Info("subscribing to control plane", "topic", h.topic, "qos", h.qos)

	token := h.client.Subscribe(h.topic, h.qos, h.messageHandler)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes.
func (h *Handler) Stop() {
	token := h.client.Unsubscribe(h.topic)
	token.WaitTimeout(subscribeTimeout)
	slog.Info("control plane handler stopped")
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.handleCommand(cmd)
		}
	}
}

func (h *Handler) handleCommand(cmd Command) {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			resp.Status, resp.Error = "error", "get_status not implemented"
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.Status, resp.Error = "error", "shutdown not implemented"
			break
		}
		slog.Warn("shutdown command received via MQTT control plane")
		resp.Status = "success"
		resp.Data = map[string]any{"shutdown_initiated": true}
		h.sendResponse(resp)

		// Give the response a moment to leave before tearing down.
		time.AfterFunc(shutdownDelay, h.callbacks.OnShutdown)
		return

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command %q", cmd.Command)
	}

	h.sendResponse(resp)
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = h.now().UnixMilli()

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.topic+"/response", h.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}
	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

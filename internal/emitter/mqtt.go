package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-tracker/internal/config"
	"github.com/e7canasta/orion-tracker/modules/recognizer"
	"github.com/e7canasta/orion-tracker/modules/tracker"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("emitter: mqtt not connected")

// publisher is the part of mqtt.Client the emitter uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Message is the msgpack payload published for every annotation.
type Message struct {
	Instance   string             `msgpack:"instance"`
	Seq        uint64             `msgpack:"seq"`
	TraceID    string             `msgpack:"trace_id"`
	Mode       string             `msgpack:"mode"`
	Faces      []recognizer.Point `msgpack:"faces"`
	Blob       *recognizer.Point  `msgpack:"blob,omitempty"`
	CapturedAt int64              `msgpack:"captured_at_ms"`
}

// Encode builds the wire payload for a.
func Encode(instance string, a tracker.Annotation) ([]byte, error) {
	msg := Message{
		Instance:   instance,
		Seq:        a.Seq,
		TraceID:    a.TraceID,
		Mode:       a.Mode,
		Faces:      a.Faces,
		CapturedAt: a.CapturedAt.UnixMilli(),
	}
	if msg.Faces == nil {
		msg.Faces = []recognizer.Point{}
	}
	if !a.Blob.IsZero() {
		blob := a.Blob
		msg.Blob = &blob
	}
	return msgpack.Marshal(&msg)
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Message, error) {
	var msg Message
	err := msgpack.Unmarshal(data, &msg)
	return msg, err
}

// MQTTEmitter publishes annotations to an MQTT broker.
type MQTTEmitter struct {
	cfg      config.MQTTConfig
	instance string
	client   mqtt.Client
	pub      publisher

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// NewMQTTEmitter returns an unconnected emitter.
func NewMQTTEmitter(instance string, cfg config.MQTTConfig) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg, instance: instance}
}

// Connect dials the broker. Lost connections reconnect in the background.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	e.client = mqtt.NewClient(opts)
	e.pub = e.client

	slog.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("emitter: mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Publish sends one annotation.
func (e *MQTTEmitter) Publish(a tracker.Annotation) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	payload, err := Encode(e.instance, a)
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: encoding annotation: %w", err)
	}

	token := e.pub.Publish(e.cfg.Topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("emitter: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	slog.Debug("annotation published",
		"topic", e.cfg.Topic,
		"seq", a.Seq,
		"trace_id", a.TraceID,
		"size", len(payload),
	)
	return nil
}

// Run publishes everything received on ch until ctx ends or ch closes.
// Publish failures are logged and counted, never fatal.
func (e *MQTTEmitter) Run(ctx context.Context, ch <-chan tracker.Annotation) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-ch:
			if !ok {
				return
			}
			if err := e.Publish(a); err != nil {
				slog.Warn("annotation not published", "seq", a.Seq, "error", err)
			}
		}
	}
}

// PublishHealth publishes a msgpack-encoded health snapshot on
// <topic>/health.
func (e *MQTTEmitter) PublishHealth(v any) error {
	if !e.isConnected() {
		return ErrNotConnected
	}
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("emitter: encoding health: %w", err)
	}
	token := e.pub.Publish(e.cfg.Topic+"/health", 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("emitter: publish timeout")
	}
	return token.Error()
}

// Disconnect closes the connection.
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats contains emitter counters.
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// Stats returns a snapshot.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

// Client returns the underlying client, nil before Connect.
func (e *MQTTEmitter) Client() mqtt.Client { return e.client }

// Connected reports the last known connection state.
func (e *MQTTEmitter) Connected() bool { return e.isConnected() }

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

package emitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-tracker/internal/config"
	"github.com/e7canasta/orion-tracker/modules/recognizer"
	"github.com/e7canasta/orion-tracker/modules/tracker"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool { return !t.timeout }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

func (t *fakeToken) Error() error { return t.err }

type sent struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu    sync.Mutex
	sent  []sent
	token *fakeToken
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sent{topic: topic, qos: qos, payload: payload.([]byte)})
	if p.token != nil {
		return p.token
	}
	return &fakeToken{}
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func newTestEmitter(pub *fakePublisher) *MQTTEmitter {
	e := NewMQTTEmitter("room-12", config.MQTTConfig{Topic: "care/tracker/room-12", QoS: 1})
	e.pub = pub
	e.setConnected(true)
	return e
}

func sample() tracker.Annotation {
	return tracker.Annotation{
		Seq:        42,
		TraceID:    "3f1c",
		Faces:      []recognizer.Point{{X: 0.5, Y: 0.25}},
		Blob:       recognizer.Point{X: 0.1, Y: 0.9},
		CapturedAt: time.UnixMilli(1_700_000_000_123),
		Mode:       "overlay",
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode("room-12", sample())
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "room-12", msg.Instance)
	assert.EqualValues(t, 42, msg.Seq)
	assert.Equal(t, []recognizer.Point{{X: 0.5, Y: 0.25}}, msg.Faces)
	require.NotNil(t, msg.Blob)
	assert.Equal(t, recognizer.Point{X: 0.1, Y: 0.9}, *msg.Blob)
	assert.EqualValues(t, 1_700_000_000_123, msg.CapturedAt)
}

func TestEncode_NoBlobNoFaces(t *testing.T) {
	a := sample()
	a.Faces = nil
	a.Blob = recognizer.Point{}

	data, err := Encode("room-12", a)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, msgpack.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "blob")
	assert.Contains(t, raw, "faces")
	assert.Empty(t, raw["faces"])
}

func TestPublish(t *testing.T) {
	pub := &fakePublisher{}
	e := newTestEmitter(pub)

	require.NoError(t, e.Publish(sample()))
	require.Equal(t, 1, pub.count())
	assert.Equal(t, "care/tracker/room-12", pub.sent[0].topic)
	assert.EqualValues(t, 1, pub.sent[0].qos)

	msg, err := Decode(pub.sent[0].payload)
	require.NoError(t, err)
	assert.Equal(t, "3f1c", msg.TraceID)

	assert.Equal(t, Stats{Connected: true, Published: 1}, e.Stats())
}

func TestPublish_Failures(t *testing.T) {
	pub := &fakePublisher{}
	e := newTestEmitter(pub)

	e.setConnected(false)
	assert.ErrorIs(t, e.Publish(sample()), ErrNotConnected)
	assert.Equal(t, 0, pub.count())

	e.setConnected(true)
	pub.token = &fakeToken{err: errors.New("not authorized")}
	assert.ErrorContains(t, e.Publish(sample()), "not authorized")

	pub.token = &fakeToken{timeout: true}
	assert.ErrorContains(t, e.Publish(sample()), "timeout")

	assert.EqualValues(t, 3, e.Stats().Errors)
	assert.EqualValues(t, 0, e.Stats().Published)
}

func TestRun(t *testing.T) {
	pub := &fakePublisher{}
	e := newTestEmitter(pub)

	ch := make(chan tracker.Annotation, 4)
	for i := 0; i < 3; i++ {
		ch <- sample()
	}
	close(ch)

	done := make(chan struct{})
	go func() {
		e.Run(context.Background(), ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return when the channel closed")
	}
	assert.Equal(t, 3, pub.count())
}

func TestRun_StopsOnCancel(t *testing.T) {
	e := newTestEmitter(&fakePublisher{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.Run(ctx, make(chan tracker.Annotation))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run ignored cancellation")
	}
}

func TestPublishHealth(t *testing.T) {
	pub := &fakePublisher{}
	e := newTestEmitter(pub)

	require.NoError(t, e.PublishHealth(map[string]any{"status": "healthy"}))
	require.Equal(t, 1, pub.count())
	assert.Equal(t, "care/tracker/room-12/health", pub.sent[0].topic)

	var got map[string]any
	require.NoError(t, msgpack.Unmarshal(pub.sent[0].payload, &got))
	assert.Equal(t, "healthy", got["status"])
}

package control

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeClient struct {
	mu        sync.Mutex
	handler   mqtt.MessageHandler
	published map[string][][]byte
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = cb
	return doneToken{}
}

func (c *fakeClient) Unsubscribe(...string) mqtt.Token { return doneToken{} }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.published == nil {
		c.published = make(map[string][][]byte)
	}
	c.published[topic] = append(c.published[topic], payload.([]byte))
	return doneToken{}
}

func (c *fakeClient) responses(t *testing.T) []Response {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Response
	for _, p := range c.published["care/tracker/x/control/response"] {
		var r Response
		require.NoError(t, json.Unmarshal(p, &r))
		out = append(out, r)
	}
	return out
}

func (c *fakeClient) send(payload string) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(nil, message(payload))
}

type message []byte

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 1 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return "care/tracker/x/control" }
func (m message) MessageID() uint16 { return 1 }
func (m message) Payload() []byte   { return m }
func (m message) Ack()              {}

func start(t *testing.T, cb Callbacks) *fakeClient {
	t.Helper()
	c := &fakeClient{}
	h := newHandler(c, "care/tracker/x/control", 1, cb)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, h.Start(ctx))
	return c
}

func TestGetStatus(t *testing.T) {
	c := start(t, Callbacks{
		OnGetStatus: func() map[string]any { return map[string]any{"frames": 7} },
	})
	c.send(`{"command":"get_status"}`)

	require.Eventually(t, func() bool { return len(c.responses(t)) == 1 }, time.Second, 5*time.Millisecond)
	r := c.responses(t)[0]
	assert.Equal(t, "get_status", r.CommandAck)
	assert.Equal(t, "success", r.Status)
	assert.EqualValues(t, 7, r.Data["frames"])
	assert.NotZero(t, r.Timestamp)
}

func TestShutdown(t *testing.T) {
	called := make(chan struct{})
	c := start(t, Callbacks{OnShutdown: func() { close(called) }})
	c.send(`{"command":"shutdown"}`)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback not called")
	}
	rs := c.responses(t)
	require.Len(t, rs, 1)
	assert.Equal(t, "success", rs[0].Status)
}

func TestErrors(t *testing.T) {
	c := start(t, Callbacks{})

	c.send(`not json`)
	c.send(`{"command":"get_status"}`)
	c.send(`{"command":"pause"}`)

	require.Eventually(t, func() bool { return len(c.responses(t)) == 3 }, time.Second, 5*time.Millisecond)
	for _, r := range c.responses(t) {
		assert.Equal(t, "error", r.Status)
		assert.NotEmpty(t, r.Error)
	}
}

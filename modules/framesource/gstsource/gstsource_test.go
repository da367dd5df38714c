package gstsource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchString(t *testing.T) {
	cases := []struct {
		name   string
		url    string
		prefix string
	}{
		{"rtsp", "rtsp://cam/stream", "rtspsrc location=rtsp://cam/stream protocols=4"},
		{"v4l2", "v4l2:///dev/video0", "v4l2src device=/dev/video0"},
		{"file", "file:///tmp/in.mp4", "uridecodebin uri=file:///tmp/in.mp4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := LaunchString(Config{URL: tc.url, Width: 640, Height: 480, FPS: 15})
			require.NoError(t, err)
			assert.Contains(t, got, tc.prefix)
			assert.Contains(t, got, "format=RGBA,width=640,height=480,framerate=15/1")
			assert.Contains(t, got, "appsink name=sink")
		})
	}

	_, err := LaunchString(Config{URL: "ftp://nope", Width: 1, Height: 1, FPS: 1})
	assert.Error(t, err)

	custom := "videotestsrc ! videoconvert ! video/x-raw,format=RGBA,width=8,height=8 ! appsink name=sink"
	got, err := LaunchString(Config{Pipeline: custom})
	require.NoError(t, err)
	assert.Equal(t, custom, got)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{URL: "rtsp://cam", Width: 640, Height: 480}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30, cfg.FPS)
	assert.Equal(t, DefaultReconnectConfig(), cfg.Reconnect)
	assert.Equal(t, defaultStallTimeout, cfg.StallTimeout)

	assert.Error(t, (&Config{Width: 1, Height: 1}).Validate())
	assert.Error(t, (&Config{URL: "rtsp://cam"}).Validate())
	assert.Error(t, (&Config{Pipeline: "videotestsrc ! fakesink", Width: 1, Height: 1}).Validate())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrCategoryAuth, classifyText("401 Unauthorized"))
	assert.Equal(t, ErrCategoryCodec, classifyText("Internal data stream error: not negotiated"))
	assert.Equal(t, ErrCategoryNetwork, classifyText("Could not open resource for reading: Connection refused"))
	assert.Equal(t, ErrCategoryUnknown, classifyText("something odd"))
	assert.Equal(t, ErrCategoryUnknown, Classify(nil))
	assert.Equal(t, "codec", ErrCategoryCodec.String())
}

func TestBackoff(t *testing.T) {
	cfg := DefaultReconnectConfig()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, backoff(i+1, cfg), "attempt %d", i+1)
	}
	assert.Equal(t, cfg.MaxRetryDelay, backoff(64, cfg))
}

func TestOpenWithRetry(t *testing.T) {
	cfg := ReconnectConfig{MaxRetries: 3, RetryDelay: time.Millisecond, MaxRetryDelay: 2 * time.Millisecond}

	calls := 0
	attempts, err := openWithRetry(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	attempts, err = openWithRetry(context.Background(), cfg, func(context.Context) error {
		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = openWithRetry(ctx, cfg, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

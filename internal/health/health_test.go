package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-tracker/modules/framepool"
	"github.com/e7canasta/orion-tracker/modules/resultbus"
	"github.com/e7canasta/orion-tracker/modules/tracker"
)

func running() tracker.Stats {
	return tracker.Stats{
		Worker: tracker.WorkerStats{State: "running", Frames: 10},
		Pool:   framepool.Stats{Allocated: 3, Max: 5, Free: 1, InUse: 2},
	}
}

func get(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestLiveness(t *testing.T) {
	s := New(Sources{Pipeline: running})
	var body map[string]any
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/health", &body))
	assert.Equal(t, "alive", body["status"])
}

func TestReadiness(t *testing.T) {
	stats := running()
	mqttUp := true
	s := New(Sources{
		Pipeline: func() tracker.Stats { return stats },
		MQTT:     func() bool { return mqttUp },
	})

	var st Status
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/readiness", &st))
	assert.Equal(t, StatusHealthy, st.Status)
	require.NotNil(t, st.MQTTConnected)
	assert.True(t, *st.MQTTConnected)

	mqttUp = false
	st = Status{}
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/readiness", &st))
	assert.Equal(t, StatusDegraded, st.Status)
	assert.Contains(t, st.Reasons, "mqtt disconnected")

	mqttUp = true
	stats.Worker.Idle = true
	assert.Equal(t, StatusDegraded, s.Check().Status)

	stats.Ended = true
	stats.Worker.State = "stopped"
	stats.Worker.Error = "device lost"
	st = Status{}
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/readiness", &st))
	assert.Equal(t, StatusUnhealthy, st.Status)
	assert.Contains(t, st.Reasons, "device lost")
}

func TestReadiness_NoMQTT(t *testing.T) {
	s := New(Sources{Pipeline: running})
	st := s.Check()
	assert.Equal(t, StatusHealthy, st.Status)
	assert.Nil(t, st.MQTTConnected)
}

func TestMetrics(t *testing.T) {
	s := New(Sources{
		Pipeline: running,
		Bus: func() resultbus.Stats {
			return resultbus.Stats{TotalPublished: 4, TotalSent: 3, TotalDropped: 1}
		},
	})

	var m Metrics
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/metrics", &m))
	assert.EqualValues(t, 10, m.Tracker.Worker.Frames)
	assert.Equal(t, 2, m.Tracker.Pool.InUse)
	require.NotNil(t, m.Bus)
	assert.EqualValues(t, 4, m.Bus.TotalPublished)
	assert.InDelta(t, 0.25, m.BusDropRate, 1e-9)
}

func TestStartShutdown(t *testing.T) {
	s := New(Sources{Pipeline: running})
	addr, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

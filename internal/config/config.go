package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-tracker/modules/framepool"
)

// Config is the complete trackd configuration.
type Config struct {
	InstanceID      string           `yaml:"instance_id"`
	ShutdownTimeout time.Duration    `yaml:"shutdown_timeout"`
	Camera          CameraConfig     `yaml:"camera"`
	Pool            framepool.Config `yaml:"pool"`
	GPU             GPUConfig        `yaml:"gpu"`
	Tracker         TrackerConfig    `yaml:"tracker"`
	Display         DisplayConfig    `yaml:"display"`
	MQTT            MQTTConfig       `yaml:"mqtt"`
	Health          HealthConfig     `yaml:"health"`
}

// Camera kinds.
const (
	CameraSynthetic = "synthetic"
	CameraGStreamer = "gstreamer"
	CameraOpenCV    = "opencv"
)

// CameraConfig selects and sizes the frame source.
type CameraConfig struct {
	Kind   string  `yaml:"kind"` // synthetic, gstreamer, opencv
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	FPS    float64 `yaml:"fps"`

	// synthetic
	Limit uint64 `yaml:"limit"` // 0 = endless

	// gstreamer
	URL          string          `yaml:"url"`
	Pipeline     string          `yaml:"pipeline"`
	StallTimeout time.Duration   `yaml:"stall_timeout"`
	Reconnect    ReconnectConfig `yaml:"reconnect"`

	// opencv
	Device string `yaml:"device"`

	// Warmup measures the real source rate before the tracker starts
	// (0 disables it).
	Warmup time.Duration `yaml:"warmup"`
}

// ReconnectConfig is the GStreamer open backoff.
type ReconnectConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
}

// GPU backends.
const (
	GPUSoft = "soft"
	GPUGL   = "gl"
)

// GPUConfig selects the texture/fence backend.
type GPUConfig struct {
	Backend      string        `yaml:"backend"` // soft, gl
	FenceTimeout time.Duration `yaml:"fence_timeout"`
	SoftLatency  time.Duration `yaml:"soft_latency"` // soft backend fence latency
}

// TrackerConfig configures recognition and annotation.
type TrackerConfig struct {
	Mode         string `yaml:"mode"`  // overlay, gate
	Faces        string `yaml:"faces"` // none, cascade
	Cascade      string `yaml:"cascade"`
	Blob         string `yaml:"blob"` // none, red
	LockImage    string `yaml:"lock_image"`
	WarningImage string `yaml:"warning_image"`
}

// DisplayConfig configures the window. Disabled means headless.
type DisplayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	VSync   bool   `yaml:"vsync"`

	// ExitOnEnd closes the window when the tracker stops; otherwise the
	// last result stays on screen until the window is closed.
	ExitOnEnd bool `yaml:"exit_on_end"`
}

// MQTTConfig configures result publication.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Buffer   int    `yaml:"buffer"`
}

// HealthConfig configures the HTTP health server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns a configuration that runs a synthetic camera headless.
func Default() *Config {
	return &Config{
		InstanceID:      "trackd",
		ShutdownTimeout: 5 * time.Second,
		Camera: CameraConfig{
			Kind:   CameraSynthetic,
			Width:  640,
			Height: 480,
			FPS:    30,
			Reconnect: ReconnectConfig{
				MaxRetries:    5,
				RetryDelay:    time.Second,
				MaxRetryDelay: 30 * time.Second,
			},
			StallTimeout: 10 * time.Second,
		},
		Pool: framepool.DefaultConfig(),
		GPU: GPUConfig{
			Backend:      GPUSoft,
			FenceTimeout: 2 * time.Second,
			SoftLatency:  2 * time.Millisecond,
		},
		Tracker: TrackerConfig{
			Mode:  "overlay",
			Faces: "none",
			Blob:  "red",
		},
		Display: DisplayConfig{
			Title:  "orion tracker",
			Width:  1280,
			Height: 720,
			VSync:  true,
		},
		MQTT: MQTTConfig{
			QoS:    0,
			Buffer: 64,
		},
		Health: HealthConfig{
			Addr: ":8080",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

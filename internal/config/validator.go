package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks cfg and fills derived defaults.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be > 0")
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := cfg.Pool.Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}

	switch cfg.GPU.Backend {
	case GPUSoft:
		if cfg.GPU.SoftLatency <= 0 {
			return fmt.Errorf("gpu.soft_latency must be > 0")
		}
	case GPUGL:
		if !cfg.Display.Enabled {
			return fmt.Errorf("gpu.backend %q needs display.enabled", GPUGL)
		}
	default:
		return fmt.Errorf("gpu.backend must be %q or %q, got %q", GPUSoft, GPUGL, cfg.GPU.Backend)
	}
	if cfg.GPU.FenceTimeout <= 0 {
		return fmt.Errorf("gpu.fence_timeout must be > 0")
	}

	switch cfg.Tracker.Mode {
	case "", "overlay", "gate":
	default:
		return fmt.Errorf("tracker.mode must be overlay or gate, got %q", cfg.Tracker.Mode)
	}
	switch cfg.Tracker.Faces {
	case "", "none":
	case "cascade":
		if cfg.Tracker.Cascade == "" {
			return fmt.Errorf("tracker.cascade is required when tracker.faces is cascade")
		}
	default:
		return fmt.Errorf("tracker.faces must be none or cascade, got %q", cfg.Tracker.Faces)
	}
	switch cfg.Tracker.Blob {
	case "", "none", "red":
	default:
		return fmt.Errorf("tracker.blob must be none or red, got %q", cfg.Tracker.Blob)
	}

	if cfg.Display.Enabled && (cfg.Display.Width <= 0 || cfg.Display.Height <= 0) {
		return fmt.Errorf("display size must be > 0")
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = cfg.InstanceID
		}
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = fmt.Sprintf("care/tracker/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Buffer <= 0 {
			cfg.MQTT.Buffer = 64
		}
	}

	if cfg.Health.Enabled && cfg.Health.Addr == "" {
		return fmt.Errorf("health.addr is required")
	}
	return nil
}

func validateCamera(c *CameraConfig) error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("size must be > 0, got %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("fps must be > 0")
	}

	switch c.Kind {
	case CameraSynthetic:
	case CameraGStreamer:
		if c.URL == "" && c.Pipeline == "" {
			return fmt.Errorf("url or pipeline is required for %s", c.Kind)
		}
	case CameraOpenCV:
		if c.Device == "" {
			c.Device = "0"
		}
	default:
		return fmt.Errorf("kind must be one of %s, %s, %s; got %q",
			CameraSynthetic, CameraGStreamer, CameraOpenCV, c.Kind)
	}
	return nil
}

package framesource

import (
	"sync"
	"time"
)

// DefaultMeterInterval is the FPS averaging window.
const DefaultMeterInterval = time.Second

// Meter measures frames per second over a fixed interval. Call Update once
// per frame from the loop being measured; FPS may be read from anywhere.
type Meter struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time
	last     time.Time
	frames   int
	fps      float64
	updated  bool
}

// NewMeter returns a meter with the given interval (DefaultMeterInterval
// if <= 0).
func NewMeter(interval time.Duration) *Meter {
	return newMeter(interval, time.Now)
}

func newMeter(interval time.Duration, now func() time.Time) *Meter {
	if interval <= 0 {
		interval = DefaultMeterInterval
	}
	return &Meter{interval: interval, now: now, last: now()}
}

// Update counts one frame and recomputes FPS when the interval elapsed.
// It reports whether a new value is available.
func (m *Meter) Update() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.frames++
	now := m.now()
	delta := now.Sub(m.last)
	if delta > m.interval {
		m.fps = float64(m.frames) / delta.Seconds()
		m.frames = 0
		m.last = now
		m.updated = true
	} else {
		m.updated = false
	}
	return m.updated
}

// FPS returns the last computed value.
func (m *Meter) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

// Updated reports whether the last Update produced a new value.
func (m *Meter) Updated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updated
}

// Reset restarts counting from now.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = m.now()
	m.frames = 0
	m.updated = false
}

// SetInterval changes the averaging window.
func (m *Meter) SetInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.interval = d
	}
}

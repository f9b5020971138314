package streamcapture

import (
	"sync"
	"time"

	"bisonguard-worker-go/internal/timeutil"
)

// FPSMeter counts frames over fixed wall-clock windows. The reported rate is
// that of the last completed window.
type FPSMeter struct {
	mu          sync.Mutex
	clock       timeutil.Clock
	window      time.Duration
	windowStart time.Time
	count       int
	fps         float64
}

// NewFPSMeter creates a meter. A non-positive window defaults to one second.
func NewFPSMeter(clock timeutil.Clock, window time.Duration) *FPSMeter {
	if window <= 0 {
		window = time.Second
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FPSMeter{clock: clock, window: window, windowStart: clock.Now()}
}

// Tick records one frame and returns the current rate.
func (m *FPSMeter) Tick() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.count++
	now := m.clock.Now()
	elapsed := now.Sub(m.windowStart)
	if elapsed >= m.window {
		m.fps = float64(m.count) / elapsed.Seconds()
		m.count = 0
		m.windowStart = now
	}
	return m.fps
}

// FPS returns the rate of the last completed window.
func (m *FPSMeter) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

// Reset clears the meter, used after a reconnect.
func (m *FPSMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count = 0
	m.fps = 0
	m.windowStart = m.clock.Now()
}

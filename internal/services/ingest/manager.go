package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bisonguard-worker-go/internal/config"
	"bisonguard-worker-go/internal/logging"
	"bisonguard-worker-go/internal/models"
	"bisonguard-worker-go/internal/services/transcode"
)

// ErrNoCameras is returned when the configuration names no camera.
var ErrNoCameras = errors.New("no cameras configured")

// Manager owns one Ingestor per configured camera. Cameras share no mutable
// state; a failing camera never affects another.
type Manager struct {
	cfg    *config.Config
	logger zerolog.Logger

	cameras map[string]*Ingestor
	mutex   sync.RWMutex

	// lifecycleMu serializes watchdog restarts with Shutdown.
	lifecycleMu  sync.Mutex
	stopChannel  chan struct{}
	watchdogOnce sync.Once
	stopOnce     sync.Once
}

// NewManager creates an ingestor per camera in cfg.Cameras. Nothing runs
// until StartAll.
func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	if len(cfg.Cameras) == 0 {
		return nil, ErrNoCameras
	}

	m := &Manager{
		cfg:         cfg,
		logger:      logging.NewServiceLogger(cfg, "ingest-manager"),
		cameras:     make(map[string]*Ingestor, len(cfg.Cameras)),
		stopChannel: make(chan struct{}),
	}
	for _, source := range cfg.Cameras {
		if _, exists := m.cameras[source.ID]; exists {
			return nil, fmt.Errorf("duplicate camera id %q", source.ID)
		}
		m.cameras[source.ID] = NewIngestor(cfg, source, deps)
	}
	return m, nil
}

// StartAll starts every camera and the stale-frame watchdog.
func (m *Manager) StartAll() error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var errs []error
	for id, ing := range m.cameras {
		if err := ing.Start(); err != nil {
			errs = append(errs, fmt.Errorf("failed to start camera %s: %w", id, err))
		}
	}

	if m.cfg.HealthCheckInterval > 0 {
		m.watchdogOnce.Do(func() {
			go m.runWatchdog()
			m.logger.Info().Dur("interval", m.cfg.HealthCheckInterval).Msg("Watchdog started")
		})
	}

	m.logger.Info().Int("cameras", len(m.cameras)).Msg("Ingest started")
	return errors.Join(errs...)
}

// Shutdown stops the watchdog and every camera concurrently. It returns
// ctx.Err() if the cameras did not all stop before ctx expired.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopChannel) })

	m.mutex.RLock()
	ingestors := make([]*Ingestor, 0, len(m.cameras))
	for _, ing := range m.cameras {
		ingestors = append(ingestors, ing)
	}
	m.mutex.RUnlock()

	m.logger.Info().Int("cameras", len(ingestors)).Msg("Shutting down ingest")

	done := make(chan struct{})
	go func() {
		defer close(done)

		// Waits for an in-flight watchdog restart to settle.
		m.lifecycleMu.Lock()
		defer m.lifecycleMu.Unlock()

		var wg sync.WaitGroup
		for _, ing := range ingestors {
			wg.Add(1)
			go func(ing *Ingestor) {
				defer wg.Done()
				if ing.getState() == StateRunning {
					if err := ing.Stop(); err != nil {
						m.logger.Error().Err(err).Str("camera_id", ing.ID()).Msg("Failed to stop camera during shutdown")
					}
				}
				ing.waitStopped(ctx)
			}(ing)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the ingestor for a camera.
func (m *Manager) Get(cameraID string) (*Ingestor, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	ing, ok := m.cameras[cameraID]
	return ing, ok
}

// Has reports whether the camera is configured.
func (m *Manager) Has(cameraID string) bool {
	_, ok := m.Get(cameraID)
	return ok
}

// IDs returns the camera ids in sorted order.
func (m *Manager) IDs() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	ids := make([]string, 0, len(m.cameras))
	for id := range m.cameras {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status returns the status of every camera keyed by id.
func (m *Manager) Status() map[string]models.CameraStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[string]models.CameraStatus, len(m.cameras))
	for id, ing := range m.cameras {
		out[id] = ing.Status()
	}
	return out
}

// GetStats returns the number of running cameras and the total.
func (m *Manager) GetStats() (int, int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	active := 0
	for _, ing := range m.cameras {
		if ing.getState() == StateRunning {
			active++
		}
	}
	return active, len(m.cameras)
}

// LatestFrame returns a copy of the camera's latest annotated frame, or of
// the raw frame when raw is set. ok is false for unknown cameras or before
// the first frame.
func (m *Manager) LatestFrame(cameraID string, raw bool) (*models.Frame, bool) {
	ing, exists := m.Get(cameraID)
	if !exists {
		return nil, false
	}
	var frame *models.Frame
	if raw {
		frame = ing.LatestRawFrame()
	} else {
		frame = ing.LatestFrame()
	}
	return frame, frame != nil
}

// Pipeline returns the camera's transcode pipeline. exists is false for
// unknown cameras; the pipeline is nil when republishing is off.
func (m *Manager) Pipeline(cameraID string) (pipeline *transcode.Pipeline, exists bool) {
	ing, exists := m.Get(cameraID)
	if !exists {
		return nil, false
	}
	return ing.Pipeline(), true
}

func (m *Manager) runWatchdog() {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChannel:
			return
		case <-ticker.C:
			m.checkCameraHealth(time.Now())
		}
	}
}

// checkCameraHealth restarts running cameras whose last frame is older than
// FrameStaleThreshold. Cameras that never produced a frame are left to the
// reconnect loop.
func (m *Manager) checkCameraHealth(now time.Time) {
	m.mutex.RLock()
	var stale []*Ingestor
	for _, ing := range m.cameras {
		last := ing.lastFrameTime()
		if ing.getState() != StateRunning || last.IsZero() {
			continue
		}
		if since := now.Sub(last); since > m.cfg.FrameStaleThreshold {
			m.logger.Warn().
				Str("camera_id", ing.ID()).
				Dur("time_since_last_frame", since).
				Msg("Camera appears to be stale - attempting restart")
			stale = append(stale, ing)
		}
	}
	m.mutex.RUnlock()

	for _, ing := range stale {
		if m.shuttingDown() {
			return
		}
		if err := m.restart(ing); err != nil {
			m.logger.Error().Err(err).Str("camera_id", ing.ID()).Msg("Failed to restart stale camera")
		}
	}
}

// restart stops and starts a camera unless Shutdown began in between.
func (m *Manager) restart(ing *Ingestor) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.shuttingDown() {
		return nil
	}
	if ing.getState() == StateRunning {
		if err := ing.Stop(); err != nil {
			return err
		}
	}
	if m.shuttingDown() {
		m.logger.Info().Str("camera_id", ing.ID()).Msg("Shutdown in progress, camera left stopped")
		return nil
	}
	return ing.Start()
}

func (m *Manager) shuttingDown() bool {
	select {
	case <-m.stopChannel:
		return true
	default:
		return false
	}
}

package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"bisonguard-worker-go/internal/config"
	"bisonguard-worker-go/internal/db"
	"bisonguard-worker-go/internal/logging"
	"bisonguard-worker-go/internal/metrics"
	"bisonguard-worker-go/internal/models"
	"bisonguard-worker-go/internal/timeutil"
)

var (
	ErrUnknownThreshold = errors.New("unknown threshold type")
	ErrInvalidThreshold = errors.New("invalid threshold value")
)

// Store is the history persistence the aggregator writes to and queries.
type Store interface {
	InsertDetections(ctx context.Context, records []models.DetectionRecord) error
	InsertAlert(ctx context.Context, alert models.AlertEvent) error
	HourlyRollups(ctx context.Context, since time.Time) ([]db.HourlyRollup, error)
	RecentAlerts(ctx context.Context, since time.Time, limit int) ([]db.StoredAlert, error)
	DetectionBoxesSince(ctx context.Context, since time.Time) ([]db.BoxRow, error)
}

// Thresholds are the alert rule parameters. They can change at runtime.
type Thresholds struct {
	HighActivity  int     `json:"high_activity"`
	LowConfidence float64 `json:"low_confidence"`
	RapidMovement float64 `json:"rapid_movement"`
	Moving        float64 `json:"moving"`
}

// MovementStats are derived from the current speed of every track with at
// least one speed sample.
type MovementStats struct {
	AvgSpeed     float64 `json:"avg_speed"`
	MaxSpeed     float64 `json:"max_speed"`
	MovingTracks int     `json:"moving_tracks"`
}

// Statistics is a point-in-time snapshot of the running counters.
type Statistics struct {
	TotalDetections int64         `json:"total_detections"`
	CurrentCount    int           `json:"current_count"`
	UniqueTracks    int           `json:"unique_tracks"`
	ActiveTracks    int           `json:"active_tracks"`
	PeakCount       int           `json:"peak_count"`
	PeakTime        *time.Time    `json:"peak_time"`
	AvgConfidence   float64       `json:"avg_confidence"`
	CamerasActive   int           `json:"cameras_active"`
	TotalAlerts     int64         `json:"total_alerts"`
	Movement        MovementStats `json:"movement"`
	Timestamp       time.Time     `json:"timestamp"`
}

// TrackPath is the recorded position history of one track.
type TrackPath struct {
	CameraID string       `json:"camera_id"`
	TrackID  int64        `json:"track_id"`
	Points   []TrackPoint `json:"points"`
}

type cameraBatch struct {
	count       int
	frameNumber int64
	at          time.Time
}

// Aggregator owns all live analytics state behind one lock. Persistence and
// sink notification happen after the lock is released.
type Aggregator struct {
	store   Store
	metrics *metrics.Metrics
	clock   timeutil.Clock
	logger  zerolog.Logger

	historySize    int
	staleAfter     time.Duration
	persistTimeout time.Duration
	rebuildWindow  time.Duration

	mu              sync.Mutex
	thresholds      Thresholds
	totalDetections int64
	totalAlerts     int64
	peakCount       int
	peakTime        time.Time
	avgConfidence   float64
	confidence      *ring[float64]
	tracks          map[trackKey]*track
	trackOrder      []trackKey
	uniqueTracks    map[trackKey]struct{}
	heatmaps        map[string]*Grid
	latest          map[string]cameraBatch

	sinksMu        sync.RWMutex
	alertSinks     []models.AlertSink
	detectionSinks []models.DetectionSink
}

// NewAggregator creates an aggregator. store may be nil, in which case nothing
// is persisted and history queries return empty results.
func NewAggregator(cfg *config.Config, store Store, m *metrics.Metrics, clock timeutil.Clock) *Aggregator {
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	historySize := cfg.TrackHistorySize
	if historySize <= 0 {
		historySize = 1000
	}
	window := cfg.ConfidenceWindow
	if window <= 0 {
		window = 1000
	}
	rebuildWindow := cfg.HeatmapRebuildWindow
	if rebuildWindow <= 0 {
		rebuildWindow = 24 * time.Hour
	}

	return &Aggregator{
		store:          store,
		metrics:        m,
		clock:          clock,
		logger:         logging.NewServiceLogger(cfg, "analytics"),
		historySize:    historySize,
		staleAfter:     cfg.TrackStaleAfter,
		persistTimeout: cfg.PersistTimeout,
		rebuildWindow:  rebuildWindow,
		thresholds: Thresholds{
			HighActivity:  cfg.AlertHighActivity,
			LowConfidence: cfg.AlertLowConfidence,
			RapidMovement: cfg.AlertRapidMovement,
			Moving:        cfg.MovingSpeedThreshold,
		},
		confidence:   newRing[float64](window),
		tracks:       make(map[trackKey]*track),
		uniqueTracks: make(map[trackKey]struct{}),
		heatmaps:     make(map[string]*Grid),
		latest:       make(map[string]cameraBatch),
	}
}

// AddAlertSink registers a receiver for every raised alert.
func (a *Aggregator) AddAlertSink(sink models.AlertSink) {
	a.sinksMu.Lock()
	defer a.sinksMu.Unlock()
	a.alertSinks = append(a.alertSinks, sink)
}

// AddDetectionSink registers a receiver for non-empty detection batches.
func (a *Aggregator) AddDetectionSink(sink models.DetectionSink) {
	a.sinksMu.Lock()
	defer a.sinksMu.Unlock()
	a.detectionSinks = append(a.detectionSinks, sink)
}

// Record applies one frame's detections for a camera. It never fails: history
// writes are bounded by the persist timeout and their errors are only logged.
func (a *Aggregator) Record(cameraID string, dets []models.Detection, frameNumber int64) models.RecordResult {
	now := a.clock.Now()

	a.mu.Lock()
	a.latest[cameraID] = cameraBatch{count: len(dets), frameNumber: frameNumber, at: now}
	a.totalDetections += int64(len(dets))

	var updated []*track
	seen := make(map[trackKey]bool)
	for _, d := range dets {
		a.confidence.Push(d.Confidence)
		if !d.HasTrack() {
			continue
		}

		key := trackKey{cameraID: cameraID, trackID: *d.TrackID}
		t, ok := a.tracks[key]
		if !ok {
			t = newTrack(key, a.historySize, now)
			a.tracks[key] = t
			a.trackOrder = append(a.trackOrder, key)
			a.uniqueTracks[key] = struct{}{}
		}

		cx, cy := d.BBox.Center()
		if t.observe(cx, cy, now) && !seen[key] {
			seen[key] = true
			updated = append(updated, t)
		}
		a.heatmapFor(cameraID).Add(cx, cy)
	}

	alerts := a.evaluateRules(cameraID, dets, updated, now)

	if len(dets) > a.peakCount {
		a.peakCount = len(dets)
		a.peakTime = now
	}
	if n := a.confidence.Len(); n > 0 {
		a.avgConfidence = stat.Mean(a.confidence.Raw(), nil)
	}
	a.totalAlerts += int64(len(alerts))
	activeTracks := len(a.tracks)
	a.mu.Unlock()

	a.metrics.Detections.Add(uint64(len(dets)))
	a.metrics.Alerts.Add(uint64(len(alerts)))
	a.metrics.ActiveTracks.Store(int64(activeTracks))

	a.persist(cameraID, dets, frameNumber, alerts, now)
	a.notify(cameraID, len(dets), frameNumber, alerts, now)

	if alerts == nil {
		alerts = []models.AlertEvent{}
	}
	return models.RecordResult{Count: len(dets), Alerts: alerts, Timestamp: now}
}

func (a *Aggregator) heatmapFor(cameraID string) *Grid {
	g, ok := a.heatmaps[cameraID]
	if !ok {
		g = &Grid{}
		a.heatmaps[cameraID] = g
	}
	return g
}

// evaluateRules runs the independent alert rules. Caller holds a.mu.
//
// Rapid movement is checked only for the tracks updated by this call rather
// than every known track: a track that stopped reporting keeps its last speed
// and would otherwise raise the same alert on every frame of every camera.
func (a *Aggregator) evaluateRules(cameraID string, dets []models.Detection, updated []*track, now time.Time) []models.AlertEvent {
	var alerts []models.AlertEvent
	th := a.thresholds

	if len(dets) > th.HighActivity {
		alerts = append(alerts, a.newAlert(models.AlertTypeHighActivity, models.AlertSeverityWarning, cameraID,
			fmt.Sprintf("High bison activity: %d detected", len(dets)),
			map[string]interface{}{"count": len(dets)}, now))
	}

	if len(dets) > 0 {
		confs := make([]float64, len(dets))
		for i, d := range dets {
			confs[i] = d.Confidence
		}
		if avg := stat.Mean(confs, nil); avg < th.LowConfidence {
			alerts = append(alerts, a.newAlert(models.AlertTypeLowConfidence, models.AlertSeverityInfo, cameraID,
				fmt.Sprintf("Low detection confidence: %.2f", avg),
				map[string]interface{}{"confidence": avg}, now))
		}
	}

	for _, t := range updated {
		if speed := t.movement.CurrentSpeed; speed > th.RapidMovement {
			alerts = append(alerts, a.newAlert(models.AlertTypeRapidMovement, models.AlertSeverityWarning, cameraID,
				fmt.Sprintf("Rapid movement detected for track %d", t.key.trackID),
				map[string]interface{}{"track_id": t.key.trackID, "speed": speed}, now))
		}
	}
	return alerts
}

func (a *Aggregator) newAlert(kind models.AlertType, severity models.AlertSeverity, cameraID, message string, data map[string]interface{}, now time.Time) models.AlertEvent {
	return models.AlertEvent{
		ID:        uuid.NewString(),
		Type:      kind,
		Severity:  severity,
		CameraID:  cameraID,
		Message:   message,
		Data:      data,
		Timestamp: now,
	}
}

func (a *Aggregator) persist(cameraID string, dets []models.Detection, frameNumber int64, alerts []models.AlertEvent, now time.Time) {
	if a.store == nil || (len(dets) == 0 && len(alerts) == 0) {
		return
	}

	ctx := context.Background()
	if a.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.persistTimeout)
		defer cancel()
	}

	if len(dets) > 0 {
		records := make([]models.DetectionRecord, len(dets))
		for i, d := range dets {
			records[i] = models.DetectionRecord{
				Timestamp:   now,
				CameraID:    cameraID,
				TrackID:     d.TrackID,
				Confidence:  d.Confidence,
				BBox:        d.BBox,
				FrameNumber: frameNumber,
			}
		}
		if err := a.store.InsertDetections(ctx, records); err != nil {
			a.metrics.PersistenceErrors.Add(1)
			a.logger.Warn().Err(err).Str("camera_id", cameraID).Int("count", len(records)).Msg("Failed to persist detections")
		}
	}

	for _, alert := range alerts {
		if err := a.store.InsertAlert(ctx, alert); err != nil {
			a.metrics.PersistenceErrors.Add(1)
			a.logger.Warn().Err(err).Str("camera_id", cameraID).Str("alert_type", string(alert.Type)).Msg("Failed to persist alert")
		}
	}
}

func (a *Aggregator) notify(cameraID string, count int, frameNumber int64, alerts []models.AlertEvent, now time.Time) {
	a.sinksMu.RLock()
	defer a.sinksMu.RUnlock()

	for _, alert := range alerts {
		for _, sink := range a.alertSinks {
			sink.PublishAlert(alert)
		}
	}
	if count > 0 {
		event := models.DetectionEvent{CameraID: cameraID, Count: count, FrameNumber: frameNumber, Timestamp: now}
		for _, sink := range a.detectionSinks {
			sink.PublishDetections(event)
		}
	}
}

// Statistics returns a snapshot of the running counters.
func (a *Aggregator) Statistics() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Statistics{
		TotalDetections: a.totalDetections,
		UniqueTracks:    len(a.uniqueTracks),
		ActiveTracks:    len(a.tracks),
		PeakCount:       a.peakCount,
		AvgConfidence:   a.avgConfidence,
		TotalAlerts:     a.totalAlerts,
		Timestamp:       a.clock.Now(),
	}
	if !a.peakTime.IsZero() {
		pt := a.peakTime
		s.PeakTime = &pt
	}
	for _, b := range a.latest {
		s.CurrentCount += b.count
		if b.count > 0 {
			s.CamerasActive++
		}
	}

	var speeds []float64
	for _, t := range a.tracks {
		if t.movement.Samples > 0 {
			speeds = append(speeds, t.movement.CurrentSpeed)
		}
	}
	if len(speeds) > 0 {
		s.Movement.AvgSpeed = stat.Mean(speeds, nil)
		s.Movement.MaxSpeed = floats.Max(speeds)
		for _, v := range speeds {
			if v > a.thresholds.Moving {
				s.Movement.MovingTracks++
			}
		}
	}
	return s
}

// Heatmap returns the display heatmap for a camera; unknown cameras are empty.
func (a *Aggregator) Heatmap(cameraID string) HeatmapData {
	a.mu.Lock()
	defer a.mu.Unlock()

	g, ok := a.heatmaps[cameraID]
	if !ok {
		return HeatmapData{Data: []HeatmapPoint{}}
	}
	return g.Snapshot()
}

// HeatmapTotal returns how many points the camera's grid holds.
func (a *Aggregator) HeatmapTotal(cameraID string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if g, ok := a.heatmaps[cameraID]; ok {
		return g.Total()
	}
	return 0
}

// TrackingPaths returns the histories of the limit most recently created
// tracks, oldest first.
func (a *Aggregator) TrackingPaths(limit int) []TrackPath {
	if limit <= 0 {
		limit = 10
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	keys := a.trackOrder
	if len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}

	paths := make([]TrackPath, 0, len(keys))
	for _, key := range keys {
		t := a.tracks[key]
		if t == nil || t.history.Len() == 0 {
			continue
		}
		paths = append(paths, TrackPath{
			CameraID: key.cameraID,
			TrackID:  key.trackID,
			Points:   t.history.Values(),
		})
	}
	return paths
}

// TrackMovement returns the movement metrics of one track.
func (a *Aggregator) TrackMovement(cameraID string, trackID int64) (Movement, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.tracks[trackKey{cameraID: cameraID, trackID: trackID}]
	if !ok {
		return Movement{}, false
	}
	return t.movement, true
}

// Thresholds returns the current alert thresholds.
func (a *Aggregator) Thresholds() Thresholds {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.thresholds
}

// SetThreshold updates one rule threshold by name and returns the new set.
func (a *Aggregator) SetThreshold(kind string, value float64) (Thresholds, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return a.Thresholds(), fmt.Errorf("%w: %v", ErrInvalidThreshold, value)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch kind {
	case string(models.AlertTypeHighActivity):
		if value != math.Trunc(value) || value > math.MaxInt32 {
			return a.thresholds, fmt.Errorf("%w: detection count must be a whole number, got %v", ErrInvalidThreshold, value)
		}
		a.thresholds.HighActivity = int(value)
	case string(models.AlertTypeLowConfidence):
		if value > 1 {
			return a.thresholds, fmt.Errorf("%w: confidence must be within [0,1], got %v", ErrInvalidThreshold, value)
		}
		a.thresholds.LowConfidence = value
	case string(models.AlertTypeRapidMovement):
		a.thresholds.RapidMovement = value
	case "moving":
		a.thresholds.Moving = value
	default:
		return a.thresholds, fmt.Errorf("%w: %q", ErrUnknownThreshold, kind)
	}

	a.logger.Info().Str("type", kind).Float64("value", value).Msg("Alert threshold updated")
	return a.thresholds, nil
}

// CurrentDetections returns the latest non-empty batch per camera.
func (a *Aggregator) CurrentDetections() []models.DetectionEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	events := make([]models.DetectionEvent, 0, len(a.latest))
	for cameraID, b := range a.latest {
		if b.count == 0 {
			continue
		}
		events = append(events, models.DetectionEvent{
			CameraID:    cameraID,
			Count:       b.count,
			FrameNumber: b.frameNumber,
			Timestamp:   b.at,
		})
	}
	return events
}

// EvictStaleTracks drops tracks not observed within the stale window. The
// unique track count keeps evicted tracks. Returns the number removed.
func (a *Aggregator) EvictStaleTracks() int {
	if a.staleAfter <= 0 {
		return 0
	}

	a.mu.Lock()
	now := a.clock.Now()
	removed := 0
	kept := a.trackOrder[:0]
	for _, key := range a.trackOrder {
		t := a.tracks[key]
		if t != nil && now.Sub(t.lastSeen) > a.staleAfter {
			delete(a.tracks, key)
			removed++
			continue
		}
		kept = append(kept, key)
	}
	a.trackOrder = kept
	active := len(a.tracks)
	a.mu.Unlock()

	a.metrics.ActiveTracks.Store(int64(active))
	if removed > 0 {
		a.logger.Debug().Int("removed", removed).Int("active", active).Msg("Evicted stale tracks")
	}
	return removed
}

// RunEviction evicts stale tracks every interval until ctx is done. It returns
// immediately when eviction is disabled.
func (a *Aggregator) RunEviction(ctx context.Context, interval time.Duration) {
	if a.staleAfter <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.EvictStaleTracks()
		}
	}
}

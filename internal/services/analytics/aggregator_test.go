package analytics

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bisonguard-worker-go/internal/config"
	"bisonguard-worker-go/internal/db"
	"bisonguard-worker-go/internal/metrics"
	"bisonguard-worker-go/internal/models"
	"bisonguard-worker-go/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		WorkerID:             "test",
		AlertHighActivity:    10,
		AlertLowConfidence:   0.3,
		AlertRapidMovement:   50,
		MovingSpeedThreshold: 5,
		TrackHistorySize:     1000,
		ConfidenceWindow:     1000,
		PersistTimeout:       time.Second,
		HeatmapRebuildWindow: 24 * time.Hour,
	}
}

func det(trackID int64, conf float64, x1, y1, x2, y2 float64) models.Detection {
	d := models.Detection{Confidence: conf, BBox: models.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}}
	if trackID >= 0 {
		d.TrackID = models.TrackID(trackID)
	}
	return d
}

func boxAt(trackID int64, cx, cy float64) models.Detection {
	return det(trackID, 0.9, cx-10, cy-10, cx+10, cy+10)
}

func newTestAggregator(t *testing.T, cfg *config.Config, store Store) (*Aggregator, *timeutil.MockClock, *metrics.Metrics) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	m := metrics.New()
	return NewAggregator(cfg, store, m, clock), clock, m
}

func openStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHighActivityAlert(t *testing.T) {
	a, _, _ := newTestAggregator(t, testConfig(), nil)

	dets := make([]models.Detection, 12)
	for i := range dets {
		dets[i] = boxAt(int64(i), float64(100+i*50), 200)
	}

	res := a.Record("cam1", dets, 1)
	assert.Equal(t, 12, res.Count)
	require.Len(t, res.Alerts, 1)

	alert := res.Alerts[0]
	assert.Equal(t, models.AlertTypeHighActivity, alert.Type)
	assert.Equal(t, models.AlertSeverityWarning, alert.Severity)
	assert.Equal(t, 12, alert.Data["count"])
	assert.Equal(t, "High bison activity: 12 detected", alert.Message)
	assert.Equal(t, "cam1", alert.CameraID)
	assert.NotEmpty(t, alert.ID)
}

func TestLowConfidenceAlert(t *testing.T) {
	a, _, _ := newTestAggregator(t, testConfig(), nil)

	res := a.Record("cam1", []models.Detection{
		det(-1, 0.2, 0, 0, 10, 10),
		det(-1, 0.3, 0, 0, 10, 10),
	}, 1)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, models.AlertTypeLowConfidence, res.Alerts[0].Type)
	assert.Equal(t, models.AlertSeverityInfo, res.Alerts[0].Severity)
	assert.Equal(t, "Low detection confidence: 0.25", res.Alerts[0].Message)
	assert.InDelta(t, 0.25, res.Alerts[0].Data["confidence"], 1e-9)

	res = a.Record("cam1", nil, 2)
	assert.Empty(t, res.Alerts)
	assert.NotNil(t, res.Alerts)
}

func TestZeroElapsedTimeSkipsSpeed(t *testing.T) {
	a, _, _ := newTestAggregator(t, testConfig(), nil)

	a.Record("cam1", []models.Detection{boxAt(1, 100, 100)}, 1)
	res := a.Record("cam1", []models.Detection{boxAt(1, 100, 100)}, 2)
	assert.Empty(t, res.Alerts)

	m, ok := a.TrackMovement("cam1", 1)
	require.True(t, ok)
	assert.Equal(t, 0, m.Samples)
	assert.False(t, math.IsNaN(m.CurrentSpeed))
	assert.False(t, math.IsInf(m.CurrentSpeed, 0))

	// Same track twice in one frame.
	res = a.Record("cam1", []models.Detection{boxAt(1, 500, 500), boxAt(1, 900, 900)}, 3)
	assert.Empty(t, res.Alerts)

	stats := a.Statistics()
	assert.Equal(t, 0.0, stats.Movement.MaxSpeed)
}

func TestRapidMovementAlertAndMovement(t *testing.T) {
	a, clock, _ := newTestAggregator(t, testConfig(), nil)

	a.Record("cam1", []models.Detection{boxAt(1, 100, 100), boxAt(2, 500, 500)}, 1)
	clock.Advance(time.Second)
	res := a.Record("cam1", []models.Detection{boxAt(1, 300, 100), boxAt(2, 503, 504)}, 2)

	require.Len(t, res.Alerts, 1)
	alert := res.Alerts[0]
	assert.Equal(t, models.AlertTypeRapidMovement, alert.Type)
	assert.Equal(t, models.AlertSeverityWarning, alert.Severity)
	assert.Equal(t, int64(1), alert.Data["track_id"])
	assert.InDelta(t, 200.0, alert.Data["speed"], 1e-9)
	assert.Equal(t, "Rapid movement detected for track 1", alert.Message)

	m, ok := a.TrackMovement("cam1", 1)
	require.True(t, ok)
	assert.InDelta(t, 200.0, m.CurrentSpeed, 1e-9)
	assert.InDelta(t, 200.0, m.TotalDistance, 1e-9)
	assert.InDelta(t, 0.0, m.Direction, 1e-9)

	clock.Advance(2 * time.Second)
	a.Record("cam1", []models.Detection{boxAt(1, 300, 300)}, 3)
	m, _ = a.TrackMovement("cam1", 1)
	assert.InDelta(t, 100.0, m.CurrentSpeed, 1e-9)
	assert.InDelta(t, 150.0, m.AvgSpeed, 1e-9)
	assert.InDelta(t, 400.0, m.TotalDistance, 1e-9)
	assert.InDelta(t, math.Pi/2, m.Direction, 1e-9)

	stats := a.Statistics()
	assert.InDelta(t, (100.0+5.0)/2, stats.Movement.AvgSpeed, 1e-9)
	assert.InDelta(t, 100.0, stats.Movement.MaxSpeed, 1e-9)
	assert.Equal(t, 1, stats.Movement.MovingTracks)
}

func TestStaleTrackDoesNotRealert(t *testing.T) {
	a, clock, _ := newTestAggregator(t, testConfig(), nil)

	a.Record("cam1", []models.Detection{boxAt(1, 100, 100)}, 1)
	clock.Advance(time.Second)
	res := a.Record("cam1", []models.Detection{boxAt(1, 400, 100)}, 2)
	require.Len(t, res.Alerts, 1)

	clock.Advance(time.Second)
	res = a.Record("cam1", []models.Detection{boxAt(2, 700, 700)}, 3)
	assert.Empty(t, res.Alerts)
}

func TestTotalDetectionsIsSumOfInputs(t *testing.T) {
	a, clock, m := newTestAggregator(t, testConfig(), nil)

	sizes := []int{0, 3, 1, 7, 0, 2}
	want := 0
	for i, n := range sizes {
		dets := make([]models.Detection, n)
		for j := range dets {
			dets[j] = boxAt(-1, 100, 100)
		}
		a.Record("cam1", dets, int64(i))
		clock.Advance(40 * time.Millisecond)
		want += n
	}

	stats := a.Statistics()
	assert.Equal(t, int64(want), stats.TotalDetections)
	assert.Equal(t, uint64(want), m.Detections.Load())
	assert.Equal(t, 7, stats.PeakCount)
	require.NotNil(t, stats.PeakTime)
	assert.Equal(t, epoch.Add(3*40*time.Millisecond), *stats.PeakTime)
	assert.Equal(t, 2, stats.CurrentCount)
	assert.Equal(t, 1, stats.CamerasActive)
	assert.InDelta(t, 0.9, stats.AvgConfidence, 1e-9)
}

func TestTrackHistoryCapDropsOldestFirst(t *testing.T) {
	cfg := testConfig()
	cfg.TrackHistorySize = 5
	a, clock, _ := newTestAggregator(t, cfg, nil)

	for i := 0; i < 12; i++ {
		a.Record("cam1", []models.Detection{boxAt(1, float64(100+i), 100)}, int64(i))
		clock.Advance(time.Second)
	}

	paths := a.TrackingPaths(10)
	require.Len(t, paths, 1)
	points := paths[0].Points
	require.Len(t, points, 5)
	for i, p := range points {
		assert.Equal(t, float64(107+i), p.X)
	}
}

func TestConfidenceWindowIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.ConfidenceWindow = 4
	a, _, _ := newTestAggregator(t, cfg, nil)

	for i := 0; i < 4; i++ {
		a.Record("cam1", []models.Detection{det(-1, 0.1, 0, 0, 1, 1)}, int64(i))
	}
	for i := 0; i < 4; i++ {
		a.Record("cam1", []models.Detection{det(-1, 0.9, 0, 0, 1, 1)}, int64(i))
	}
	assert.InDelta(t, 0.9, a.Statistics().AvgConfidence, 1e-9)
}

func TestTrackingPathsLimit(t *testing.T) {
	a, clock, _ := newTestAggregator(t, testConfig(), nil)

	for id := int64(1); id <= 15; id++ {
		a.Record("cam1", []models.Detection{boxAt(id, 100, 100)}, id)
		clock.Advance(time.Millisecond)
	}

	paths := a.TrackingPaths(10)
	require.Len(t, paths, 10)
	assert.Equal(t, int64(6), paths[0].TrackID)
	assert.Equal(t, int64(15), paths[9].TrackID)
	assert.Equal(t, epoch.Add(14*time.Millisecond), paths[9].Points[0].Time)

	assert.Len(t, a.TrackingPaths(0), 10)
}

func TestTracksAreScopedByCamera(t *testing.T) {
	a, clock, _ := newTestAggregator(t, testConfig(), nil)

	a.Record("cam1", []models.Detection{boxAt(1, 100, 100)}, 1)
	clock.Advance(time.Second)
	res := a.Record("cam2", []models.Detection{boxAt(1, 1000, 1000)}, 1)

	assert.Empty(t, res.Alerts)
	assert.Equal(t, 2, a.Statistics().UniqueTracks)
}

func TestHeatmapSnapshot(t *testing.T) {
	a, _, _ := newTestAggregator(t, testConfig(), nil)

	empty := a.Heatmap("cam1")
	assert.Equal(t, int64(0), empty.Max)
	assert.NotNil(t, empty.Data)
	assert.Empty(t, empty.Data)

	a.Record("cam1", []models.Detection{
		boxAt(1, 960, 540),
		boxAt(2, 960, 540),
		boxAt(3, 10, 10),
		boxAt(-1, 500, 500), // untracked: counted, not mapped
	}, 1)

	got := a.Heatmap("cam1")
	want := HeatmapData{
		Max: 2,
		Data: []HeatmapPoint{
			{X: 0, Y: 0, Value: 1},
			{X: 400, Y: 225, Value: 2},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("heatmap mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(3), a.HeatmapTotal("cam1"))
}

func TestCellForClamps(t *testing.T) {
	x, y := CellFor(-50, -1)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)

	x, y = CellFor(5000, 1080)
	assert.Equal(t, GridSize-1, x)
	assert.Equal(t, GridSize-1, y)

	x, y = CellFor(math.NaN(), 1079)
	assert.Equal(t, 0, x)
	assert.Equal(t, 99, y)

	x, y = CellFor(960, 540)
	assert.Equal(t, 50, x)
	assert.Equal(t, 50, y)
}

func TestHeatmapAggregationIsAssociative(t *testing.T) {
	points := [][2]float64{
		{0, 0}, {100, 100}, {959, 539}, {960, 540}, {1919, 1079},
		{333, 777}, {1500, 20}, {1500, 20}, {42, 1000}, {-5, 2000},
	}

	var whole Grid
	for _, p := range points {
		whole.Add(p[0], p[1])
	}

	for split := 0; split <= len(points); split++ {
		var left, right Grid
		for i, p := range points {
			if i < split {
				left.Add(p[0], p[1])
			} else {
				right.Add(p[0], p[1])
			}
		}

		ld, rd := left.Downsample(), right.Downsample()
		var summed [DisplaySize][DisplaySize]int64
		for y := range summed {
			for x := range summed[y] {
				summed[y][x] = ld[y][x] + rd[y][x]
			}
		}
		assert.Equal(t, whole.Downsample(), summed, "split %d", split)

		left.Merge(&right)
		assert.Equal(t, whole.Snapshot(), left.Snapshot(), "split %d", split)
		assert.Equal(t, whole.Total(), left.Total())
	}
}

func TestSetThreshold(t *testing.T) {
	a, _, _ := newTestAggregator(t, testConfig(), nil)

	th, err := a.SetThreshold("high_activity", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, th.HighActivity)

	res := a.Record("cam1", []models.Detection{boxAt(1, 10, 10), boxAt(2, 20, 20), boxAt(3, 30, 30)}, 1)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, models.AlertTypeHighActivity, res.Alerts[0].Type)

	_, err = a.SetThreshold("moving", 12.5)
	require.NoError(t, err)
	assert.Equal(t, 12.5, a.Thresholds().Moving)

	_, err = a.SetThreshold("crowd_detection", 3)
	assert.ErrorIs(t, err, ErrUnknownThreshold)

	_, err = a.SetThreshold("low_confidence", 1.5)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = a.SetThreshold("rapid_movement", math.NaN())
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestSetThresholdRejectsFractionalCount(t *testing.T) {
	a, _, _ := newTestAggregator(t, testConfig(), nil)

	th, err := a.SetThreshold("high_activity", 10.7)
	assert.ErrorIs(t, err, ErrInvalidThreshold)
	assert.Equal(t, 10, th.HighActivity)

	_, err = a.SetThreshold("high_activity", 1e12)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	th, err = a.SetThreshold("high_activity", 11)
	require.NoError(t, err)
	assert.Equal(t, 11, th.HighActivity)
}

func TestEvictStaleTracks(t *testing.T) {
	cfg := testConfig()
	cfg.TrackStaleAfter = time.Minute
	a, clock, m := newTestAggregator(t, cfg, nil)

	a.Record("cam1", []models.Detection{boxAt(1, 100, 100)}, 1)
	clock.Advance(2 * time.Minute)
	a.Record("cam1", []models.Detection{boxAt(2, 100, 100)}, 2)

	assert.Equal(t, 1, a.EvictStaleTracks())
	assert.Equal(t, int64(1), m.ActiveTracks.Load())

	paths := a.TrackingPaths(10)
	require.Len(t, paths, 1)
	assert.Equal(t, int64(2), paths[0].TrackID)

	stats := a.Statistics()
	assert.Equal(t, 2, stats.UniqueTracks)
	assert.Equal(t, 1, stats.ActiveTracks)

	disabled, _, _ := newTestAggregator(t, testConfig(), nil)
	assert.Equal(t, 0, disabled.EvictStaleTracks())
}

type recordingSink struct {
	mu         sync.Mutex
	alerts     []models.AlertEvent
	detections []models.DetectionEvent
}

func (s *recordingSink) PublishAlert(alert models.AlertEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
}

func (s *recordingSink) PublishDetections(event models.DetectionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections = append(s.detections, event)
}

func TestSinksReceiveEvents(t *testing.T) {
	cfg := testConfig()
	cfg.AlertHighActivity = 0
	a, _, _ := newTestAggregator(t, cfg, nil)
	sink := &recordingSink{}
	a.AddAlertSink(sink)
	a.AddDetectionSink(sink)

	a.Record("cam1", []models.Detection{boxAt(1, 10, 10)}, 9)
	a.Record("cam1", nil, 10)

	require.Len(t, sink.alerts, 1)
	require.Len(t, sink.detections, 1)
	assert.Equal(t, models.DetectionEvent{CameraID: "cam1", Count: 1, FrameNumber: 9, Timestamp: epoch}, sink.detections[0])

	assert.Empty(t, a.CurrentDetections())
}

type failingStore struct{}

func (failingStore) InsertDetections(context.Context, []models.DetectionRecord) error {
	return db.ErrPersistence
}
func (failingStore) InsertAlert(context.Context, models.AlertEvent) error { return db.ErrPersistence }
func (failingStore) HourlyRollups(context.Context, time.Time) ([]db.HourlyRollup, error) {
	return nil, errors.New("down")
}
func (failingStore) RecentAlerts(context.Context, time.Time, int) ([]db.StoredAlert, error) {
	return nil, errors.New("down")
}
func (failingStore) DetectionBoxesSince(context.Context, time.Time) ([]db.BoxRow, error) {
	return nil, errors.New("down")
}

func TestPersistenceFailureIsNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.AlertHighActivity = 0
	a, _, m := newTestAggregator(t, cfg, failingStore{})

	res := a.Record("cam1", []models.Detection{boxAt(1, 10, 10)}, 1)
	assert.Equal(t, 1, res.Count)
	assert.Len(t, res.Alerts, 1)
	assert.Equal(t, uint64(2), m.PersistenceErrors.Load())
	assert.Equal(t, int64(1), a.Statistics().TotalDetections)

	_, err := a.Historical(context.Background(), epoch.Add(-time.Hour))
	assert.Error(t, err)
	_, err = a.RebuildHeatmap(context.Background())
	assert.Error(t, err)
}

func TestHistoricalAndReport(t *testing.T) {
	cfg := testConfig()
	cfg.AlertHighActivity = 1
	store := openStore(t)
	a, clock, _ := newTestAggregator(t, cfg, store)

	a.Record("cam1", []models.Detection{boxAt(1, 10, 10)}, 1)
	clock.Advance(time.Hour)
	a.Record("cam1", []models.Detection{boxAt(1, 10, 10), boxAt(2, 50, 50), boxAt(-1, 90, 90)}, 2)

	h, err := a.Historical(context.Background(), epoch.Add(-time.Hour))
	require.NoError(t, err)
	want := []db.HourlyRollup{
		{Hour: "2026-03-01 12:00:00", Count: 1, Unique: 1, Confidence: 0.9},
		{Hour: "2026-03-01 13:00:00", Count: 3, Unique: 2, Confidence: 0.9},
	}
	if diff := cmp.Diff(want, h.Hourly, cmp.Comparer(func(x, y float64) bool { return math.Abs(x-y) < 1e-9 })); diff != "" {
		t.Errorf("hourly mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, h.Alerts, 1)
	assert.Equal(t, "high_activity", h.Alerts[0].Type)
	assert.Equal(t, "High bison activity: 3 detected", h.Alerts[0].Message)

	report, err := a.Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TrendIncreasing, report.Trend)
	assert.Equal(t, int64(4), report.Summary.TotalDetections)
	assert.Equal(t, clock.Now(), report.GeneratedAt)
}

func TestHistoricalWithoutStore(t *testing.T) {
	a, _, _ := newTestAggregator(t, testConfig(), nil)

	h, err := a.Historical(context.Background(), epoch)
	require.NoError(t, err)
	assert.NotNil(t, h.Hourly)
	assert.NotNil(t, h.Alerts)

	report, err := a.Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TrendNoData, report.Trend)
}

func TestTrend(t *testing.T) {
	assert.Equal(t, TrendNoData, Trend(nil))
	assert.Equal(t, TrendStable, Trend([]db.HourlyRollup{{Count: 5}}))
	assert.Equal(t, TrendStable, Trend([]db.HourlyRollup{{Count: 5}, {Count: 5}}))
	assert.Equal(t, TrendStable, Trend([]db.HourlyRollup{{Count: 5}, {Count: 9}, {Count: 2}}))
	assert.Equal(t, TrendIncreasing, Trend([]db.HourlyRollup{{Count: 1}, {Count: 2}}))
}

func TestRebuildHeatmapRoundTrip(t *testing.T) {
	store := openStore(t)
	a, clock, _ := newTestAggregator(t, testConfig(), store)

	n := 0
	for i := 0; i < 20; i++ {
		trackID := int64(i % 4)
		if i%5 == 0 {
			trackID = -1
		}
		a.Record("cam1", []models.Detection{boxAt(trackID, float64(40+i*90), float64(30+i*50))}, int64(i))
		n++
		clock.Advance(time.Second)
	}
	a.Record("cam2", []models.Detection{boxAt(7, 100, 100), boxAt(8, 1800, 1000)}, 1)
	n += 2

	rebuilt := NewAggregator(testConfig(), store, metrics.New(), clock)
	points, err := rebuilt.RebuildHeatmap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, n, points)
	assert.Equal(t, int64(20), rebuilt.HeatmapTotal("cam1"))
	assert.Equal(t, int64(2), rebuilt.HeatmapTotal("cam2"))

	var sum int64
	for _, p := range rebuilt.Heatmap("cam1").Data {
		sum += p.Value
	}
	assert.Equal(t, int64(20), sum)
}

func TestRebuildHeatmapIgnoresOldRows(t *testing.T) {
	store := openStore(t)
	a, clock, _ := newTestAggregator(t, testConfig(), store)

	a.Record("cam1", []models.Detection{boxAt(1, 100, 100)}, 1)
	clock.Advance(25 * time.Hour)
	a.Record("cam1", []models.Detection{boxAt(1, 100, 100)}, 2)

	points, err := a.RebuildHeatmap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, points)
}

func TestConcurrentRecordAndRead(t *testing.T) {
	a, _, _ := newTestAggregator(t, testConfig(), nil)

	var wg sync.WaitGroup
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				a.Record("cam", []models.Detection{boxAt(int64(c), float64(i), float64(i))}, int64(i))
				a.Statistics()
				a.Heatmap("cam")
			}
		}(c)
	}
	wg.Wait()
	assert.Equal(t, int64(400), a.Statistics().TotalDetections)
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bisonguard-worker-go/internal/config"
	"bisonguard-worker-go/internal/metrics"
	"bisonguard-worker-go/internal/models"
	"bisonguard-worker-go/internal/services/analytics"
	"bisonguard-worker-go/internal/services/publisher/mjpeg"
	"bisonguard-worker-go/internal/services/transcode"
	"bisonguard-worker-go/internal/timeutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubCameras struct {
	status    map[string]models.CameraStatus
	pipelines map[string]*transcode.Pipeline
}

func (s *stubCameras) Status() map[string]models.CameraStatus { return s.status }

func (s *stubCameras) Has(cameraID string) bool {
	_, ok := s.status[cameraID]
	return ok
}

func (s *stubCameras) Pipeline(cameraID string) (*transcode.Pipeline, bool) {
	if !s.Has(cameraID) {
		return nil, false
	}
	return s.pipelines[cameraID], true
}

type stubStreamer struct {
	jpeg []byte
	err  error
}

func (s *stubStreamer) Snapshot(string) ([]byte, error) { return s.jpeg, s.err }

func (s *stubStreamer) StreamMJPEGHTTP(w http.ResponseWriter, _ *http.Request, cameraID string, raw bool) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(cameraID + ":" + map[bool]string{true: "raw", false: "annotated"}[raw]))
}

func newCameras(ids ...string) *stubCameras {
	s := &stubCameras{
		status:    make(map[string]models.CameraStatus),
		pipelines: make(map[string]*transcode.Pipeline),
	}
	for _, id := range ids {
		s.status[id] = models.CameraStatus{CameraID: id}
	}
	return s
}

func serve(r *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	cameras := newCameras("cam1", "cam2")
	h := NewHealthHandler(&config.Config{WorkerID: "worker-1"}, cameras)
	r := gin.New()
	r.GET("/health", h.HealthCheck)

	var resp HealthResponse
	w := serve(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, 2, resp.CamerasTotal)
	assert.Equal(t, "worker-1", resp.WorkerID)

	cameras.status["cam1"] = models.CameraStatus{CameraID: "cam1", Online: true}
	w = serve(r, http.MethodGet, "/health", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 1, resp.CamerasOnline)
}

func TestWorkerInfo(t *testing.T) {
	cfg := &config.Config{
		WorkerID:   "worker-1",
		Version:    "1.2.3",
		HLSEnabled: true,
		Cameras:    []config.CameraSource{{ID: "cam1", URL: "rtsp://x"}},
	}
	r := gin.New()
	r.GET("/", NewHealthHandler(cfg, newCameras("cam1")).WorkerInfo)

	var resp WorkerInfoResponse
	w := serve(r, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"cam1"}, resp.Cameras)
	assert.Contains(t, resp.Capabilities, "hls_republishing")
	assert.NotContains(t, resp.Capabilities, "nats_fanout")
}

func TestCameraEndpoints(t *testing.T) {
	streamer := &stubStreamer{jpeg: []byte("jpeg-bytes")}
	h := NewCameraHandler(newCameras("cam1"), streamer)
	r := gin.New()
	r.GET("/api/cameras/status", h.GetCamerasStatus)
	r.GET("/api/camera/:camera_id/snapshot", h.GetSnapshot)
	r.GET("/video_feed/:camera_id", h.VideoFeed)
	r.GET("/raw_feed/:camera_id", h.RawFeed)

	w := serve(r, http.MethodGet, "/api/cameras/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cam1"`)

	w = serve(r, http.MethodGet, "/api/camera/cam1/snapshot", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "jpeg-bytes", w.Body.String())

	w = serve(r, http.MethodGet, "/api/camera/nope/snapshot", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	streamer.err = mjpeg.ErrNoFrame
	w = serve(r, http.MethodGet, "/api/camera/cam1/snapshot", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	streamer.err = errors.New("encoder broke")
	w = serve(r, http.MethodGet, "/api/camera/cam1/snapshot", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = serve(r, http.MethodGet, "/video_feed/cam1", "")
	assert.Equal(t, "cam1:annotated", w.Body.String())
	w = serve(r, http.MethodGet, "/raw_feed/cam1", "")
	assert.Equal(t, "cam1:raw", w.Body.String())
	w = serve(r, http.MethodGet, "/raw_feed/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHLSContentType(t *testing.T) {
	tests := map[string]string{
		"index.m3u8":       "application/vnd.apple.mpegurl",
		"segment00001.ts":  "video/mp2t",
		"SEGMENT00001.TS":  "video/mp2t",
		"init.mp4":         "video/mp4",
		"meta.json":        "application/json",
		"thumb.jpg":        "image/jpeg",
		"something.binary": "application/octet-stream",
	}
	for name, want := range tests {
		assert.Equal(t, want, HLSContentType(name), name)
	}
}

func hlsRouter(cameras *stubCameras) *gin.Engine {
	h := NewHLSHandler(cameras)
	r := gin.New()
	r.GET("/hls/:camera_id/index.m3u8", h.GetManifest)
	r.GET("/hls/:camera_id/segments/:name", h.GetSegment)
	return r
}

func shellPipeline(t *testing.T, script string) *transcode.Pipeline {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	p := transcode.NewPipeline(transcode.Config{
		CameraID: "cam1",
		TmpDir:   t.TempDir(),
		Metrics:  metrics.New(),
		Logger:   zerolog.Nop(),
		NewCommand: func(dir string, opts transcode.Options) *exec.Cmd {
			return exec.Command("sh", "-c", script, filepath.Join(dir, transcode.ManifestName))
		},
	})
	t.Cleanup(p.Stop)
	return p
}

func TestHLSManifestStates(t *testing.T) {
	cameras := newCameras("cam1", "cam2")
	r := hlsRouter(cameras)

	w := serve(r, http.MethodGet, "/hls/unknown/index.m3u8", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, http.MethodGet, "/hls/cam2/index.m3u8", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	pending := shellPipeline(t, "cat > /dev/null")
	cameras.pipelines["cam1"] = pending
	w = serve(r, http.MethodGet, "/hls/cam1/index.m3u8", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	require.True(t, pending.Start(transcode.Options{Width: 2, Height: 2, FPS: 25, SegmentTime: 2, ListSize: 6}))
	w = serve(r, http.MethodGet, "/hls/cam1/index.m3u8", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	failed := transcode.NewPipeline(transcode.Config{
		CameraID:   "cam2",
		FFmpegPath: "bisonguard-no-such-ffmpeg",
		TmpDir:     t.TempDir(),
		Logger:     zerolog.Nop(),
	})
	require.False(t, failed.Start(transcode.Options{Width: 2, Height: 2, FPS: 25, SegmentTime: 2, ListSize: 6}))
	cameras.pipelines["cam2"] = failed
	w = serve(r, http.MethodGet, "/hls/cam2/index.m3u8", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHLSServesArtifacts(t *testing.T) {
	cameras := newCameras("cam1")
	r := hlsRouter(cameras)

	p := shellPipeline(t, `printf '#EXTM3U\n' > "$0"; cat > /dev/null`)
	cameras.pipelines["cam1"] = p
	require.True(t, p.Start(transcode.Options{Width: 2, Height: 2, FPS: 25, SegmentTime: 2, ListSize: 6}))
	require.Eventually(t, func() bool {
		_, ok := p.ManifestPath()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	w := serve(r, http.MethodGet, "/hls/cam1/index.m3u8", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Body.String(), "#EXTM3U")

	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), "segment00000.ts"), []byte("ts-data"), 0o644))
	w = serve(r, http.MethodGet, "/hls/cam1/segments/segment00000.ts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/mp2t", w.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=60", w.Header().Get("Cache-Control"))
	assert.Equal(t, "ts-data", w.Body.String())

	w = serve(r, http.MethodGet, "/hls/cam1/segments/segment99999.ts", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, http.MethodGet, "/hls/cam1/segments/..%2F..%2Fetc%2Fpasswd", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func analyticsRouter(t *testing.T) (*gin.Engine, *analytics.Aggregator) {
	t.Helper()
	cfg := &config.Config{
		AlertHighActivity:    10,
		AlertLowConfidence:   0.3,
		AlertRapidMovement:   50,
		MovingSpeedThreshold: 5,
		TrackHistorySize:     100,
		ConfidenceWindow:     100,
		PersistTimeout:       time.Second,
	}
	agg := analytics.NewAggregator(cfg, nil, metrics.New(), timeutil.NewMockClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))
	h := NewAnalyticsHandler(agg, newCameras("cam1"))

	r := gin.New()
	g := r.Group("/api/analytics")
	g.GET("/stats", h.GetStats)
	g.GET("/historical", h.GetHistorical)
	g.GET("/heatmap/:camera_id", h.GetHeatmap)
	g.GET("/tracking_paths", h.GetTrackingPaths)
	g.GET("/report", h.GetReport)
	g.GET("/thresholds", h.GetThresholds)
	g.PUT("/thresholds", h.UpdateThreshold)
	return r, agg
}

func TestAnalyticsReadEndpoints(t *testing.T) {
	r, agg := analyticsRouter(t)
	agg.Record("cam1", []models.Detection{{
		TrackID:    models.TrackID(1),
		Confidence: 0.9,
		BBox:       models.BBox{X1: 10, Y1: 10, X2: 20, Y2: 20},
	}}, 1)

	var stats analytics.Statistics
	w := serve(r, http.MethodGet, "/api/analytics/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalDetections)
	assert.Equal(t, 1, stats.UniqueTracks)

	var heatmap HeatmapResponse
	w = serve(r, http.MethodGet, "/api/analytics/heatmap/cam1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &heatmap))
	assert.Equal(t, "cam1", heatmap.CameraID)
	assert.NotEmpty(t, heatmap.Heatmap.Data)

	w = serve(r, http.MethodGet, "/api/analytics/heatmap/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var paths []analytics.TrackPath
	w = serve(r, http.MethodGet, "/api/analytics/tracking_paths?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &paths))
	assert.Len(t, paths, 1)

	w = serve(r, http.MethodGet, "/api/analytics/tracking_paths?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodGet, "/api/analytics/historical", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = serve(r, http.MethodGet, "/api/analytics/historical?hours=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodGet, "/api/analytics/report", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateThreshold(t *testing.T) {
	r, agg := analyticsRouter(t)

	var thresholds analytics.Thresholds
	w := serve(r, http.MethodPut, "/api/analytics/thresholds", `{"type":"high_activity","value":25}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &thresholds))
	assert.Equal(t, 25, thresholds.HighActivity)
	assert.Equal(t, 25, agg.Thresholds().HighActivity)

	w = serve(r, http.MethodPut, "/api/analytics/thresholds", `{"type":"bogus","value":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown threshold type")

	w = serve(r, http.MethodPut, "/api/analytics/thresholds", `{"type":"moving"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodPut, "/api/analytics/thresholds", `{"type":"high_activity","value":10.7}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 25, agg.Thresholds().HighActivity)

	w = serve(r, http.MethodGet, "/api/analytics/thresholds", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"high_activity":25`)
}

func TestPositiveIntQuery(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 10, false},
		{"limit=3", 3, false},
		{"limit=5000", 1000, false},
		{"limit=0", 0, true},
		{"limit=x", 0, true},
	}
	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
		got, err := positiveIntQuery(c, "limit", 10, 1000)
		if tt.wantErr {
			assert.Error(t, err, tt.query)
			continue
		}
		assert.NoError(t, err, tt.query)
		assert.Equal(t, tt.want, got, tt.query)
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bisonguard-worker-go/internal/config"
	"bisonguard-worker-go/internal/services"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		WorkerID:           "worker-test",
		Version:            "test",
		Environment:        "test",
		Port:               0,
		DBPath:             filepath.Join(t.TempDir(), "history.db"),
		Cameras:            []config.CameraSource{{ID: "cam1", URL: "rtsp://127.0.0.1:1/none"}},
		AlertHighActivity:  10,
		AlertLowConfidence: 0.3,
		TrackHistorySize:   100,
		ConfidenceWindow:   100,
		PersistTimeout:     time.Second,
	}

	container, err := services.NewServiceContainer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = container.Shutdown(ctx)
	})

	return newServer(cfg, container)
}

func get(s *Server, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestServerRoutes(t *testing.T) {
	s := newTestServer(t)

	w := get(s, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "worker-test", health["worker_id"])
	assert.Equal(t, float64(1), health["cameras_total"])

	w = get(s, "/api/cameras/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cam1"`)

	w = get(s, "/api/camera/cam1/snapshot")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(s, "/hls/cam1/index.m3u8")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = get(s, "/api/analytics/stats")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(s, "/api/analytics/historical?hours=1")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(s, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(s, "/api/info")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/docs/index.html")

	w = get(s, "/docs")
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
}

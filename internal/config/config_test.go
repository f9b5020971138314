package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCameras(t *testing.T) {
	cams := ParseCameras(" north=rtsp://10.0.0.5/live?a=b , south=rtsp://10.0.0.6/live", "")
	require.Len(t, cams, 2)
	assert.Equal(t, CameraSource{ID: "north", URL: "rtsp://10.0.0.5/live?a=b"}, cams[0])
	assert.Equal(t, "south", cams[1].ID)
}

func TestParseCamerasSkipsMalformedAndDuplicates(t *testing.T) {
	cams := ParseCameras("broken,=rtsp://x,a=rtsp://one,a=rtsp://two,b=", "")
	require.Len(t, cams, 1)
	assert.Equal(t, "rtsp://one", cams[0].URL)
}

func TestParseCamerasFallback(t *testing.T) {
	cams := ParseCameras("", "rtsp://cam/stream")
	require.Len(t, cams, 1)
	assert.Equal(t, "main", cams[0].ID)

	assert.Empty(t, ParseCameras("", ""))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CAMERAS", "")
	t.Setenv("RTSP_URL", "")
	t.Setenv("ALERT_HIGH_ACTIVITY", "")
	t.Setenv("HLS_QUEUE_SIZE", "")

	cfg := Load()
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 10, cfg.AlertHighActivity)
	assert.InDelta(t, 0.3, cfg.AlertLowConfidence, 1e-9)
	assert.InDelta(t, 50.0, cfg.AlertRapidMovement, 1e-9)
	assert.Equal(t, 60, cfg.HLSQueueSize)
	assert.Equal(t, 1000, cfg.TrackHistorySize)
	assert.Equal(t, 2*time.Second, cfg.PushInterval)
	assert.Equal(t, 24*time.Hour, cfg.HeatmapRebuildWindow)
	assert.Zero(t, cfg.TrackStaleAfter)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CAMERAS", "gate=rtsp://gate")
	t.Setenv("ALERT_LOW_CONFIDENCE", "0.5")
	t.Setenv("PERSIST_TIMEOUT", "2s")
	t.Setenv("HLS_ENABLED", "false")
	t.Setenv("PORT", "not-a-number")

	cfg := Load()
	require.Len(t, cfg.Cameras, 1)
	assert.Equal(t, "gate", cfg.Cameras[0].ID)
	assert.InDelta(t, 0.5, cfg.AlertLowConfidence, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.PersistTimeout)
	assert.False(t, cfg.HLSEnabled)
	assert.Equal(t, 8000, cfg.Port)
}

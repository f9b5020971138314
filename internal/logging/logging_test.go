package logging

import (
	"bytes"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"

	"bisonguard-worker-go/internal/config"
)

func captureGlobal(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestServiceLoggerFields(t *testing.T) {
	buf := captureGlobal(t)
	logger := WithCamera(NewServiceLogger(&config.Config{WorkerID: "w-9"}, "ingest"), "north")
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"worker_id":"w-9"`)
	assert.Contains(t, out, `"service":"ingest"`)
	assert.Contains(t, out, `"camera_id":"north"`)
}

func TestParseLevel(t *testing.T) {
	level, ok := ParseLevel("debug")
	assert.True(t, ok)
	assert.Equal(t, zerolog.DebugLevel, level)

	level, ok = ParseLevel("loud")
	assert.False(t, ok)
	assert.Equal(t, zerolog.InfoLevel, level)
}

func TestGinContextFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureGlobal(t)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(RequestIDKey, "req-1")
	c.Set(StartTimeKey, time.Now())
	Info(c).Msg("handled")

	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
	assert.Contains(t, buf.String(), `"duration"`)
}

package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"bisonguard-worker-go/internal/logging"
	"bisonguard-worker-go/internal/services/transcode"
)

// PipelineProvider looks up a camera's transcode pipeline. exists is false
// for unknown cameras; the pipeline is nil when republishing is off.
type PipelineProvider interface {
	Pipeline(cameraID string) (pipeline *transcode.Pipeline, exists bool)
}

var hlsContentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".mp4":  "video/mp4",
	".json": "application/json",
	".jpg":  "image/jpeg",
}

// HLSContentType returns the content type served for an HLS artifact.
func HLSContentType(name string) string {
	if ct, ok := hlsContentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

type HLSHandler struct {
	pipelines PipelineProvider
}

func NewHLSHandler(pipelines PipelineProvider) *HLSHandler {
	return &HLSHandler{pipelines: pipelines}
}

// GetManifest godoc
// @Summary HLS playlist
// @Description Live HLS playlist of the annotated stream. 202 with Retry-After while the first segment is being produced.
// @Tags hls
// @Produce application/vnd.apple.mpegurl
// @Param camera_id path string true "Camera ID"
// @Success 200 {file} application/vnd.apple.mpegurl
// @Success 202 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /hls/{camera_id}/index.m3u8 [get]
func (h *HLSHandler) GetManifest(c *gin.Context) {
	pipeline, ok := h.pipeline(c)
	if !ok {
		return
	}

	if !pipeline.Pending() && !pipeline.Enabled() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "HLS republishing unavailable for this camera"})
		return
	}

	path, ready := pipeline.ManifestPath()
	if !ready {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusAccepted, gin.H{"status": "starting"})
		return
	}

	c.Header("Content-Type", HLSContentType(transcode.ManifestName))
	c.Header("Cache-Control", "no-cache")
	c.File(path)
}

// GetSegment godoc
// @Summary HLS segment
// @Description A segment or auxiliary file referenced by the playlist
// @Tags hls
// @Produce video/mp2t
// @Param camera_id path string true "Camera ID"
// @Param name path string true "Segment file name"
// @Success 200 {file} video/mp2t
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /hls/{camera_id}/segments/{name} [get]
func (h *HLSHandler) GetSegment(c *gin.Context) {
	pipeline, ok := h.pipeline(c)
	if !ok {
		return
	}

	name := c.Param("name")
	path, found := pipeline.Resolve(name)
	if !found {
		logging.Debug(c).Str("name", name).Msg("HLS artifact not found")
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Segment not found"})
		return
	}

	c.Header("Content-Type", HLSContentType(name))
	if strings.EqualFold(filepath.Ext(name), ".ts") {
		c.Header("Cache-Control", "public, max-age=60")
	} else {
		c.Header("Cache-Control", "no-cache")
	}
	c.File(path)
}

func (h *HLSHandler) pipeline(c *gin.Context) (*transcode.Pipeline, bool) {
	pipeline, exists := h.pipelines.Pipeline(c.Param("camera_id"))
	if !exists {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Camera not found"})
		return nil, false
	}
	if pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "HLS republishing disabled"})
		return nil, false
	}
	return pipeline, true
}

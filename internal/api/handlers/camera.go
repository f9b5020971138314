package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bisonguard-worker-go/internal/logging"
	"bisonguard-worker-go/internal/models"
	"bisonguard-worker-go/internal/services/publisher/mjpeg"
)

// CameraRegistry is the ingest manager surface used by camera endpoints.
type CameraRegistry interface {
	Status() map[string]models.CameraStatus
	Has(cameraID string) bool
}

// FrameStreamer encodes the latest frames of a camera.
type FrameStreamer interface {
	Snapshot(cameraID string) ([]byte, error)
	StreamMJPEGHTTP(w http.ResponseWriter, r *http.Request, cameraID string, raw bool)
}

type CameraHandler struct {
	cameras  CameraRegistry
	streamer FrameStreamer
}

func NewCameraHandler(cameras CameraRegistry, streamer FrameStreamer) *CameraHandler {
	return &CameraHandler{
		cameras:  cameras,
		streamer: streamer,
	}
}

// GetCamerasStatus returns every camera's status
// @Summary Camera status
// @Description Status of every configured camera keyed by camera id
// @Tags cameras
// @Produce json
// @Success 200 {object} map[string]models.CameraStatus
// @Router /api/cameras/status [get]
func (h *CameraHandler) GetCamerasStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.cameras.Status())
}

// GetSnapshot returns the latest annotated frame as JPEG
// @Summary Camera snapshot
// @Description JPEG of the latest annotated frame
// @Tags cameras
// @Produce image/jpeg
// @Param camera_id path string true "Camera ID"
// @Success 200 {file} image/jpeg
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/camera/{camera_id}/snapshot [get]
func (h *CameraHandler) GetSnapshot(c *gin.Context) {
	cameraID := c.Param("camera_id")
	if !h.cameras.Has(cameraID) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Camera not found"})
		return
	}

	jpeg, err := h.streamer.Snapshot(cameraID)
	if errors.Is(err, mjpeg.ErrNoFrame) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "No frame available yet"})
		return
	}
	if err != nil {
		logging.Error(c).Err(err).Msg("Failed to encode snapshot")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to encode snapshot"})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", jpeg)
}

// VideoFeed streams annotated frames
// @Summary Annotated MJPEG feed
// @Description multipart/x-mixed-replace stream of annotated frames
// @Tags cameras
// @Produce multipart/x-mixed-replace
// @Param camera_id path string true "Camera ID"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /video_feed/{camera_id} [get]
func (h *CameraHandler) VideoFeed(c *gin.Context) {
	h.stream(c, false)
}

// RawFeed streams unannotated frames
// @Summary Raw MJPEG feed
// @Description multipart/x-mixed-replace stream of unannotated frames
// @Tags cameras
// @Produce multipart/x-mixed-replace
// @Param camera_id path string true "Camera ID"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /raw_feed/{camera_id} [get]
func (h *CameraHandler) RawFeed(c *gin.Context) {
	h.stream(c, true)
}

func (h *CameraHandler) stream(c *gin.Context, raw bool) {
	cameraID := c.Param("camera_id")
	if !h.cameras.Has(cameraID) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Camera not found"})
		return
	}
	h.streamer.StreamMJPEGHTTP(c.Writer, c.Request, cameraID, raw)
}

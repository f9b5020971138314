package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bisonguard-worker-go/internal/config"
	"bisonguard-worker-go/internal/models"
)

var startTime = time.Now()

// CameraStatusProvider reports the state of every ingested camera.
type CameraStatusProvider interface {
	Status() map[string]models.CameraStatus
}

type HealthHandler struct {
	cfg     *config.Config
	cameras CameraStatusProvider
}

func NewHealthHandler(cfg *config.Config, cameras CameraStatusProvider) *HealthHandler {
	return &HealthHandler{cfg: cfg, cameras: cameras}
}

type ErrorResponse struct {
	Error string `json:"error" example:"camera not found"`
}

type HealthResponse struct {
	Status        string `json:"status" example:"healthy"`
	WorkerID      string `json:"worker_id" example:"worker-1"`
	CamerasTotal  int    `json:"cameras_total" example:"2"`
	CamerasOnline int    `json:"cameras_online" example:"2"`
}

type WorkerInfoResponse struct {
	WorkerID     string    `json:"worker_id" example:"worker-1"`
	Status       string    `json:"status" example:"running"`
	Version      string    `json:"version" example:"1.0.0"`
	Environment  string    `json:"environment" example:"development"`
	StartTime    time.Time `json:"start_time"`
	Cameras      []string  `json:"cameras"`
	Capabilities []string  `json:"capabilities"`
}

// @Summary Health check
// @Description Check if the worker is healthy and how many cameras are online. Degraded when no camera is online.
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := h.cameras.Status()
	online := 0
	for _, s := range status {
		if s.Online {
			online++
		}
	}

	health := "healthy"
	if len(status) > 0 && online == 0 {
		health = "degraded"
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:        health,
		WorkerID:      h.cfg.WorkerID,
		CamerasTotal:  len(status),
		CamerasOnline: online,
	})
}

// @Summary Worker information
// @Description Get basic worker information and capabilities
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} WorkerInfoResponse
// @Router / [get]
func (h *HealthHandler) WorkerInfo(c *gin.Context) {
	cameras := make([]string, 0, len(h.cfg.Cameras))
	for _, cam := range h.cfg.Cameras {
		cameras = append(cameras, cam.ID)
	}

	capabilities := []string{"rtsp_ingest", "mjpeg_streaming", "analytics", "push_updates"}
	if h.cfg.HLSEnabled {
		capabilities = append(capabilities, "hls_republishing")
	}
	if h.cfg.AnnotatorEnabled {
		capabilities = append(capabilities, "grpc_annotation")
	}
	if h.cfg.NatsEnabled {
		capabilities = append(capabilities, "nats_fanout")
	}

	c.JSON(http.StatusOK, WorkerInfoResponse{
		WorkerID:     h.cfg.WorkerID,
		Status:       "running",
		Version:      h.cfg.Version,
		Environment:  h.cfg.Environment,
		StartTime:    startTime,
		Cameras:      cameras,
		Capabilities: capabilities,
	})
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"bisonguard-worker-go/internal/logging"
	"bisonguard-worker-go/internal/services/analytics"
)

const maxHistoricalHours = 24 * 30

// AnalyticsService is the aggregator surface exposed over HTTP.
type AnalyticsService interface {
	Statistics() analytics.Statistics
	Historical(ctx context.Context, since time.Time) (analytics.Historical, error)
	Heatmap(cameraID string) analytics.HeatmapData
	TrackingPaths(limit int) []analytics.TrackPath
	Report(ctx context.Context) (analytics.Report, error)
	Thresholds() analytics.Thresholds
	SetThreshold(kind string, value float64) (analytics.Thresholds, error)
}

type HeatmapResponse struct {
	CameraID string                `json:"camera_id" example:"main"`
	Heatmap  analytics.HeatmapData `json:"heatmap"`
}

type ThresholdRequest struct {
	Type  string   `json:"type" binding:"required" example:"high_activity"`
	Value *float64 `json:"value" binding:"required" example:"10"`
}

type AnalyticsHandler struct {
	analytics AnalyticsService
	cameras   CameraRegistry
	now       func() time.Time
}

func NewAnalyticsHandler(svc AnalyticsService, cameras CameraRegistry) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: svc, cameras: cameras, now: time.Now}
}

// GetStats godoc
// @Summary Live statistics
// @Description Totals, unique tracks, peak, average confidence and movement across all cameras
// @Tags analytics
// @Produce json
// @Success 200 {object} analytics.Statistics
// @Router /api/analytics/stats [get]
func (h *AnalyticsHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.analytics.Statistics())
}

// GetHistorical godoc
// @Summary Historical rollups
// @Description Hourly detection rollups and the most recent alerts from the history store
// @Tags analytics
// @Produce json
// @Param hours query int false "Window in hours (default 24)"
// @Success 200 {object} analytics.Historical
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/analytics/historical [get]
func (h *AnalyticsHandler) GetHistorical(c *gin.Context) {
	hours, err := positiveIntQuery(c, "hours", 24, maxHistoricalHours)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	since := h.now().Add(-time.Duration(hours) * time.Hour)
	historical, err := h.analytics.Historical(c.Request.Context(), since)
	if err != nil {
		logging.Error(c).Err(err).Int("hours", hours).Msg("Failed to load historical analytics")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load historical data"})
		return
	}
	c.JSON(http.StatusOK, historical)
}

// GetHeatmap godoc
// @Summary Camera heatmap
// @Description 20x20 display heatmap scaled to an 800x450 canvas
// @Tags analytics
// @Produce json
// @Param camera_id path string true "Camera ID"
// @Success 200 {object} HeatmapResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/analytics/heatmap/{camera_id} [get]
func (h *AnalyticsHandler) GetHeatmap(c *gin.Context) {
	cameraID := c.Param("camera_id")
	if !h.cameras.Has(cameraID) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Camera not found"})
		return
	}
	c.JSON(http.StatusOK, HeatmapResponse{
		CameraID: cameraID,
		Heatmap:  h.analytics.Heatmap(cameraID),
	})
}

// GetTrackingPaths godoc
// @Summary Tracking paths
// @Description Point history of the most recently created tracks
// @Tags analytics
// @Produce json
// @Param limit query int false "Number of tracks (default 10)"
// @Success 200 {array} analytics.TrackPath
// @Failure 400 {object} ErrorResponse
// @Router /api/analytics/tracking_paths [get]
func (h *AnalyticsHandler) GetTrackingPaths(c *gin.Context) {
	limit, err := positiveIntQuery(c, "limit", 10, 1000)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.analytics.TrackingPaths(limit))
}

// GetReport godoc
// @Summary Daily report
// @Description Live statistics combined with the last 24 hours of history and a trend
// @Tags analytics
// @Produce json
// @Success 200 {object} analytics.Report
// @Failure 500 {object} ErrorResponse
// @Router /api/analytics/report [get]
func (h *AnalyticsHandler) GetReport(c *gin.Context) {
	report, err := h.analytics.Report(c.Request.Context())
	if err != nil {
		logging.Error(c).Err(err).Msg("Failed to build report")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to build report"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetThresholds godoc
// @Summary Alert thresholds
// @Tags analytics
// @Produce json
// @Success 200 {object} analytics.Thresholds
// @Router /api/analytics/thresholds [get]
func (h *AnalyticsHandler) GetThresholds(c *gin.Context) {
	c.JSON(http.StatusOK, h.analytics.Thresholds())
}

// UpdateThreshold godoc
// @Summary Update an alert threshold
// @Description Types: high_activity, low_confidence, rapid_movement, moving
// @Tags analytics
// @Accept json
// @Produce json
// @Param request body ThresholdRequest true "Threshold update"
// @Success 200 {object} analytics.Thresholds
// @Failure 400 {object} ErrorResponse
// @Router /api/analytics/thresholds [put]
func (h *AnalyticsHandler) UpdateThreshold(c *gin.Context) {
	var req ThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	thresholds, err := h.analytics.SetThreshold(req.Type, *req.Value)
	if errors.Is(err, analytics.ErrUnknownThreshold) || errors.Is(err, analytics.ErrInvalidThreshold) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		logging.Error(c).Err(err).Msg("Failed to update threshold")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	logging.Info(c).Str("type", req.Type).Float64("value", *req.Value).Msg("Threshold updated via API")
	c.JSON(http.StatusOK, thresholds)
}

func positiveIntQuery(c *gin.Context, key string, def, upper int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New(key + " must be a positive integer")
	}
	if v > upper {
		v = upper
	}
	return v, nil
}

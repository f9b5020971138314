package models

import "time"

// AlertType identifies the rule that produced an alert.
type AlertType string

const (
	AlertTypeHighActivity  AlertType = "high_activity"
	AlertTypeLowConfidence AlertType = "low_confidence"
	AlertTypeRapidMovement AlertType = "rapid_movement"
)

// AlertSeverity represents the severity level of alerts
type AlertSeverity string

const (
	AlertSeverityInfo    AlertSeverity = "info"
	AlertSeverityWarning AlertSeverity = "warning"
)

// AlertEvent is immutable once created. Data carries the rule specific
// payload (count, confidence, track_id, speed).
type AlertEvent struct {
	ID        string                 `json:"id"`
	Type      AlertType              `json:"type"`
	Severity  AlertSeverity          `json:"severity"`
	CameraID  string                 `json:"camera_id"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// AlertSink receives alerts as they are raised.
type AlertSink interface {
	PublishAlert(alert AlertEvent)
}

// AlertSinkFunc adapts a function to AlertSink.
type AlertSinkFunc func(alert AlertEvent)

func (f AlertSinkFunc) PublishAlert(alert AlertEvent) { f(alert) }

// RecordResult is returned for every processed detection batch.
type RecordResult struct {
	Count     int          `json:"count"`
	Alerts    []AlertEvent `json:"alerts"`
	Timestamp time.Time    `json:"timestamp"`
}

// DetectionEvent summarizes one non-empty detection batch for a camera.
type DetectionEvent struct {
	CameraID    string    `json:"camera_id"`
	Count       int       `json:"count"`
	FrameNumber int64     `json:"frame_number"`
	Timestamp   time.Time `json:"timestamp"`
}

// DetectionSink receives detection batch summaries.
type DetectionSink interface {
	PublishDetections(event DetectionEvent)
}

package models

import (
	"fmt"
	"math"
	"time"
)

// BBox is an axis-aligned box in source pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the midpoint of the box.
func (b BBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Valid reports whether the box has finite coordinates and positive extent.
func (b BBox) Valid() bool {
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Detection is one annotated subject in a frame.
type Detection struct {
	TrackID    *int64  `json:"track_id"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
	Class      int     `json:"class"`
}

// HasTrack reports whether the annotator assigned a persistent identity.
func (d Detection) HasTrack() bool {
	return d.TrackID != nil
}

// TrackIDValue returns the track id or -1 when absent.
func (d Detection) TrackIDValue() int64 {
	if d.TrackID == nil {
		return -1
	}
	return *d.TrackID
}

// TrackID is a convenience constructor for the optional track id.
func TrackID(id int64) *int64 {
	return &id
}

// NormalizeDetection validates a detection produced outside the process.
// Confidence is clamped into [0,1] (NaN becomes 0), negative track ids are
// dropped to "untracked", and boxes without positive extent are rejected.
func NormalizeDetection(d Detection) (Detection, error) {
	if math.IsNaN(d.Confidence) {
		d.Confidence = 0
	}
	d.Confidence = math.Max(0, math.Min(1, d.Confidence))

	if d.TrackID != nil && *d.TrackID < 0 {
		d.TrackID = nil
	}

	if !d.BBox.Valid() {
		return d, fmt.Errorf("invalid bbox (%.1f,%.1f,%.1f,%.1f)", d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2)
	}
	return d, nil
}

// DetectionRecord is a persisted detection row.
type DetectionRecord struct {
	Timestamp   time.Time
	CameraID    string
	TrackID     *int64
	Confidence  float64
	BBox        BBox
	FrameNumber int64
}

package analytics

import (
	"math"
	"time"
)

// TrackPoint is one observed bbox center.
type TrackPoint struct {
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	Time time.Time `json:"time"`
}

// Movement holds per-track speed metrics in pixels per second.
type Movement struct {
	CurrentSpeed  float64 `json:"current_speed"`
	AvgSpeed      float64 `json:"avg_speed"`
	TotalDistance float64 `json:"total_distance"`
	Direction     float64 `json:"direction"`
	Samples       int     `json:"samples"`

	speedSum float64
}

type trackKey struct {
	cameraID string
	trackID  int64
}

type track struct {
	key       trackKey
	history   *ring[TrackPoint]
	movement  Movement
	firstSeen time.Time
	lastSeen  time.Time
}

func newTrack(key trackKey, historySize int, now time.Time) *track {
	return &track{
		key:       key,
		history:   newRing[TrackPoint](historySize),
		firstSeen: now,
		lastSeen:  now,
	}
}

// observe appends a position and reports whether a speed sample was taken.
// No sample is taken for the first point or when no time has elapsed.
func (t *track) observe(x, y float64, now time.Time) bool {
	prev, hasPrev := t.history.Last()
	t.history.Push(TrackPoint{X: x, Y: y, Time: now})
	t.lastSeen = now

	if !hasPrev {
		return false
	}
	dt := now.Sub(prev.Time).Seconds()
	if dt <= 0 {
		return false
	}

	dx, dy := x-prev.X, y-prev.Y
	distance := math.Hypot(dx, dy)
	speed := distance / dt

	m := &t.movement
	m.CurrentSpeed = speed
	m.speedSum += speed
	m.Samples++
	m.AvgSpeed = m.speedSum / float64(m.Samples)
	m.TotalDistance += distance
	m.Direction = math.Atan2(dy, dx)
	return true
}

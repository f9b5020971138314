package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bisonguard-worker-go/internal/db"
)

// RecentAlertLimit caps the alerts returned by Historical.
const RecentAlertLimit = 50

// Historical is the persisted view: hourly rollups ascending and the most
// recent alerts newest first.
type Historical struct {
	Hourly []db.HourlyRollup `json:"hourly"`
	Alerts []db.StoredAlert  `json:"alerts"`
}

// Report combines live statistics with the last day of history.
type Report struct {
	Summary     Statistics `json:"summary"`
	Historical  Historical `json:"historical"`
	Trend       string     `json:"trend"`
	GeneratedAt time.Time  `json:"generated_at"`
}

const (
	TrendIncreasing = "increasing"
	TrendStable     = "stable"
	TrendNoData     = "no data"
)

// Historical queries the store for rows newer than since.
func (a *Aggregator) Historical(ctx context.Context, since time.Time) (Historical, error) {
	h := Historical{Hourly: []db.HourlyRollup{}, Alerts: []db.StoredAlert{}}
	if a.store == nil {
		return h, nil
	}

	hourly, err := a.store.HourlyRollups(ctx, since)
	if err != nil {
		return h, fmt.Errorf("failed to load hourly rollups: %w", err)
	}
	alerts, err := a.store.RecentAlerts(ctx, since, RecentAlertLimit)
	if err != nil {
		return h, fmt.Errorf("failed to load recent alerts: %w", err)
	}

	if hourly != nil {
		h.Hourly = hourly
	}
	if alerts != nil {
		h.Alerts = alerts
	}
	return h, nil
}

// Report builds a summary over the last 24 hours.
func (a *Aggregator) Report(ctx context.Context) (Report, error) {
	summary := a.Statistics()
	historical, err := a.Historical(ctx, a.clock.Now().Add(-24*time.Hour))
	if err != nil {
		return Report{}, err
	}

	return Report{
		Summary:     summary,
		Historical:  historical,
		Trend:       Trend(historical.Hourly),
		GeneratedAt: a.clock.Now(),
	}, nil
}

// Trend compares the first and last hourly counts.
func Trend(hourly []db.HourlyRollup) string {
	if len(hourly) == 0 {
		return TrendNoData
	}
	if len(hourly) > 1 && hourly[len(hourly)-1].Count > hourly[0].Count {
		return TrendIncreasing
	}
	return TrendStable
}

// RebuildHeatmap replaces the in-memory grids with ones rebuilt from the
// persisted detections of the rebuild window. Returns the number of points.
func (a *Aggregator) RebuildHeatmap(ctx context.Context) (int, error) {
	if a.store == nil {
		return 0, nil
	}

	since := a.clock.Now().Add(-a.rebuildWindow)
	boxes, err := a.store.DetectionBoxesSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to load detections for heatmap rebuild: %w", err)
	}

	grids := make(map[string]*Grid)
	for _, b := range boxes {
		g, ok := grids[b.CameraID]
		if !ok {
			g = &Grid{}
			grids[b.CameraID] = g
		}
		cx, cy := b.BBox.Center()
		g.Add(cx, cy)
	}

	perCamera := zerolog.Dict()
	for cameraID, g := range grids {
		perCamera.Int64(cameraID, g.Total())
	}

	a.mu.Lock()
	a.heatmaps = grids
	a.mu.Unlock()

	a.logger.Info().
		Int("points", len(boxes)).
		Dur("window", a.rebuildWindow).
		Dict("cameras", perCamera).
		Msg("Rebuilt heatmap from history")
	return len(boxes), nil
}

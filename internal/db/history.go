package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bisonguard-worker-go/internal/models"
)

// HourlyRollup is one hour bucket of persisted detections.
type HourlyRollup struct {
	Hour       string  `json:"hour"`
	Count      int     `json:"count"`
	Unique     int     `json:"unique"`
	Confidence float64 `json:"confidence"`
}

// StoredAlert is an alert row as returned by history queries.
type StoredAlert struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	CameraID  string    `json:"camera_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// BoxRow is the minimal projection needed to rebuild heatmaps.
type BoxRow struct {
	CameraID string
	BBox     models.BBox
}

// InsertDetections appends one row per record in a single transaction.
func (db *DB) InsertDetections(ctx context.Context, records []models.DetectionRecord) error {
	if len(records) == 0 {
		return nil
	}

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO detections
				(timestamp, camera_id, track_id, confidence, bbox_x1, bbox_y1, bbox_x2, bbox_y2, frame_number)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range records {
			var trackID sql.NullInt64
			if r.TrackID != nil {
				trackID = sql.NullInt64{Int64: *r.TrackID, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				formatTime(r.Timestamp), r.CameraID, trackID, r.Confidence,
				r.BBox.X1, r.BBox.Y1, r.BBox.X2, r.BBox.Y2, r.FrameNumber,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: insert %d detections: %w", ErrPersistence, len(records), err)
	}
	return nil
}

// InsertAlert appends one alert row. Data is stored as JSON text.
func (db *DB) InsertAlert(ctx context.Context, alert models.AlertEvent) error {
	data, err := json.Marshal(alert.Data)
	if err != nil {
		return fmt.Errorf("%w: encode alert data: %w", ErrPersistence, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO alerts (alert_id, timestamp, alert_type, severity, camera_id, message, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, formatTime(alert.Timestamp), string(alert.Type), string(alert.Severity),
		alert.CameraID, alert.Message, string(data),
	)
	if err != nil {
		return fmt.Errorf("%w: insert alert %s: %w", ErrPersistence, alert.Type, err)
	}
	return nil
}

// HourlyRollups buckets detections newer than since by hour, ascending.
func (db *DB) HourlyRollups(ctx context.Context, since time.Time) ([]HourlyRollup, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT strftime('%Y-%m-%d %H:00:00', timestamp) AS hour,
			COUNT(*) AS count,
			COUNT(DISTINCT track_id) AS unique_tracks,
			AVG(confidence) AS avg_confidence
		FROM detections
		WHERE timestamp > ?
		GROUP BY hour
		ORDER BY hour`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("query hourly rollups: %w", err)
	}
	defer rows.Close()

	rollups := []HourlyRollup{}
	for rows.Next() {
		var (
			r    HourlyRollup
			conf sql.NullFloat64
		)
		if err := rows.Scan(&r.Hour, &r.Count, &r.Unique, &conf); err != nil {
			return nil, fmt.Errorf("scan hourly rollup: %w", err)
		}
		r.Confidence = conf.Float64
		rollups = append(rollups, r)
	}
	return rollups, rows.Err()
}

// RecentAlerts returns alerts newer than since, newest first.
func (db *DB) RecentAlerts(ctx context.Context, since time.Time, limit int) ([]StoredAlert, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.QueryContext(ctx, `
		SELECT alert_type, severity, camera_id, COALESCE(message, ''), timestamp
		FROM alerts
		WHERE timestamp > ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	defer rows.Close()

	alerts := []StoredAlert{}
	for rows.Next() {
		var (
			a  StoredAlert
			ts string
		)
		if err := rows.Scan(&a.Type, &a.Severity, &a.CameraID, &a.Message, &ts); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Timestamp = parseTime(ts)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// DetectionBoxesSince streams every persisted box newer than since.
func (db *DB) DetectionBoxesSince(ctx context.Context, since time.Time) ([]BoxRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT camera_id, bbox_x1, bbox_y1, bbox_x2, bbox_y2
		FROM detections
		WHERE timestamp > ?
			AND bbox_x1 IS NOT NULL AND bbox_y1 IS NOT NULL
			AND bbox_x2 IS NOT NULL AND bbox_y2 IS NOT NULL`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("query detection boxes: %w", err)
	}
	defer rows.Close()

	var boxes []BoxRow
	for rows.Next() {
		var b BoxRow
		if err := rows.Scan(&b.CameraID, &b.BBox.X1, &b.BBox.Y1, &b.BBox.X2, &b.BBox.Y2); err != nil {
			return nil, fmt.Errorf("scan detection box: %w", err)
		}
		boxes = append(boxes, b)
	}
	return boxes, rows.Err()
}

// CountDetections returns the total number of persisted detections.
func (db *DB) CountDetections(ctx context.Context) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM detections`).Scan(&n)
	return n, err
}

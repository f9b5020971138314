package annotator

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"bisonguard-worker-go/internal/helpers"
	"bisonguard-worker-go/internal/models"
)

var (
	boxColor   = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	labelColor = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// DrawDetections renders boxes, track labels and a count banner into frame.Data.
func DrawDetections(frame *models.Frame, dets []models.Detection) error {
	mat, err := helpers.FrameToMat(frame)
	if err != nil {
		return err
	}
	defer mat.Close()

	for _, d := range dets {
		rect := image.Rect(int(d.BBox.X1), int(d.BBox.Y1), int(d.BBox.X2), int(d.BBox.Y2))
		gocv.Rectangle(&mat, rect, boxColor, 2)

		label := fmt.Sprintf("bison %.2f", d.Confidence)
		if d.HasTrack() {
			label = fmt.Sprintf("#%d %.2f", *d.TrackID, d.Confidence)
		}
		y := rect.Min.Y - 6
		if y < 12 {
			y = rect.Min.Y + 14
		}
		gocv.PutText(&mat, label, image.Pt(rect.Min.X, y), gocv.FontHersheySimplex, 0.5, boxColor, 1)
	}

	gocv.PutText(&mat, fmt.Sprintf("Count: %d", len(dets)), image.Pt(10, 30), gocv.FontHersheySimplex, 1.0, labelColor, 2)

	// NewMatFromBytes may or may not share memory depending on the build.
	copy(frame.Data, mat.ToBytes())
	return nil
}

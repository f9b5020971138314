package helpers

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"bisonguard-worker-go/internal/models"
)

// JPEG quality settings
const (
	HighQuality   = 95
	MediumQuality = 75
	LowQuality    = 50
)

// IsJPEGData checks if the byte slice contains JPEG data by checking magic bytes
func IsJPEGData(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	return data[0] == 0xFF && data[1] == 0xD8
}

// FrameToMat wraps a BGR24 frame in a Mat. The caller must Close it.
func FrameToMat(frame *models.Frame) (gocv.Mat, error) {
	if frame == nil || len(frame.Data) == 0 {
		return gocv.NewMat(), fmt.Errorf("empty BGR data")
	}
	if frame.Width <= 0 || frame.Height <= 0 || frame.ExpectedSize() != len(frame.Data) {
		return gocv.NewMat(), fmt.Errorf("frame geometry %dx%d does not match BGR length=%d", frame.Width, frame.Height, len(frame.Data))
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create Mat from BGR data: %w", err)
	}
	return mat, nil
}

// EncodeJPEG converts a BGR24 frame to JPEG bytes.
func EncodeJPEG(frame *models.Frame, quality int) ([]byte, error) {
	mat, err := FrameToMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	return EncodeMatJPEG(mat, quality)
}

// EncodeMatJPEG encodes a Mat as JPEG bytes.
func EncodeMatJPEG(mat gocv.Mat, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = MediumQuality
	}

	jpegBuf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode BGR as JPEG: %w", err)
	}
	defer jpegBuf.Close()

	// GetBytes aliases native memory released by Close.
	src := jpegBuf.GetBytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

// DecodeJPEG decodes JPEG bytes into a BGR24 frame.
func DecodeJPEG(data []byte) (*models.Frame, error) {
	if !IsJPEGData(data) {
		return nil, fmt.Errorf("data is not JPEG")
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode JPEG: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("decoded JPEG is empty")
	}
	return &models.Frame{
		Data:   mat.ToBytes(),
		Width:  mat.Cols(),
		Height: mat.Rows(),
	}, nil
}

// PlaceholderJPEG renders a dark frame with a centered message, used when a
// camera has not produced a frame yet.
func PlaceholderJPEG(width, height int, message string, quality int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		width, height = 640, 360
	}

	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(32, 32, 32, 0), height, width, gocv.MatTypeCV8UC3)
	defer mat.Close()

	size := gocv.GetTextSize(message, gocv.FontHersheySimplex, 0.8, 2)
	origin := image.Pt((width-size.X)/2, (height+size.Y)/2)
	gocv.PutText(&mat, message, origin, gocv.FontHersheySimplex, 0.8, color.RGBA{R: 200, G: 200, B: 200, A: 0}, 2)

	return EncodeMatJPEG(mat, quality)
}

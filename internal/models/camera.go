package models

import (
	"time"
)

// Frame is a decoded BGR24 image. Data is owned by whoever holds the Frame;
// use Clone before handing it to another goroutine that may outlive the caller.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Number    int64
	Timestamp time.Time
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return &Frame{
		Data:      data,
		Width:     f.Width,
		Height:    f.Height,
		Number:    f.Number,
		Timestamp: f.Timestamp,
	}
}

// ExpectedSize is the BGR24 byte length for the frame geometry.
func (f *Frame) ExpectedSize() int {
	return f.Width * f.Height * 3
}

// StreamMetadata is read once after a capture handle opens.
type StreamMetadata struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

// CameraStatus is the externally visible state of one ingested camera.
type CameraStatus struct {
	CameraID        string    `json:"camera_id"`
	Name            string    `json:"name"`
	URL             string    `json:"-"`
	Online          bool      `json:"online"`
	State           string    `json:"state"`
	FPS             float64   `json:"fps"`
	FramesProcessed int64     `json:"frames_processed"`
	Reconnects      int64     `json:"reconnects"`
	HLSEnabled      bool      `json:"hls_enabled"`
	LastFrameAt     time.Time `json:"last_frame_at"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
}

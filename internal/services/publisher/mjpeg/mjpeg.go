package mjpeg

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"bisonguard-worker-go/internal/config"
	"bisonguard-worker-go/internal/helpers"
	"bisonguard-worker-go/internal/logging"
	"bisonguard-worker-go/internal/models"
)

const (
	Boundary          = "frame"
	keepaliveInterval = 2 * time.Second
	placeholderWidth  = 640
	placeholderHeight = 360
)

// ErrNoFrame is returned before a camera has produced its first frame.
var ErrNoFrame = errors.New("no frame available")

// FrameProvider returns a copy of the latest annotated or raw frame.
type FrameProvider interface {
	LatestFrame(cameraID string, raw bool) (*models.Frame, bool)
}

// EncodeFunc encodes a BGR frame to JPEG.
type EncodeFunc func(frame *models.Frame, quality int) ([]byte, error)

// PlaceholderFunc renders a JPEG shown until the first frame arrives.
type PlaceholderFunc func(width, height int, message string, quality int) ([]byte, error)

// Publisher serves snapshots and multipart MJPEG streams from the latest
// cached frames. It keeps no per-camera state of its own.
type Publisher struct {
	cfg         *config.Config
	provider    FrameProvider
	logger      zerolog.Logger
	encode      EncodeFunc
	placeholder PlaceholderFunc
}

func NewPublisher(cfg *config.Config, provider FrameProvider) *Publisher {
	return &Publisher{
		cfg:         cfg,
		provider:    provider,
		logger:      logging.NewServiceLogger(cfg, "mjpeg"),
		encode:      helpers.EncodeJPEG,
		placeholder: helpers.PlaceholderJPEG,
	}
}

// Snapshot encodes the latest annotated frame of a camera.
func (p *Publisher) Snapshot(cameraID string) ([]byte, error) {
	frame, ok := p.provider.LatestFrame(cameraID, false)
	if !ok {
		return nil, ErrNoFrame
	}
	jpeg, err := p.encode(frame, p.cfg.MJPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return jpeg, nil
}

// StreamMJPEGHTTP writes multipart/x-mixed-replace JPEG parts until the
// client goes away. New frames are polled every MJPEGInterval and the last
// part is repeated as a keepalive when the camera stalls.
func (p *Publisher) StreamMJPEGHTTP(w http.ResponseWriter, r *http.Request, cameraID string, raw bool) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	logger := logging.WithCamera(p.logger, cameraID)
	logger.Debug().Bool("raw", raw).Msg("MJPEG client connected")
	defer logger.Debug().Msg("MJPEG client disconnected")

	writePart := func(jpeg []byte) bool {
		if err := WritePart(w, jpeg); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	var (
		last       []byte
		lastNumber int64 = -1
		lastSent   time.Time
	)

	next := func() []byte {
		frame, ok := p.provider.LatestFrame(cameraID, raw)
		if !ok || frame.Number == lastNumber {
			return nil
		}
		jpeg, err := p.encode(frame, p.cfg.MJPEGQuality)
		if err != nil {
			logger.Debug().Err(err).Msg("Failed to encode MJPEG frame")
			return nil
		}
		lastNumber = frame.Number
		return jpeg
	}

	first := next()
	if first == nil {
		placeholder, err := p.placeholder(placeholderWidth, placeholderHeight,
			fmt.Sprintf("Camera: %s  Initializing...", cameraID), p.cfg.MJPEGQuality)
		if err == nil {
			first = placeholder
		}
	}
	if len(first) > 0 {
		if !writePart(first) {
			return
		}
		last, lastSent = first, time.Now()
	}

	interval := p.cfg.MJPEGInterval
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			jpeg := next()
			if jpeg == nil {
				if len(last) == 0 || now.Sub(lastSent) < keepaliveInterval {
					continue
				}
				jpeg = last
			}
			if !writePart(jpeg) {
				return
			}
			last, lastSent = jpeg, now
		}
	}
}

// WritePart writes one multipart JPEG part.
func WritePart(w io.Writer, jpeg []byte) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(jpeg))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func (p *Publisher) Shutdown() {
	p.logger.Info().Msg("MJPEG Publisher shutting down")
}

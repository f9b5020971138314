package streamcapture

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"bisonguard-worker-go/internal/config"
	"bisonguard-worker-go/internal/logging"
	"bisonguard-worker-go/internal/models"
)

var (
	// ErrConnectFailed is returned when a capture handle cannot be opened.
	ErrConnectFailed = errors.New("connect failed")
	// ErrReadFailed is returned when the open handle stops yielding frames.
	ErrReadFailed = errors.New("read failed")
)

// FrameSource is a pull-style video source. Implementations are owned by a
// single ingest loop and are not safe for concurrent use.
type FrameSource interface {
	Open(url string) error
	Read() (*models.Frame, error)
	Metadata() models.StreamMetadata
	Close() error
}

// Service creates capture handles configured for low-latency RTSP.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger
}

// NewService creates a new stream capture service
func NewService(cfg *config.Config) *Service {
	return &Service{
		cfg:    cfg,
		logger: logging.NewServiceLogger(cfg, "streamcapture"),
	}
}

// NewSource returns an unopened gocv-backed FrameSource.
func (s *Service) NewSource() FrameSource {
	return &VideoSource{
		defaultFPS: s.cfg.DefaultFPS,
		logger:     s.logger,
	}
}

// VideoSource reads BGR frames through OpenCV's FFmpeg backend.
type VideoSource struct {
	defaultFPS float64
	logger     zerolog.Logger

	cap         *gocv.VideoCapture
	img         gocv.Mat
	hasMat      bool
	meta        models.StreamMetadata
	url         string
	frameNumber int64
}

var ffmpegOptionsOnce sync.Once

// Open opens url and reads stream metadata once. Any previously open handle
// is released first, so Open doubles as reconnect.
func (v *VideoSource) Open(url string) error {
	ffmpegOptionsOnce.Do(func() { configureFFmpegOptions(v.logger) })

	v.Close()
	v.url = url

	cap, err := gocv.OpenVideoCaptureWithAPI(url, gocv.VideoCaptureFFmpeg)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, redactURL(url), err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("%w: %s: capture not opened", ErrConnectFailed, redactURL(url))
	}

	// Minimal buffer keeps the read position near live.
	cap.Set(gocv.VideoCaptureBufferSize, 1)

	v.cap = cap
	v.img = gocv.NewMat()
	v.hasMat = true
	v.meta = models.StreamMetadata{
		Width:  int(cap.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(cap.Get(gocv.VideoCaptureFrameHeight)),
		FPS:    NormalizeFPS(cap.Get(gocv.VideoCaptureFPS), v.defaultFPS),
	}

	v.logger.Info().
		Str("url", redactURL(url)).
		Int("width", v.meta.Width).
		Int("height", v.meta.Height).
		Float64("fps", v.meta.FPS).
		Msg("VideoCapture opened")
	return nil
}

// Read blocks until the next frame is decoded.
func (v *VideoSource) Read() (*models.Frame, error) {
	if v.cap == nil {
		return nil, fmt.Errorf("%w: source not open", ErrReadFailed)
	}

	if ok := v.cap.Read(&v.img); !ok {
		return nil, fmt.Errorf("%w: %s", ErrReadFailed, redactURL(v.url))
	}
	if v.img.Empty() {
		return nil, fmt.Errorf("%w: empty frame from %s", ErrReadFailed, redactURL(v.url))
	}

	src := v.img
	if v.img.Channels() == 1 {
		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(v.img, &bgr, gocv.ColorGrayToBGR)
		src = bgr
	}

	// Geometry may be unknown until the first decoded frame.
	if v.meta.Width == 0 || v.meta.Height == 0 {
		v.meta.Width = src.Cols()
		v.meta.Height = src.Rows()
	}

	v.frameNumber++
	return &models.Frame{
		Data:   src.ToBytes(),
		Width:  src.Cols(),
		Height: src.Rows(),
		Number: v.frameNumber,
	}, nil
}

// Metadata returns the values read at the last successful Open.
func (v *VideoSource) Metadata() models.StreamMetadata {
	return v.meta
}

// Close releases the capture handle. Safe to call repeatedly.
func (v *VideoSource) Close() error {
	if v.hasMat {
		v.img.Close()
		v.hasMat = false
	}
	if v.cap != nil {
		err := v.cap.Close()
		v.cap = nil
		return err
	}
	return nil
}

// NormalizeFPS substitutes fallback for NaN, infinite or non-positive rates.
func NormalizeFPS(fps, fallback float64) float64 {
	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		return fallback
	}
	return fps
}

// configureFFmpegOptions sets the OpenCV FFmpeg backend options for RTSP.
func configureFFmpegOptions(logger zerolog.Logger) {
	ffmpegOptions := map[string]string{
		"rtsp_transport":  "tcp",
		"buffer_size":     "2097152",
		"max_delay":       "500000",
		"stimeout":        "5000000",
		"rw_timeout":      "5000000",
		"flags":           "low_delay",
		"fflags":          "nobuffer",
		"analyzeduration": "500000",
		"probesize":       "2000000",
	}

	keys := make([]string, 0, len(ffmpegOptions))
	for key := range ffmpegOptions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+";"+ffmpegOptions[key])
	}
	opts := strings.Join(parts, "|")

	// An operator supplied value wins.
	if existing := os.Getenv("OPENCV_FFMPEG_CAPTURE_OPTIONS"); existing != "" {
		logger.Info().Str("ffmpeg_options", existing).Msg("Using FFmpeg capture options from environment")
		return
	}
	os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", opts)
	logger.Debug().Str("ffmpeg_options", opts).Msg("FFmpeg options configured for OpenCV")
}

// redactURL strips credentials from a stream URL for logging.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if slash := strings.Index(rest, "/"); slash == -1 || at < slash {
			return scheme + "://***@" + rest[at+1:]
		}
	}
	return raw
}

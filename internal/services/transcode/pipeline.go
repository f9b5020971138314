package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"bisonguard-worker-go/internal/metrics"
	"bisonguard-worker-go/internal/models"
)

var (
	// ErrTranscoderUnavailable means the transcoder binary could not be found or spawned.
	ErrTranscoderUnavailable = errors.New("transcoder unavailable")
	// ErrTranscoderWriteFailed means the transcoder input pipe broke.
	ErrTranscoderWriteFailed = errors.New("transcoder write failed")
)

const (
	ManifestName = "index.m3u8"

	DefaultQueueSize = 60

	pollInterval   = 50 * time.Millisecond
	gracefulPolls  = 5
	terminatePolls = 10
	killWait       = time.Second
	workerWait     = time.Second
)

// Options describe the raw input geometry and the HLS output window.
type Options struct {
	Width       int
	Height      int
	FPS         float64
	SegmentTime int
	ListSize    int
	PruneOld    bool
}

// CommandFactory builds the transcoder command writing into dir.
type CommandFactory func(dir string, opts Options) *exec.Cmd

// Pipeline feeds raw BGR frames to an ffmpeg HLS muxer through a bounded
// drop-newest queue and serves the produced artifacts from a private directory.
type Pipeline struct {
	cameraID   string
	tmpRoot    string
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	newCommand CommandFactory

	mu      sync.RWMutex
	started bool
	stopped bool
	opts    Options
	dir     string
	cmd     *exec.Cmd

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	running    atomic.Bool
	queue      chan []byte
	stopCh     chan struct{}
	workerDone chan struct{}
	exited     chan struct{}
}

// Config for NewPipeline.
type Config struct {
	CameraID   string
	FFmpegPath string
	TmpDir     string
	QueueSize  int
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
	// NewCommand overrides the ffmpeg command; nil uses FFmpegPath.
	NewCommand CommandFactory
}

// NewPipeline creates an idle pipeline. Call Start to spawn the transcoder.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if cfg.NewCommand == nil {
		cfg.NewCommand = func(dir string, opts Options) *exec.Cmd {
			return exec.Command(ffmpegPath, Args(dir, opts)...)
		}
	}

	return &Pipeline{
		cameraID:   cfg.CameraID,
		tmpRoot:    cfg.TmpDir,
		logger:     cfg.Logger.With().Str("component", "transcode").Logger(),
		metrics:    cfg.Metrics,
		newCommand: cfg.NewCommand,
		queue:      make(chan []byte, cfg.QueueSize),
		stopCh:     make(chan struct{}),
		workerDone: make(chan struct{}),
		exited:     make(chan struct{}),
	}
}

// Args is the fixed ffmpeg argument contract: bgr24 rawvideo on stdin, H.264
// HLS with a rolling window into dir.
func Args(dir string, opts Options) []string {
	hlsFlags := "independent_segments"
	if opts.PruneOld {
		hlsFlags = "delete_segments+independent_segments"
	}

	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s:v", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-r", strconv.FormatFloat(opts.FPS, 'g', -1, 64),
		"-i", "-",
		"-an",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-f", "hls",
		"-hls_time", strconv.Itoa(opts.SegmentTime),
		"-hls_list_size", strconv.Itoa(opts.ListSize),
		"-hls_flags", hlsFlags,
		"-hls_base_url", "segments/",
		"-hls_segment_filename", filepath.Join(dir, "segment%05d.ts"),
		filepath.Join(dir, ManifestName),
	}
}

// Start spawns the transcoder into a fresh private directory. It returns false
// when the transcoder cannot run; the pipeline then stays disabled and Submit
// is a no-op. Calling Start more than once returns the current state.
func (p *Pipeline) Start(opts Options) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return p.running.Load()
	}
	p.started = true

	if opts.Width <= 0 || opts.Height <= 0 {
		p.logger.Warn().Int("width", opts.Width).Int("height", opts.Height).Msg("Invalid geometry, HLS disabled")
		return false
	}

	dir, err := os.MkdirTemp(p.tmpRoot, "hls_")
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to create HLS output directory")
		return false
	}

	if err := p.spawn(dir, opts); err != nil {
		os.RemoveAll(dir)
		p.logger.Warn().Err(err).Msg("HLS transcoder unavailable, continuing without republishing")
		return false
	}

	p.opts = opts
	p.dir = dir
	p.running.Store(true)
	go p.worker()

	p.logger.Info().
		Str("dir", dir).
		Int("width", opts.Width).
		Int("height", opts.Height).
		Float64("fps", opts.FPS).
		Int("segment_time", opts.SegmentTime).
		Int("list_size", opts.ListSize).
		Bool("prune_old", opts.PruneOld).
		Msg("HLS transcoder started")
	return true
}

func (p *Pipeline) spawn(dir string, opts Options) error {
	cmd := p.newCommand(dir, opts)
	if cmd.Err != nil {
		return fmt.Errorf("%w: %w", ErrTranscoderUnavailable, cmd.Err)
	}
	cmd.Stderr = &stderrLogger{logger: p.logger}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: failed to create stdin pipe: %w", ErrTranscoderUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrTranscoderUnavailable, err)
	}

	p.cmd = cmd
	p.stdinMu.Lock()
	p.stdin = stdin
	p.stdinMu.Unlock()

	go func() {
		err := cmd.Wait()
		if err != nil && p.running.Load() {
			p.logger.Warn().Err(err).Msg("HLS transcoder exited")
		}
		close(p.exited)
	}()
	return nil
}

// Submit queues a frame without blocking and reports whether it was accepted.
// The pipeline takes ownership of frame.Data. Frames are dropped when the
// pipeline is disabled, the queue is full or the geometry does not match.
func (p *Pipeline) Submit(frame *models.Frame) bool {
	if frame == nil || !p.running.Load() {
		return false
	}

	p.mu.RLock()
	expected := p.opts.Width * p.opts.Height * 3
	p.mu.RUnlock()
	if len(frame.Data) != expected {
		p.metrics.TranscodeDropped.Add(1)
		return false
	}

	select {
	case p.queue <- frame.Data:
		p.metrics.TranscodeQueued.Add(1)
		return true
	default:
		p.metrics.TranscodeDropped.Add(1)
		return false
	}
}

func (p *Pipeline) worker() {
	defer close(p.workerDone)

	for {
		select {
		case <-p.stopCh:
			return
		case data := <-p.queue:
			if err := p.write(data); err != nil {
				p.metrics.TranscodeFailed.Add(1)
				p.running.Store(false)
				if !p.isStopping() {
					p.logger.Error().Err(err).Msg("HLS transcoder write failed, pipeline disabled")
				}
				return
			}
			p.metrics.TranscodeWritten.Add(1)
		}
	}
}

func (p *Pipeline) write(data []byte) error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()

	if p.stdin == nil {
		return fmt.Errorf("%w: input closed", ErrTranscoderWriteFailed)
	}
	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("%w: %w", ErrTranscoderWriteFailed, err)
	}
	return nil
}

func (p *Pipeline) isStopping() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// Stop shuts the transcoder down: close input, wait, SIGTERM, wait, kill, then
// remove the private directory. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cmd := p.cmd
	dir := p.dir
	p.mu.Unlock()

	p.running.Store(false)
	close(p.stopCh)
	p.drain()

	if cmd == nil {
		return
	}

	// Closing without stdinMu unblocks a writer stuck on a full pipe.
	if p.stdin != nil {
		p.stdin.Close()
	}
	select {
	case <-p.workerDone:
	case <-time.After(workerWait):
		p.logger.Warn().Msg("HLS writer did not exit in time")
	}
	p.stdinMu.Lock()
	p.stdin = nil
	p.stdinMu.Unlock()

	if !p.waitExit(gracefulPolls) {
		p.logger.Debug().Msg("Terminating HLS transcoder")
		cmd.Process.Signal(syscall.SIGTERM)
		if !p.waitExit(terminatePolls) {
			p.logger.Warn().Msg("Killing HLS transcoder")
			cmd.Process.Kill()
			select {
			case <-p.exited:
			case <-time.After(killWait):
			}
		}
	}

	p.mu.Lock()
	p.dir = ""
	p.mu.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to remove HLS directory")
	}
	p.logger.Info().Msg("HLS transcoder stopped")
}

func (p *Pipeline) drain() {
	for {
		select {
		case <-p.queue:
		default:
			return
		}
	}
}

func (p *Pipeline) waitExit(polls int) bool {
	for i := 0; i < polls; i++ {
		select {
		case <-p.exited:
			return true
		case <-time.After(pollInterval):
		}
	}
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// Resolve maps an artifact name to a file inside the private directory. Names
// that escape the directory, and files that do not exist, are rejected.
func (p *Pipeline) Resolve(name string) (string, bool) {
	p.mu.RLock()
	dir := p.dir
	p.mu.RUnlock()

	if dir == "" || name == "" {
		return "", false
	}

	candidate := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, candidate)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	info, err := os.Stat(candidate)
	if err != nil || info.IsDir() {
		return "", false
	}
	return candidate, true
}

// ManifestPath returns the playlist path once ffmpeg has written it.
func (p *Pipeline) ManifestPath() (string, bool) {
	return p.Resolve(ManifestName)
}

// Enabled reports whether frames are currently being accepted.
func (p *Pipeline) Enabled() bool {
	return p.running.Load()
}

// Pending reports whether Start has not been called yet.
func (p *Pipeline) Pending() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.started && !p.stopped
}

// QueueLen returns the number of frames waiting for the writer.
func (p *Pipeline) QueueLen() int {
	return len(p.queue)
}

// Dir returns the private output directory, empty when not running.
func (p *Pipeline) Dir() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dir
}

// stderrLogger forwards transcoder stderr lines to the logger.
type stderrLogger struct {
	logger zerolog.Logger
}

func (w *stderrLogger) Write(b []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		if len(line) > 0 {
			w.logger.Warn().Str("stderr", string(line)).Msg("ffmpeg")
		}
	}
	return len(b), nil
}

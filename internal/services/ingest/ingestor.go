package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"bisonguard-worker-go/internal/config"
	"bisonguard-worker-go/internal/logging"
	"bisonguard-worker-go/internal/metrics"
	"bisonguard-worker-go/internal/models"
	"bisonguard-worker-go/internal/services/annotator"
	"bisonguard-worker-go/internal/services/streamcapture"
	"bisonguard-worker-go/internal/services/transcode"
	"bisonguard-worker-go/internal/timeutil"
)

// CameraState represents the atomic state of a camera
type CameraState int32

const (
	StateStopped CameraState = iota
	StateRunning
	StateStopping
)

func (s CameraState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const (
	stopWait = 5 * time.Second
	stopPoll = 10 * time.Millisecond
)

// Recorder consumes the detections of every processed frame.
type Recorder interface {
	Record(cameraID string, dets []models.Detection, frameNumber int64) models.RecordResult
}

// SourceFactory returns a fresh, unopened FrameSource.
type SourceFactory func() streamcapture.FrameSource

// PipelineFactory returns an idle transcode pipeline for a camera, or nil
// when republishing is disabled.
type PipelineFactory func(cameraID string) *transcode.Pipeline

// Deps are the collaborators shared by every camera.
type Deps struct {
	NewSource   SourceFactory
	NewPipeline PipelineFactory
	Annotator   annotator.Annotator
	Analytics   Recorder
	Metrics     *metrics.Metrics
	Clock       timeutil.Clock
}

// Ingestor runs the capture loop of one camera: read, annotate, cache the
// latest frame, republish and hand detections to analytics.
type Ingestor struct {
	source config.CameraSource
	cfg    *config.Config
	deps   Deps
	logger zerolog.Logger

	backoff streamcapture.Backoff
	fps     *streamcapture.FPSMeter

	state  int32
	cancel context.CancelFunc
	done   chan struct{}

	pipelineMu      sync.RWMutex
	pipeline        *transcode.Pipeline
	pipelineStarted bool

	// Frames are never mutated once stored; readers get copies.
	frameMu        sync.RWMutex
	latest         *models.Frame
	latestRaw      *models.Frame
	meta           models.StreamMetadata
	online         bool
	lastFrameAt    time.Time
	lastDetections int

	frameNumber     int64
	framesProcessed atomic.Int64
	reconnects      atomic.Int64
}

// NewIngestor creates a stopped ingestor.
func NewIngestor(cfg *config.Config, source config.CameraSource, deps Deps) *Ingestor {
	if deps.Annotator == nil {
		deps.Annotator = annotator.Passthrough{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}

	return &Ingestor{
		source: source,
		cfg:    cfg,
		deps:   deps,
		logger: logging.WithCamera(logging.NewServiceLogger(cfg, "ingest"), source.ID),
		backoff: streamcapture.Backoff{
			Base:      cfg.ReconnectDelay,
			Max:       cfg.ReconnectBackoffMax,
			JitterPct: cfg.ReconnectJitterPct,
		},
		fps: streamcapture.NewFPSMeter(deps.Clock, cfg.FPSWindow),
	}
}

// ID returns the camera id.
func (i *Ingestor) ID() string {
	return i.source.ID
}

func (i *Ingestor) getState() CameraState {
	return CameraState(atomic.LoadInt32(&i.state))
}

// Start launches the capture loop. Starting a running ingestor is an error.
func (i *Ingestor) Start() error {
	if !atomic.CompareAndSwapInt32(&i.state, int32(StateStopped), int32(StateRunning)) {
		return fmt.Errorf("camera %s cannot start from state %s", i.source.ID, i.getState())
	}

	ctx, cancel := context.WithCancel(context.Background())
	i.cancel = cancel
	i.done = make(chan struct{})

	var pipeline *transcode.Pipeline
	if i.cfg.HLSEnabled && i.deps.NewPipeline != nil {
		pipeline = i.deps.NewPipeline(i.source.ID)
	}
	i.pipelineMu.Lock()
	i.pipeline = pipeline
	i.pipelineStarted = false
	i.pipelineMu.Unlock()

	go i.run(ctx, i.done)

	i.logger.Info().Bool("hls", pipeline != nil).Msg("Camera started")
	return nil
}

// Stop ends the capture loop after the current frame and releases the
// transcoder. The loop is given a bounded time to exit.
func (i *Ingestor) Stop() error {
	if !atomic.CompareAndSwapInt32(&i.state, int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("camera %s cannot stop from state %s", i.source.ID, i.getState())
	}

	i.logger.Info().Msg("Stopping camera")
	i.cancel()

	select {
	case <-i.done:
	case <-time.After(stopWait):
		i.logger.Warn().Msg("Capture loop did not exit in time, abandoning it")
	}

	i.pipelineMu.Lock()
	pipeline := i.pipeline
	i.pipelineMu.Unlock()
	if pipeline != nil {
		pipeline.Stop()
	}

	i.frameMu.Lock()
	i.online = false
	i.frameMu.Unlock()

	atomic.StoreInt32(&i.state, int32(StateStopped))
	i.logger.Info().Msg("Camera stopped")
	return nil
}

// waitStopped blocks until a concurrent Stop has finished or ctx ends.
func (i *Ingestor) waitStopped(ctx context.Context) {
	ticker := time.NewTicker(stopPoll)
	defer ticker.Stop()

	for i.getState() == StateStopping {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Restart stops and starts the camera.
func (i *Ingestor) Restart() error {
	if i.getState() == StateRunning {
		if err := i.Stop(); err != nil {
			return err
		}
	}
	return i.Start()
}

// run restarts the capture loop after a panic until ctx is cancelled.
func (i *Ingestor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		if !i.captureSafely(ctx) {
			return
		}
		i.logger.Warn().Dur("delay", i.cfg.PanicRestartDelay).Msg("Restarting capture loop after panic")
		if !sleepCtx(ctx, i.cfg.PanicRestartDelay) {
			return
		}
	}
}

// captureSafely reports whether the loop ended by panic.
func (i *Ingestor) captureSafely(ctx context.Context) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error().Interface("panic", r).Msg("Camera panic recovered")
			panicked = true
		}
	}()

	i.capture(ctx)
	return false
}

func (i *Ingestor) capture(ctx context.Context) {
	src := i.deps.NewSource()
	defer src.Close()

	failures := 0
	opened := false

	for ctx.Err() == nil {
		if err := src.Open(i.source.URL); err != nil {
			failures++
			delay := i.backoff.Delay(failures)
			i.logger.Warn().Err(err).Int("attempt", failures).Dur("retry_in", delay).Msg("Failed to open stream")
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		if opened {
			i.reconnects.Add(1)
			i.deps.Metrics.Reconnects.Add(1)
		}
		opened = true
		failures = 0

		meta := src.Metadata()
		i.fps.Reset()
		i.frameMu.Lock()
		i.meta = meta
		i.online = true
		i.frameMu.Unlock()

		if err := i.readLoop(ctx, src); err != nil {
			i.deps.Metrics.ReadErrors.Add(1)
			i.frameMu.Lock()
			i.online = false
			i.frameMu.Unlock()
			src.Close()

			delay := i.backoff.Delay(0)
			i.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Stream read failed, reconnecting")
			if !sleepCtx(ctx, delay) {
				return
			}
		}
	}
}

// readLoop returns nil when ctx is cancelled and the read error otherwise.
func (i *Ingestor) readLoop(ctx context.Context, src streamcapture.FrameSource) error {
	for ctx.Err() == nil {
		frame, err := src.Read()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		i.process(ctx, frame)

		if i.cfg.LoopYield > 0 && !sleepCtx(ctx, i.cfg.LoopYield) {
			return nil
		}
	}
	return nil
}

func (i *Ingestor) process(ctx context.Context, frame *models.Frame) {
	now := i.deps.Clock.Now()
	i.frameNumber++
	frame.Number = i.frameNumber
	frame.Timestamp = now

	i.deps.Metrics.FramesRead.Add(1)
	i.fps.Tick()

	annotated, dets, err := i.deps.Annotator.Annotate(ctx, frame)
	if err != nil {
		i.deps.Metrics.AnnotateErrors.Add(1)
		if !errors.Is(err, annotator.ErrUnavailable) {
			i.logger.Debug().Err(err).Int64("frame", frame.Number).Msg("Annotation failed, using raw frame")
		}
		annotated, dets = frame, nil
	}
	if annotated == nil {
		annotated = frame
	}

	i.frameMu.Lock()
	i.latest = annotated
	i.latestRaw = frame
	i.lastFrameAt = now
	i.lastDetections = len(dets)
	i.frameMu.Unlock()
	i.deps.Metrics.FramesStored.Add(1)

	if pipeline := i.ensurePipeline(annotated); pipeline != nil {
		pipeline.Submit(annotated)
	}

	if i.deps.Analytics != nil {
		i.deps.Analytics.Record(i.source.ID, dets, frame.Number)
	}
	i.framesProcessed.Add(1)
}

// ensurePipeline starts the transcoder on the first frame, once geometry is
// known. It returns nil while republishing is disabled.
func (i *Ingestor) ensurePipeline(frame *models.Frame) *transcode.Pipeline {
	i.pipelineMu.Lock()
	defer i.pipelineMu.Unlock()

	if i.pipeline == nil {
		return nil
	}
	if !i.pipelineStarted {
		i.pipelineStarted = true
		fps := i.metaFPS()

		ok := i.pipeline.Start(transcode.Options{
			Width:       frame.Width,
			Height:      frame.Height,
			FPS:         streamcapture.NormalizeFPS(fps, i.cfg.DefaultFPS),
			SegmentTime: i.cfg.HLSSegmentTime,
			ListSize:    i.cfg.HLSListSize,
			PruneOld:    i.cfg.HLSDeleteOld,
		})
		if !ok {
			i.logger.Warn().Msg("HLS republishing disabled for camera")
		}
	}
	if !i.pipeline.Enabled() {
		return nil
	}
	return i.pipeline
}

// LatestFrame returns a copy of the latest annotated frame, or nil.
func (i *Ingestor) LatestFrame() *models.Frame {
	i.frameMu.RLock()
	defer i.frameMu.RUnlock()
	return i.latest.Clone()
}

// LatestRawFrame returns a copy of the latest unannotated frame, or nil.
func (i *Ingestor) LatestRawFrame() *models.Frame {
	i.frameMu.RLock()
	defer i.frameMu.RUnlock()
	return i.latestRaw.Clone()
}

// Pipeline returns the camera's transcode pipeline, nil when HLS is off.
func (i *Ingestor) Pipeline() *transcode.Pipeline {
	i.pipelineMu.RLock()
	defer i.pipelineMu.RUnlock()
	return i.pipeline
}

// Status returns the externally visible camera state.
func (i *Ingestor) Status() models.CameraStatus {
	pipeline := i.Pipeline()

	i.frameMu.RLock()
	defer i.frameMu.RUnlock()
	return models.CameraStatus{
		CameraID:        i.source.ID,
		Name:            i.source.ID,
		URL:             i.source.URL,
		Online:          i.online,
		State:           i.getState().String(),
		FPS:             i.fps.FPS(),
		FramesProcessed: i.framesProcessed.Load(),
		Reconnects:      i.reconnects.Load(),
		HLSEnabled:      pipeline != nil && pipeline.Enabled(),
		LastFrameAt:     i.lastFrameAt,
		Width:           i.meta.Width,
		Height:          i.meta.Height,
	}
}

func (i *Ingestor) metaFPS() float64 {
	i.frameMu.RLock()
	defer i.frameMu.RUnlock()
	return i.meta.FPS
}

func (i *Ingestor) lastFrameTime() time.Time {
	i.frameMu.RLock()
	defer i.frameMu.RUnlock()
	return i.lastFrameAt
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"bisonguard-worker-go/internal/config"
	"bisonguard-worker-go/internal/db"
	"bisonguard-worker-go/internal/logging"
	"bisonguard-worker-go/internal/metrics"
	"bisonguard-worker-go/internal/models"
	"bisonguard-worker-go/internal/services/analytics"
	"bisonguard-worker-go/internal/services/annotator"
	"bisonguard-worker-go/internal/services/ingest"
	"bisonguard-worker-go/internal/services/messaging"
	"bisonguard-worker-go/internal/services/publisher/mjpeg"
	"bisonguard-worker-go/internal/services/push"
	"bisonguard-worker-go/internal/services/streamcapture"
	"bisonguard-worker-go/internal/services/transcode"
	"bisonguard-worker-go/internal/timeutil"
)

// ServiceContainer holds all services
type ServiceContainer struct {
	Config        *config.Config
	Metrics       *metrics.Metrics
	Store         *db.DB
	Analytics     *analytics.Aggregator
	Annotator     annotator.Annotator
	CameraManager *ingest.Manager
	MJPEG         *mjpeg.Publisher
	Push          *push.Hub
	Messaging     *messaging.Service // nil when NATS is disabled or unreachable

	logger zerolog.Logger
	cancel context.CancelFunc
}

// NewServiceContainer creates every service. Only an unusable history store
// or an empty camera list is fatal; optional integrations degrade to off.
func NewServiceContainer(cfg *config.Config) (*ServiceContainer, error) {
	logger := logging.NewServiceLogger(cfg, "container")
	m := metrics.New()
	clock := timeutil.RealClock{}

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	aggregator := analytics.NewAggregator(cfg, store, m, clock)

	var ann annotator.Annotator = annotator.Passthrough{}
	if cfg.AnnotatorEnabled {
		client, err := annotator.NewGRPCClient(cfg)
		if err != nil {
			logger.Warn().Err(err).Str("endpoint", cfg.AnnotatorGRPCURL).Msg("Annotator unavailable, frames pass through unannotated")
		} else {
			ann = client
		}
	}

	capture := streamcapture.NewService(cfg)
	deps := ingest.Deps{
		NewSource: capture.NewSource,
		Annotator: ann,
		Analytics: aggregator,
		Metrics:   m,
		Clock:     clock,
	}
	if cfg.HLSEnabled {
		deps.NewPipeline = func(cameraID string) *transcode.Pipeline {
			return transcode.NewPipeline(transcode.Config{
				CameraID:   cameraID,
				FFmpegPath: cfg.FFmpegPath,
				TmpDir:     cfg.HLSTmpDir,
				QueueSize:  cfg.HLSQueueSize,
				Metrics:    m,
				Logger:     logging.WithCamera(logging.NewServiceLogger(cfg, "transcode"), cameraID),
			})
		}
	}

	manager, err := ingest.NewManager(cfg, deps)
	if err != nil {
		ann.Close()
		store.Close()
		return nil, err
	}

	hub := push.NewHub(cfg, aggregator, manager, m, clock)
	aggregator.AddAlertSink(hub)
	aggregator.AddAlertSink(models.AlertSinkFunc(func(alert models.AlertEvent) {
		logger.Info().
			Str("camera_id", alert.CameraID).
			Str("type", string(alert.Type)).
			Str("severity", string(alert.Severity)).
			Msg(alert.Message)
	}))

	sc := &ServiceContainer{
		Config:        cfg,
		Metrics:       m,
		Store:         store,
		Analytics:     aggregator,
		Annotator:     ann,
		CameraManager: manager,
		MJPEG:         mjpeg.NewPublisher(cfg, manager),
		Push:          hub,
		logger:        logger,
	}

	if cfg.NatsEnabled {
		nc, err := messaging.NewService(cfg)
		if err != nil {
			logger.Warn().Err(err).Msg("NATS unavailable, alerts are not fanned out")
		} else {
			aggregator.AddAlertSink(nc)
			aggregator.AddDetectionSink(nc)
			if err := nc.SubscribeThresholds(aggregator); err != nil {
				logger.Warn().Err(err).Msg("Remote threshold updates disabled")
			}
			sc.Messaging = nc
		}
	}

	return sc, nil
}

// Start rebuilds the heatmap from history, then starts ingest and the
// background loops.
func (sc *ServiceContainer) Start(ctx context.Context) error {
	ctx, sc.cancel = context.WithCancel(ctx)

	if points, err := sc.Analytics.RebuildHeatmap(ctx); err != nil {
		sc.logger.Warn().Err(err).Msg("Heatmap rebuild failed, starting empty")
	} else {
		sc.logger.Info().Int("points", points).Msg("Heatmap restored")
	}

	if sc.Config.TrackStaleAfter > 0 {
		go sc.Analytics.RunEviction(ctx, sc.Config.TrackEvictInterval)
	}
	go sc.Push.Run(ctx)

	return sc.CameraManager.StartAll()
}

// Shutdown gracefully shuts down all services, producers first.
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	if sc.cancel != nil {
		sc.cancel()
	}

	var errs []error
	if sc.CameraManager != nil {
		if err := sc.CameraManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ingest shutdown: %w", err))
		}
	}

	if sc.Push != nil {
		sc.Push.Shutdown()
	}
	if sc.MJPEG != nil {
		sc.MJPEG.Shutdown()
	}

	if sc.Messaging != nil {
		if err := sc.Messaging.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("messaging shutdown: %w", err))
		}
	}

	if sc.Annotator != nil {
		if err := sc.Annotator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("annotator close: %w", err))
		}
	}

	if sc.Store != nil {
		if err := sc.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history store close: %w", err))
		}
	}

	return errors.Join(errs...)
}

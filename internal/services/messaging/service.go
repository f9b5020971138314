package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"bisonguard-worker-go/internal/config"
	"bisonguard-worker-go/internal/logging"
	"bisonguard-worker-go/internal/models"
	"bisonguard-worker-go/internal/services/analytics"
)

const (
	DetectionsSubject = "bisonguard.detections"
	ThresholdsSubject = "bisonguard.thresholds"
)

// ThresholdSetter applies a runtime alert threshold change.
type ThresholdSetter interface {
	SetThreshold(kind string, value float64) (analytics.Thresholds, error)
}

// ThresholdRequest is the payload accepted on ThresholdsSubject.
type ThresholdRequest struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

// ThresholdReply is sent back when the request carries a reply subject.
type ThresholdReply struct {
	Success    bool                  `json:"success"`
	Error      string                `json:"error,omitempty"`
	Thresholds *analytics.Thresholds `json:"thresholds,omitempty"`
}

// Service fans alerts and detection events out over NATS. Publishing is
// fire-and-forget; a disconnected client buffers and reconnects on its own.
type Service struct {
	conn   *nats.Conn
	cfg    *config.Config
	logger zerolog.Logger
	sub    *nats.Subscription
}

func NewService(cfg *config.Config) (*Service, error) {
	logger := logging.NewServiceLogger(cfg, "messaging")

	opts := []nats.Option{
		nats.Name("bisonguard-" + cfg.WorkerID),
		nats.Timeout(cfg.NatsConnectTimeout),
		nats.ReconnectWait(cfg.NatsReconnectWait),
		nats.MaxReconnects(cfg.NatsMaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrlRedacted()).Msg("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NatsURL, err)
	}

	logger.Info().Str("url", cfg.NatsURL).Msg("NATS connection established")

	return &Service{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// AlertSubject returns the per-camera alert subject.
func AlertSubject(base, cameraID string) string {
	return base + "." + subjectToken(cameraID)
}

// DetectionSubject returns the per-camera detection event subject.
func DetectionSubject(cameraID string) string {
	return DetectionsSubject + "." + subjectToken(cameraID)
}

// subjectToken replaces characters NATS treats as separators or wildcards.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

func (s *Service) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return s.conn.Publish(subject, payload)
}

// PublishAlert implements models.AlertSink.
func (s *Service) PublishAlert(alert models.AlertEvent) {
	subject := AlertSubject(s.cfg.AlertsSubject, alert.CameraID)
	if err := s.Publish(subject, alert); err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Str("alert_type", string(alert.Type)).Msg("Failed to publish alert")
	}
}

// PublishDetections implements models.DetectionSink.
func (s *Service) PublishDetections(event models.DetectionEvent) {
	subject := DetectionSubject(event.CameraID)
	if err := s.Publish(subject, event); err != nil {
		s.logger.Debug().Err(err).Str("subject", subject).Msg("Failed to publish detection event")
	}
}

// SubscribeThresholds applies threshold requests received on
// ThresholdsSubject and answers them when a reply subject is set.
func (s *Service) SubscribeThresholds(setter ThresholdSetter) error {
	sub, err := s.conn.Subscribe(ThresholdsSubject, func(msg *nats.Msg) {
		reply := HandleThresholdRequest(setter, msg.Data)
		if reply.Success {
			s.logger.Info().RawJSON("request", msg.Data).Msg("Alert threshold updated over NATS")
		} else {
			s.logger.Warn().Str("error", reply.Error).Msg("Rejected threshold update")
		}
		if msg.Reply == "" {
			return
		}
		if err := s.Publish(msg.Reply, reply); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to reply to threshold update")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", ThresholdsSubject, err)
	}
	s.sub = sub
	return nil
}

// HandleThresholdRequest decodes and applies one threshold request.
func HandleThresholdRequest(setter ThresholdSetter, data []byte) ThresholdReply {
	var req ThresholdRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ThresholdReply{Error: "invalid payload: " + err.Error()}
	}
	thresholds, err := setter.SetThreshold(req.Type, req.Value)
	if err != nil {
		return ThresholdReply{Error: err.Error()}
	}
	return ThresholdReply{Success: true, Thresholds: &thresholds}
}

func (s *Service) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

func (s *Service) Shutdown(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}

	drained := make(chan error, 1)
	go func() { drained <- s.conn.Drain() }()

	select {
	case err := <-drained:
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to drain NATS connection gracefully, closing immediately")
			s.conn.Close()
		}
	case <-ctx.Done():
		s.conn.Close()
		return ctx.Err()
	}
	return nil
}

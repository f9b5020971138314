package annotator

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"bisonguard-worker-go/internal/config"
	"bisonguard-worker-go/internal/helpers"
	"bisonguard-worker-go/internal/logging"
	"bisonguard-worker-go/internal/models"
)

const (
	ServiceName    = "bisonguard.annotator.v1.Annotator"
	AnnotateMethod = "/" + ServiceName + "/Annotate"

	maxRetryBackoff = 30 * time.Second
)

// GRPCClient calls a remote detector/tracker over gRPC. Payloads are
// google.protobuf.Struct so no generated stubs are needed on either side.
type GRPCClient struct {
	conn          *grpc.ClientConn
	health        healthpb.HealthClient
	endpoint      string
	timeout       time.Duration
	minConfidence float64
	draw          bool
	jpegQuality   int
	logger        zerolog.Logger

	mu               sync.Mutex
	lastFailTime     time.Time
	consecutiveFails int
}

// NewGRPCClient creates a lazily connecting client. The connection is not
// verified here; failures surface on the first Annotate.
func NewGRPCClient(cfg *config.Config) (*GRPCClient, error) {
	target, creds, err := parseGRPCEndpoint(cfg.AnnotatorGRPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse annotator endpoint %s: %w", cfg.AnnotatorGRPCURL, err)
	}

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create annotator client for %s: %w", target, err)
	}

	c := newGRPCClient(conn, cfg)
	c.endpoint = target
	c.logger.Info().
		Str("endpoint", target).
		Bool("use_tls", creds.Info().SecurityProtocol == "tls").
		Msg("Annotator gRPC client initialized")
	return c, nil
}

func newGRPCClient(conn *grpc.ClientConn, cfg *config.Config) *GRPCClient {
	timeout := cfg.AnnotatorTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &GRPCClient{
		conn:          conn,
		health:        healthpb.NewHealthClient(conn),
		timeout:       timeout,
		minConfidence: cfg.AnnotatorMinConfidence,
		draw:          cfg.AnnotatorDraw,
		jpegQuality:   helpers.HighQuality,
		logger:        logging.NewServiceLogger(cfg, "annotator"),
	}
}

// Annotate sends the frame as JPEG and returns the validated detections. The
// returned frame is the annotator's rendering when it sends one, otherwise the
// input with boxes drawn locally.
func (c *GRPCClient) Annotate(ctx context.Context, frame *models.Frame) (*models.Frame, []models.Detection, error) {
	if frame == nil {
		return nil, nil, nil
	}
	if c.inBackoff() {
		return frame, nil, ErrUnavailable
	}

	jpeg, err := helpers.EncodeJPEG(frame, c.jpegQuality)
	if err != nil {
		return frame, nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"frame_number": float64(frame.Number),
		"width":        float64(frame.Width),
		"height":       float64(frame.Height),
		"format":       "jpeg",
		"image":        base64.StdEncoding.EncodeToString(jpeg),
	})
	if err != nil {
		return frame, nil, fmt.Errorf("failed to build annotate request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(callCtx, AnnotateMethod, req, resp); err != nil {
		c.recordFailure()
		return frame, nil, fmt.Errorf("annotate call failed: %w", err)
	}
	c.recordSuccess()

	dets := Validate(c.logger, ParseDetections(resp), c.minConfidence)

	out := frame
	if rendered := c.decodeAnnotated(resp, frame); rendered != nil {
		out = rendered
	} else if c.draw && len(dets) > 0 {
		out = frame.Clone()
		if err := DrawDetections(out, dets); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to draw detections")
			out = frame
		}
	}
	return out, dets, nil
}

func (c *GRPCClient) decodeAnnotated(resp *structpb.Struct, in *models.Frame) *models.Frame {
	v, ok := resp.GetFields()["annotated_image"]
	if !ok || v.GetStringValue() == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(v.GetStringValue())
	if err != nil {
		c.logger.Debug().Err(err).Msg("Annotated image is not valid base64")
		return nil
	}
	frame, err := helpers.DecodeJPEG(raw)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to decode annotated image")
		return nil
	}
	frame.Number = in.Number
	frame.Timestamp = in.Timestamp
	return frame
}

// Healthy runs the standard gRPC health check against the annotator service.
func (c *GRPCClient) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// Close closes the gRPC connection
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) inBackoff() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consecutiveFails == 0 {
		return false
	}
	backoff := time.Duration(1<<min(c.consecutiveFails-1, 5)) * time.Second
	if backoff > maxRetryBackoff {
		backoff = maxRetryBackoff
	}
	return time.Since(c.lastFailTime) < backoff
}

func (c *GRPCClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFails++
	c.lastFailTime = time.Now()
	if c.consecutiveFails <= 5 {
		c.logger.Warn().
			Str("endpoint", c.endpoint).
			Int("consecutive_fails", c.consecutiveFails).
			Msg("Annotator call failed")
	}
}

func (c *GRPCClient) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consecutiveFails > 0 {
		c.logger.Info().Int("after_fails", c.consecutiveFails).Msg("Annotator recovered")
	}
	c.consecutiveFails = 0
}

// ParseDetections reads the "detections" list of an Annotate response. Each
// entry carries bbox as [x1,y1,x2,y2] or {x1,y1,x2,y2}, plus optional
// track_id, confidence and class. Entries without a bbox are skipped.
func ParseDetections(resp *structpb.Struct) []models.Detection {
	list := resp.GetFields()["detections"].GetListValue().GetValues()
	dets := make([]models.Detection, 0, len(list))

	for _, item := range list {
		fields := item.GetStructValue().GetFields()
		if fields == nil {
			continue
		}

		bbox, ok := parseBBox(fields["bbox"])
		if !ok {
			continue
		}

		d := models.Detection{
			BBox:       bbox,
			Confidence: fields["confidence"].GetNumberValue(),
			Class:      int(fields["class"].GetNumberValue()),
		}
		if tv, ok := fields["track_id"]; ok {
			if _, isNum := tv.GetKind().(*structpb.Value_NumberValue); isNum {
				d.TrackID = models.TrackID(int64(tv.GetNumberValue()))
			}
		}
		dets = append(dets, d)
	}
	return dets
}

func parseBBox(v *structpb.Value) (models.BBox, bool) {
	if v == nil {
		return models.BBox{}, false
	}
	if list := v.GetListValue(); list != nil {
		vals := list.GetValues()
		if len(vals) != 4 {
			return models.BBox{}, false
		}
		return models.BBox{
			X1: vals[0].GetNumberValue(),
			Y1: vals[1].GetNumberValue(),
			X2: vals[2].GetNumberValue(),
			Y2: vals[3].GetNumberValue(),
		}, true
	}
	if s := v.GetStructValue(); s != nil {
		f := s.GetFields()
		for _, k := range []string{"x1", "y1", "x2", "y2"} {
			if _, ok := f[k]; !ok {
				return models.BBox{}, false
			}
		}
		return models.BBox{
			X1: f["x1"].GetNumberValue(),
			Y1: f["y1"].GetNumberValue(),
			X2: f["x2"].GetNumberValue(),
			Y2: f["y2"].GetNumberValue(),
		}, true
	}
	return models.BBox{}, false
}

// parseGRPCEndpoint parses and normalizes the gRPC endpoint URL. Bare
// host:port targets use TLS on 443, 8443 and 9443 and plaintext otherwise.
func parseGRPCEndpoint(endpoint string) (string, credentials.TransportCredentials, error) {
	if !strings.Contains(endpoint, "://") {
		if strings.Contains(endpoint, ":") {
			_, portStr, _ := strings.Cut(endpoint, ":")
			if port, err := strconv.Atoi(portStr); err == nil && (port == 443 || port == 8443 || port == 9443) {
				endpoint = "https://" + endpoint
			} else {
				endpoint = "http://" + endpoint
			}
		} else {
			endpoint = "https://" + endpoint + ":443"
		}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Hostname() == "" {
		return "", nil, fmt.Errorf("endpoint has no host: %s", endpoint)
	}

	host := u.Host
	var creds credentials.TransportCredentials
	switch u.Scheme {
	case "https":
		if u.Port() == "" {
			host = u.Hostname() + ":443"
		}
		creds = credentials.NewTLS(&tls.Config{ServerName: u.Hostname()})
	case "http":
		if u.Port() == "" {
			host = u.Hostname() + ":80"
		}
		creds = insecure.NewCredentials()
	default:
		return "", nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	return host, creds, nil
}

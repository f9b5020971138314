package annotator

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"bisonguard-worker-go/internal/models"
)

// ErrUnavailable is returned while the remote annotator is backing off.
var ErrUnavailable = errors.New("annotator unavailable")

// Annotator turns a raw frame into an annotated frame plus detections.
// On failure implementations return the input frame and no detections
// alongside the error, so callers can always continue with the result.
type Annotator interface {
	Annotate(ctx context.Context, frame *models.Frame) (*models.Frame, []models.Detection, error)
	Close() error
}

// Passthrough is the no-model annotator: input frame, no detections.
type Passthrough struct{}

func (Passthrough) Annotate(_ context.Context, frame *models.Frame) (*models.Frame, []models.Detection, error) {
	return frame, nil, nil
}

func (Passthrough) Close() error { return nil }

// Validate normalizes detections received from outside the process and drops
// those below minConfidence or with unusable boxes.
func Validate(logger zerolog.Logger, dets []models.Detection, minConfidence float64) []models.Detection {
	out := make([]models.Detection, 0, len(dets))
	for _, d := range dets {
		nd, err := models.NormalizeDetection(d)
		if err != nil {
			logger.Debug().Err(err).Msg("Dropping invalid detection")
			continue
		}
		if nd.Confidence < minConfidence {
			continue
		}
		out = append(out, nd)
	}
	return out
}

package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bisonguard-worker-go/internal/config"
)

// NewServiceLogger scopes the global logger to one worker service.
func NewServiceLogger(cfg *config.Config, service string) zerolog.Logger {
	return log.With().Str("worker_id", cfg.WorkerID).Str("service", service).Logger()
}

func WithCamera(base zerolog.Logger, cameraID string) zerolog.Logger {
	return base.With().Str("camera_id", cameraID).Logger()
}

// ParseLevel falls back to info on an unknown level name.
func ParseLevel(name string) (zerolog.Level, bool) {
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel, false
	}
	return level, true
}

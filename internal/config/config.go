package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// CameraSource is a single upstream stream the worker ingests.
type CameraSource struct {
	ID  string
	URL string
}

type Config struct {
	// Application
	Version     string
	Environment string
	WorkerID    string
	Port        int
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// Cameras
	Cameras []CameraSource

	// Capture / reconnect
	ReconnectDelay      time.Duration
	ReconnectBackoffMax time.Duration
	ReconnectJitterPct  int
	DefaultFPS          float64
	FPSWindow           time.Duration
	LoopYield           time.Duration

	// HLS transcoding (ffmpeg)
	HLSEnabled     bool
	FFmpegPath     string
	HLSSegmentTime int
	HLSListSize    int
	HLSDeleteOld   bool
	HLSQueueSize   int
	HLSTmpDir      string

	// MJPEG / snapshot
	MJPEGQuality  int
	MJPEGInterval time.Duration

	// External annotator (gRPC)
	AnnotatorEnabled       bool
	AnnotatorGRPCURL       string
	AnnotatorTimeout       time.Duration
	AnnotatorMinConfidence float64
	AnnotatorDraw          bool

	// History store
	DBPath         string
	PersistTimeout time.Duration

	// Alert rules
	AlertHighActivity    int
	AlertLowConfidence   float64
	AlertRapidMovement   float64
	MovingSpeedThreshold float64

	// Aggregator bounds
	TrackHistorySize     int
	ConfidenceWindow     int
	TrackStaleAfter      time.Duration // 0 disables eviction
	TrackEvictInterval   time.Duration
	HeatmapRebuildWindow time.Duration

	// NATS (alert and detection fan-out)
	NatsEnabled        bool
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	AlertsSubject      string

	// Push channel
	PushInterval time.Duration

	// Swagger
	SwaggerHost string

	// Health Check
	HealthCheckInterval time.Duration
	FrameStaleThreshold time.Duration

	// Graceful Shutdown
	ShutdownTimeout   time.Duration
	PanicRestartDelay time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found or error loading .env file, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	return &Config{
		// Application
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		WorkerID:    getEnv("WORKER_ID", "worker-1"),
		Port:        getEnvInt("PORT", 8000),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		Cameras: ParseCameras(getEnv("CAMERAS", ""), getEnv("RTSP_URL", "")),

		ReconnectDelay:      getEnvDuration("RECONNECT_DELAY", 1*time.Second),
		ReconnectBackoffMax: getEnvDuration("RECONNECT_BACKOFF_MAX", 30*time.Second),
		ReconnectJitterPct:  getEnvInt("RECONNECT_JITTER_PCT", 20),
		DefaultFPS:          getEnvFloat("DEFAULT_FPS", 25.0),
		FPSWindow:           getEnvDuration("FPS_WINDOW", 1*time.Second),
		LoopYield:           getEnvDuration("LOOP_YIELD", 1*time.Millisecond),

		HLSEnabled:     getEnvBool("HLS_ENABLED", true),
		FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
		HLSSegmentTime: getEnvInt("HLS_SEGMENT_TIME", 2),
		HLSListSize:    getEnvInt("HLS_LIST_SIZE", 6),
		HLSDeleteOld:   getEnvBool("HLS_DELETE_OLD", true),
		HLSQueueSize:   getEnvInt("HLS_QUEUE_SIZE", 60),
		HLSTmpDir:      getEnv("HLS_TMP_DIR", ""),

		MJPEGQuality:  getEnvInt("MJPEG_QUALITY", 85),
		MJPEGInterval: getEnvDuration("MJPEG_INTERVAL", 33*time.Millisecond),

		AnnotatorEnabled:       getEnvBool("ANNOTATOR_ENABLED", false),
		AnnotatorGRPCURL:       getEnv("ANNOTATOR_GRPC_URL", "localhost:50052"),
		AnnotatorTimeout:       getEnvDuration("ANNOTATOR_TIMEOUT", 2*time.Second),
		AnnotatorMinConfidence: getEnvFloat("ANNOTATOR_MIN_CONFIDENCE", 0.3),
		AnnotatorDraw:          getEnvBool("ANNOTATOR_DRAW", true),

		DBPath:         getEnv("DB_PATH", "bisonguard_analytics.db"),
		PersistTimeout: getEnvDuration("PERSIST_TIMEOUT", 500*time.Millisecond),

		AlertHighActivity:    getEnvInt("ALERT_HIGH_ACTIVITY", 10),
		AlertLowConfidence:   getEnvFloat("ALERT_LOW_CONFIDENCE", 0.3),
		AlertRapidMovement:   getEnvFloat("ALERT_RAPID_MOVEMENT", 50),
		MovingSpeedThreshold: getEnvFloat("MOVING_SPEED_THRESHOLD", 5),

		TrackHistorySize:     getEnvInt("TRACK_HISTORY_SIZE", 1000),
		ConfidenceWindow:     getEnvInt("CONFIDENCE_WINDOW", 1000),
		TrackStaleAfter:      getEnvDuration("TRACK_STALE_AFTER", 0),
		TrackEvictInterval:   getEnvDuration("TRACK_EVICT_INTERVAL", 1*time.Minute),
		HeatmapRebuildWindow: getEnvDuration("HEATMAP_REBUILD_WINDOW", 24*time.Hour),

		NatsEnabled:        getEnvBool("NATS_ENABLED", false),
		NatsURL:            getNatsURL(),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		AlertsSubject:      getEnv("ALERTS_SUBJECT", "bisonguard.alerts"),

		PushInterval: getEnvDuration("PUSH_INTERVAL", 2*time.Second),

		SwaggerHost: getEnv("SWAGGER_HOST", "localhost:8000"),

		HealthCheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		FrameStaleThreshold: getEnvDuration("FRAME_STALE_THRESHOLD", 10*time.Second),

		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		PanicRestartDelay: getEnvDuration("PANIC_RESTART_DELAY", 2*time.Second),
	}
}

// ParseCameras reads a comma separated "id=url" list. Only the first '=' splits,
// so query strings in the URL survive. When the list is empty, fallbackURL
// becomes a single camera with id "main".
func ParseCameras(list, fallbackURL string) []CameraSource {
	var cameras []CameraSource
	seen := make(map[string]bool)

	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, url, ok := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		url = strings.TrimSpace(url)
		if !ok || id == "" || url == "" {
			log.Warn().Str("entry", entry).Msg("Ignoring malformed camera entry, expected id=url")
			continue
		}
		if seen[id] {
			log.Warn().Str("camera_id", id).Msg("Ignoring duplicate camera id")
			continue
		}
		seen[id] = true
		cameras = append(cameras, CameraSource{ID: id, URL: url})
	}

	if len(cameras) == 0 && strings.TrimSpace(fallbackURL) != "" {
		cameras = append(cameras, CameraSource{ID: "main", URL: strings.TrimSpace(fallbackURL)})
	}
	return cameras
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Helper functions for Docker environment detection
func isRunningInDocker() bool {
	if os.Getenv("DOCKER_CONTAINER") == "true" {
		return true
	}

	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	return false
}

// getNatsURL returns the appropriate NATS URL based on environment
func getNatsURL() string {
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}

	// If running in Docker, use service name; otherwise use localhost
	if isRunningInDocker() {
		return "nats://nats:4222"
	}

	return "nats://localhost:4222"
}

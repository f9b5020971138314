package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"bisonguard-worker-go/internal/api/handlers"
	"bisonguard-worker-go/internal/api/middleware"
	"bisonguard-worker-go/internal/config"
	"bisonguard-worker-go/internal/services"
)

type Server struct {
	config    *config.Config
	router    *gin.Engine
	server    *http.Server
	container *services.ServiceContainer

	healthHandler    *handlers.HealthHandler
	systemHandler    *handlers.SystemHandler
	cameraHandler    *handlers.CameraHandler
	hlsHandler       *handlers.HLSHandler
	analyticsHandler *handlers.AnalyticsHandler
	pushHandler      *handlers.PushHandler
}

// NewServer builds every service and the HTTP surface over them.
func NewServer(cfg *config.Config) (*Server, error) {
	container, err := services.NewServiceContainer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create services: %w", err)
	}

	return newServer(cfg, container), nil
}

func newServer(cfg *config.Config, container *services.ServiceContainer) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	manager := container.CameraManager
	s := &Server{
		config:           cfg,
		router:           gin.New(),
		container:        container,
		healthHandler:    handlers.NewHealthHandler(cfg, manager),
		systemHandler:    handlers.NewSystemHandler(cfg.WorkerID),
		cameraHandler:    handlers.NewCameraHandler(manager, container.MJPEG),
		hlsHandler:       handlers.NewHLSHandler(manager),
		analyticsHandler: handlers.NewAnalyticsHandler(container.Analytics, manager),
		pushHandler:      handlers.NewPushHandler(container.Push),
	}

	s.setupMiddleware()
	s.setupRoutes()
	s.setupSwagger()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.RequestContext())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
}

// Start starts the services and then serves HTTP until Shutdown.
func (s *Server) Start() error {
	if err := s.container.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	log.Info().Int("port", s.config.Port).Msg("Starting BisonGuard worker API")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then shuts the services down.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Stopping BisonGuard worker API")

	var errs []error
	if err := s.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.container.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

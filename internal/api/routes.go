package api

import "github.com/gin-gonic/gin"

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.WorkerInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)
	s.router.GET("/metrics", gin.WrapH(s.container.Metrics.Handler()))
	s.router.GET("/ws", s.pushHandler.Connect)

	system := s.router.Group("/system")
	{
		system.GET("/stats", s.systemHandler.GetStats)
	}

	s.router.GET("/video_feed/:camera_id", s.cameraHandler.VideoFeed)
	s.router.GET("/raw_feed/:camera_id", s.cameraHandler.RawFeed)

	hls := s.router.Group("/hls/:camera_id")
	{
		hls.GET("/index.m3u8", s.hlsHandler.GetManifest)
		hls.GET("/segments/:name", s.hlsHandler.GetSegment)
	}

	api := s.router.Group("/api")
	{
		api.GET("/cameras/status", s.cameraHandler.GetCamerasStatus)
		api.GET("/camera/:camera_id/snapshot", s.cameraHandler.GetSnapshot)

		analytics := api.Group("/analytics")
		{
			analytics.GET("/stats", s.analyticsHandler.GetStats)
			analytics.GET("/historical", s.analyticsHandler.GetHistorical)
			analytics.GET("/heatmap/:camera_id", s.analyticsHandler.GetHeatmap)
			analytics.GET("/tracking_paths", s.analyticsHandler.GetTrackingPaths)
			analytics.GET("/report", s.analyticsHandler.GetReport)
			analytics.GET("/thresholds", s.analyticsHandler.GetThresholds)
			analytics.PUT("/thresholds", s.analyticsHandler.UpdateThreshold)
		}
	}
}

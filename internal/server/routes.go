package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Realtime endpoint
	s.echo.GET("/ws", s.handleWebSocket)

	// Ingestion and query API
	s.echo.POST("/api/alerts", s.handleCreateAlert)
	s.echo.GET("/api/alerts", s.handleListAlerts)
	s.echo.GET("/api/alerts/:alert_id", s.handleGetAlert)
	s.echo.POST("/api/metrics", s.handleIngestMetric)
}

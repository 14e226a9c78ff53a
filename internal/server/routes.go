package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Device-facing surface. Trackers authenticate by device token inside
	// the payload; the websocket handshake carries the identity token.
	s.echo.POST("/api/reports", s.handleReport)
	s.echo.GET("/ws", s.handleWebSocket)

	// Operator/administrative surface.
	api := s.echo.Group("/api", s.requireIdentity)
	api.POST("/devices", s.handleRegisterDevice)
	api.POST("/devices/:id/claim", s.handleClaimDevice)
	api.POST("/devices/:id/unassign", s.handleUnassignDevice)
	api.GET("/devices/:id/commands", s.handleListCommands)
	api.GET("/devices/:id/location", s.handleGetLatestLocation)
	api.GET("/devices/:id/history", s.handleListHistory)
	api.POST("/commands", s.handleCreateCommand)
	api.POST("/commands/bulk", s.handleBulkCommands)
	api.POST("/commands/:id/ack", s.handleAcknowledge)
}

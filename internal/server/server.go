// Package server exposes the HTTP and websocket surface: device report
// ingestion, the session handshake, and the administrative API.
package server

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/intern-cubit/trackerApp-sub002/internal/auth"
	"github.com/intern-cubit/trackerApp-sub002/internal/command"
	"github.com/intern-cubit/trackerApp-sub002/internal/config"
	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
	"github.com/intern-cubit/trackerApp-sub002/internal/identity"
	"github.com/intern-cubit/trackerApp-sub002/internal/ingest"
	"github.com/intern-cubit/trackerApp-sub002/internal/registry"
)

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	resolver  *identity.Resolver
	commands  *command.Manager
	pipeline  *ingest.Pipeline
	registry  *registry.Registry
	locations domain.LocationRepository
	verifier  *auth.Verifier
	limits    *ConnectionLimits

	pool *pgxpool.Pool
	rdb  *goredis.Client
}

func NewServer(cfg *config.Config, resolver *identity.Resolver, commands *command.Manager, pipeline *ingest.Pipeline, reg *registry.Registry, locations domain.LocationRepository, verifier *auth.Verifier, pool *pgxpool.Pool, rdb *goredis.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:      e,
		config:    cfg,
		resolver:  resolver,
		commands:  commands,
		pipeline:  pipeline,
		registry:  reg,
		locations: locations,
		verifier:  verifier,
		limits:    NewConnectionLimits(cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectionsPerSec, cfg.ConnectionBurst),
		pool:      pool,
		rdb:       rdb,
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(":" + s.config.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// requireIdentity parses and verifies the bearer token, stashing the
// authenticated identity on the echo context.
func (s *Server) requireIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := s.identityFromRequest(c)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid identity token")
		}
		c.Set("identity", identity)
		return next(c)
	}
}

func currentIdentity(c echo.Context) *auth.Identity {
	id, _ := c.Get("identity").(*auth.Identity)
	return id
}

// Package server exposes the HTTP surface: the WebSocket endpoint feeding
// the realtime plane, the REST ingestion API, and the observability
// endpoints.
package server

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/citysense/citysense/internal/config"
	"github.com/citysense/citysense/internal/domain"
	"github.com/citysense/citysense/internal/realtime"
	"github.com/citysense/citysense/internal/redis"
)

// pinger is the slice of a storage client the readiness probe needs.
type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo        *echo.Echo
	config      *config.Config
	registry    *realtime.Registry
	broadcaster *realtime.Broadcaster
	dispatcher  *realtime.Dispatcher
	publisher   *realtime.Publisher
	identity    domain.IdentityResolver
	alerts      domain.AlertRepository
	sensors     domain.SensorRepository
	metrics     domain.MetricRepository
	pool        pinger
	redisClient pinger
	clock       clockwork.Clock
}

// Deps bundles the collaborators the server needs. RedisClient may be nil
// for single-instance deployments.
type Deps struct {
	Registry    *realtime.Registry
	Broadcaster *realtime.Broadcaster
	Dispatcher  *realtime.Dispatcher
	Publisher   *realtime.Publisher
	Identity    domain.IdentityResolver
	Alerts      domain.AlertRepository
	Sensors     domain.SensorRepository
	Metrics     domain.MetricRepository
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Clock       clockwork.Clock
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	srv := &Server{
		echo:        e,
		config:      cfg,
		registry:    deps.Registry,
		broadcaster: deps.Broadcaster,
		dispatcher:  deps.Dispatcher,
		publisher:   deps.Publisher,
		identity:    deps.Identity,
		alerts:      deps.Alerts,
		sensors:     deps.Sensors,
		metrics:     deps.Metrics,
		clock:       deps.Clock,
	}
	if deps.Pool != nil {
		srv.pool = deps.Pool
	}
	if deps.RedisClient != nil {
		srv.redisClient = deps.RedisClient
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

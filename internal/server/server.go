package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/congo-pay/balancecore/internal/config"
	"github.com/congo-pay/balancecore/internal/infra"
	"github.com/congo-pay/balancecore/internal/middleware"
	"github.com/congo-pay/balancecore/internal/routes"
)

// Server wraps the Fiber application and the wired core.
type Server struct {
	app  *fiber.App
	cfg  config.Config
	core *routes.Core
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, backends *infra.Backends, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          middleware.ErrorHandler(logger),
		DisableStartupMessage: true,
	})

	deps := routes.Deps{Cfg: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	if backends != nil {
		deps.DB, deps.Cache = backends.DB, backends.Cache
	}
	core, err := routes.Setup(app, deps)
	if err != nil {
		return nil, err
	}
	return &Server{app: app, cfg: cfg, core: core}, nil
}

// Core returns the wired services.
func (s *Server) Core() *routes.Core { return s.core }

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

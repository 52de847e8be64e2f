// Package server assembles the HTTP application and runs it, optionally
// rebuilding it when the app dir changes.
package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"vimani/docs"
	"vimani/internal/archivist"
	"vimani/internal/config"
	"vimani/internal/executor"
	handlers "vimani/internal/http/handler"
	"vimani/internal/http/middleware"
	"vimani/internal/orchestrator"
	"vimani/internal/registry"
	"vimani/internal/validation"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP application and the dependencies it owns.
type Server struct {
	cfg *config.AppConfig
	log zerolog.Logger

	app      *fiber.App
	svc      *orchestrator.Service
	archive  archivist.Archivist
	registry *prometheus.Registry

	// cancels WebSocket sessions and their runs
	cancel context.CancelFunc
}

// New builds the application without listening.
func New(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (*Server, error) {
	arc, err := archivist.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init archivist: %w", err)
	}

	s, err := build(cfg, arc, log)
	if err != nil {
		_ = arc.Close()
		return nil, err
	}
	return s, nil
}

func build(cfg *config.AppConfig, arc archivist.Archivist, log zerolog.Logger) (*Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics, err := orchestrator.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register run metrics: %w", err)
	}
	promMw, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}

	validator, err := validation.NewPlanValidator(cfg.Orchestrator.MaxPlanSteps)
	if err != nil {
		return nil, fmt.Errorf("init plan validator: %w", err)
	}

	svc := orchestrator.New(cfg.Orchestrator, orchestrator.Options{
		Registry:  registry.NewLoader(cfg.AppDir),
		Executor:  executor.NewSimulated(cfg.Executor.StepDelay),
		Validator: validator,
		Archivist: arc,
		Metrics:   metrics,
		Planner:   cfg.Planner,
		Log:       log,
	})

	app := fiber.New(fiber.Config{
		AppName:               "vimani",
		DisableStartupMessage: true,
		ErrorHandler:          handlers.ErrorHandler(log),
	})

	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(log))
	app.Use(promMw.Handler())
	app.Use(otelfiber.Middleware(otelfiber.WithNext(func(c *fiber.Ctx) bool {
		return c.Path() == "/metrics" || c.Path() == "/ws"
	})))

	wsCtx, cancel := context.WithCancel(context.Background())
	handlers.RegisterRoutes(app, handlers.Deps{
		Context:      wsCtx,
		Orchestrator: svc,
		Gatherer:     reg,
		Log:          log,
	})

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	return &Server{
		cfg:      cfg,
		log:      log.With().Str("component", "server").Logger(),
		app:      app,
		svc:      svc,
		archive:  arc,
		registry: reg,
		cancel:   cancel,
	}, nil
}

// App is the fiber application, for tests and tooling.
func (s *Server) App() *fiber.App { return s.app }

// Service is the orchestrator behind the routes.
func (s *Server) Service() *orchestrator.Service { return s.svc }

// Listen binds the configured address and serves until ctx is done.
func (s *Server) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. Active runs are cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()

	s.log.Info().
		Str("event", "server_started").
		Str("addr", ln.Addr().String()).
		Str("app_dir", s.cfg.AppDir).
		Str("planner", s.cfg.Planner.Mode).
		Str("archivist", s.cfg.Archivist.Backend).
		Msg("listening")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Str("event", "server_stopping").Msg("shutting down")
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	s.log.Info().Str("event", "server_stopped").Msg("server stopped")
	return nil
}

// Close cancels live sessions and releases the archive backend.
func (s *Server) Close() error {
	s.cancel()
	return s.archive.Close()
}

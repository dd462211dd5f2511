// Package rest serves the live status of a running test: a JSON status
// document and a Prometheus exposition of every aggregated series.
package rest

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"yqhp/load-probe/internal/execution"
	"yqhp/load-probe/internal/metrics/engine"
	"yqhp/load-probe/internal/threshold"
	"yqhp/load-probe/pkg/metrics"
)

// Source is the running test the server reports on. *runner.Runner
// implements it.
type Source interface {
	ID() string
	PlanName() string
	Elapsed() time.Duration
	Snapshot() *metrics.Snapshot
	LatestThresholds() *threshold.Report
	ScenarioStates() map[string]*execution.ModeState
	Timeline() []*engine.Point
}

// Server represents the status server.
type Server struct {
	app      *fiber.App
	source   Source
	config   *Config
	registry *prometheus.Registry
	log      *zap.Logger
}

// Config holds the configuration for the status server.
type Config struct {
	// Address is the address to listen on (e.g., "127.0.0.1:6565").
	Address string `yaml:"address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      "127.0.0.1:6565",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewServer creates a status server for source.
func NewServer(source Source, config *Config, log *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		ErrorHandler:          customErrorHandler,
		AppName:               "load-probe status",
		DisableStartupMessage: true,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		NewSnapshotCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server := &Server{
		app:      app,
		source:   source,
		config:   config,
		registry: registry,
		log:      log,
	}

	server.app.Use(fiberrecover.New(fiberrecover.Config{EnableStackTrace: true}))
	server.setupRoutes()
	return server
}

// setupRoutes configures the routes.
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)
	s.app.Get("/status", s.getStatus)
	s.app.Get("/timeline", s.getTimeline)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(s.log),
	})))
}

// StartWithContext serves until ctx is done, then shuts down.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.app.Listen(s.config.Address)
	}()
	s.log.Info("status server listening", zap.String("address", s.config.Address))

	select {
	case <-ctx.Done():
		return s.ShutdownWithTimeout(5 * time.Second)
	case err := <-errCh:
		return err
	}
}

// ShutdownWithTimeout gracefully shuts down the server with a timeout.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors returned by handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}

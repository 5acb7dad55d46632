package apis

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/tphan267/arqut-relay/pkg/api"
	"github.com/tphan267/arqut-relay/pkg/providers"
)

// ApiServer is the admin HTTP server using Fiber
type ApiServer struct {
	app       *fiber.App
	providers *providers.Registry
	version   string
}

// New creates a new admin server with the given service registry
func New(p *providers.Registry, version string) *ApiServer {
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	s := &ApiServer{
		app:       app,
		providers: p,
		version:   version,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *ApiServer) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "${time} [API] ${status} ${method} ${path} ${latency}\n",
	}))
}

func (s *ApiServer) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
}

// App returns the underlying Fiber app for route registration
func (s *ApiServer) App() *fiber.App {
	return s.app
}

// Start starts the HTTP server
func (s *ApiServer) Start(addr string) error {
	s.providers.Logger().Info("Admin API listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *ApiServer) Shutdown(ctx context.Context) error {
	s.providers.Logger().Info("Admin API shutdown requested")
	return s.app.ShutdownWithContext(ctx)
}

// handleHealth handles health checks
func (s *ApiServer) handleHealth(c *fiber.Ctx) error {
	data := fiber.Map{
		"status":  "healthy",
		"version": s.version,
	}
	if relay, err := s.providers.GetRelay(); err == nil {
		data["connections"] = relay.ConnectionCount()
	}
	return api.SuccessResp(c, data)
}

// customErrorHandler handles errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return api.ErrorResp(c, api.ApiError{
		Status:  code,
		Message: err.Error(),
	})
}

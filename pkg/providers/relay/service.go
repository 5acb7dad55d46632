package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tphan267/arqut-relay/pkg/api"
	"github.com/tphan267/arqut-relay/pkg/logger"
	"github.com/tphan267/arqut-relay/pkg/providers"
	sigrelay "github.com/tphan267/arqut-relay/pkg/relay"
	"github.com/tphan267/arqut-relay/pkg/utils"
)

// Service runs the WebSocket signaling relay on its own HTTP listener
type Service struct {
	registry   *providers.Registry
	logger     *logger.Logger
	server     *sigrelay.Server
	httpServer *http.Server
	listener   net.Listener
	listenAddr string
	path       string

	mu    sync.RWMutex
	addr  string
	ready chan struct{}
}

// NewService creates a new relay service instance
func NewService() *Service {
	return &Service{
		ready: make(chan struct{}),
	}
}

// Name returns the service name
func (s *Service) Name() string {
	return "relay"
}

// Initialize builds the relay server from the registry's configuration and
// binds its listener, so a port that is already taken fails startup
func (s *Service) Initialize(ctx context.Context, registry *providers.Registry) error {
	cfg := registry.Config()
	if cfg == nil {
		return fmt.Errorf("relay configuration is missing")
	}

	s.registry = registry
	s.logger = registry.Logger().WithPrefix("Relay")
	s.listenAddr = cfg.RelayAddr
	s.path = cfg.WSPath
	if s.path == "" {
		s.path = "/"
	}

	s.server = sigrelay.NewServer(sigrelay.Options{
		MaxConnections:    cfg.MaxConnections,
		WriteTimeout:      cfg.WriteTimeout,
		PingInterval:      cfg.PingInterval,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessagesPerSecond: cfg.MessagesPerSecond,
		SendQueueSize:     cfg.SendQueueSize,
	}, s.logger)

	mux := http.NewServeMux()
	mux.Handle(s.path, s.server)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddr, err)
	}
	s.listener = ln

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("Initialized (max connections: %d, path: %s)", cfg.MaxConnections, s.path)
	return nil
}

func (s *Service) IsRunnable() bool {
	return true
}

// Start serves the bound listener until Stop
func (s *Service) Start(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("relay service is not initialized")
	}

	for _, url := range utils.ListenURLs(s.Addr(), s.path) {
		s.logger.Info("Signaling relay listening on %s", url)
	}

	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop refuses new connections, then closes every live one
func (s *Service) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	err := s.httpServer.Shutdown(ctx)
	// Shutdown only closes listeners that Serve was given
	_ = s.listener.Close()
	s.server.Close()
	s.logger.Info("Stopped")
	return err
}

// Ready is closed once the listener is bound
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address
func (s *Service) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *Service) Connections() []sigrelay.ConnectionInfo { return s.server.Connections() }
func (s *Service) ConnectionCount() int                   { return s.server.ConnectionCount() }
func (s *Service) Events() <-chan sigrelay.Event          { return s.server.Events() }
func (s *Service) DroppedEvents() uint64                  { return s.server.DroppedEvents() }

// RegisterAPIRoutes registers connection inspection routes
func (s *Service) RegisterAPIRoutes(app *fiber.App) error {
	connAPI := app.Group("/api/connections")

	connAPI.Get("/", s.handleGetConnections)
	connAPI.Get("/:id", s.handleGetConnection)
	return nil
}

// handleGetConnections handles GET /api/connections
func (s *Service) handleGetConnections(c *fiber.Ctx) error {
	conns := s.Connections()
	return api.ListResp(c, conns, len(conns), len(conns))
}

// handleGetConnection handles GET /api/connections/:id
func (s *Service) handleGetConnection(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return api.ErrorBadRequestResp(c, "Invalid connection id")
	}

	for _, info := range s.Connections() {
		if uint64(info.ID) == id {
			return api.SuccessResp(c, info)
		}
	}
	return api.ErrorNotFoundResp(c, "Connection not found")
}

// Verify that Service implements both Service and RelayProvider interfaces
var _ providers.Service = (*Service)(nil)
var _ providers.RelayProvider = (*Service)(nil)

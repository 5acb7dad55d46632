package relay

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/tphan267/arqut-relay/pkg/api"
	"github.com/tphan267/arqut-relay/pkg/config"
	"github.com/tphan267/arqut-relay/pkg/logger"
	"github.com/tphan267/arqut-relay/pkg/providers"
)

// setupTestRelay starts a relay service on a random loopback port
func setupTestRelay(t *testing.T) (*Service, *fiber.App) {
	cfg := &config.Config{
		RelayAddr: "127.0.0.1:0",
		WSPath:    "/ws",
	}
	registry := providers.NewRegistry(nil, logger.New(io.Discard, "TEST", logger.DebugLevel), cfg)

	svc := NewService()
	if err := registry.Register(svc); err != nil {
		t.Fatalf("Failed to register relay service: %v", err)
	}
	if err := registry.InitializeAll(context.Background()); err != nil {
		t.Fatalf("Failed to initialize relay service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := registry.StartRunnable(ctx); err != nil {
		t.Fatalf("Failed to start relay service: %v", err)
	}
	select {
	case <-svc.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for relay listener")
	}

	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		registry.Shutdown(shutdownCtx)
		cancel()
	})

	app := fiber.New()
	if err := registry.RegisterAllRoutes(app); err != nil {
		t.Fatalf("Failed to register routes: %v", err)
	}
	return svc, app
}

func dial(t *testing.T, svc *Service) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+svc.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to dial relay: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestServiceRelaysOnConfiguredPath(t *testing.T) {
	svc, _ := setupTestRelay(t)
	a := dial(t, svc)
	b := dial(t, svc)

	deadline := time.Now().Add(2 * time.Second)
	for svc.ConnectionCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	frame := `{"sessionId":"A","sdp":{"type":"offer","sdp":"v=0"}}`
	if err := a.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	_ = b.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := b.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read relayed frame: %v", err)
	}
	if string(data) != frame {
		t.Errorf("Expected %s, got %s", frame, data)
	}
}

func TestGetConnections(t *testing.T) {
	svc, app := setupTestRelay(t)
	dial(t, svc)

	deadline := time.Now().Add(2 * time.Second)
	for svc.ConnectionCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/api/connections", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var response struct {
		api.ApiResponse
		Data []struct {
			ID    uint64 `json:"id"`
			State string `json:"state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(response.Data) != 1 || response.Data[0].State != "OPEN" {
		t.Errorf("Expected one OPEN connection, got %s", body)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/api/connections/1", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected status 200 for connection 1, got %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest("GET", "/api/connections/99", nil))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest("GET", "/api/connections/abc", nil))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestInitializeWithoutConfig(t *testing.T) {
	registry := providers.NewRegistry(nil, logger.New(io.Discard, "TEST", logger.InfoLevel), nil)
	if err := NewService().Initialize(context.Background(), registry); err == nil {
		t.Error("Expected error without configuration")
	}
}

func TestInitializeFailsWhenPortTaken(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	defer taken.Close()

	cfg := &config.Config{RelayAddr: taken.Addr().String(), WSPath: "/ws"}
	registry := providers.NewRegistry(nil, logger.New(io.Discard, "TEST", logger.InfoLevel), cfg)
	svc := NewService()
	if err := registry.Register(svc); err != nil {
		t.Fatalf("Failed to register relay service: %v", err)
	}

	if err := registry.InitializeAll(context.Background()); err == nil {
		t.Fatal("Expected InitializeAll to fail when the relay port is in use")
	}
	select {
	case <-svc.Ready():
		t.Error("Expected Ready to stay open after a failed bind")
	default:
	}
}

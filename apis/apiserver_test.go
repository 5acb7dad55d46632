package apis

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/tphan267/arqut-relay/pkg/api"
	"github.com/tphan267/arqut-relay/pkg/config"
	applogger "github.com/tphan267/arqut-relay/pkg/logger"
	"github.com/tphan267/arqut-relay/pkg/providers"
)

func setupTestServer(t *testing.T) *ApiServer {
	registry := providers.NewRegistry(nil, applogger.New(io.Discard, "TEST", applogger.InfoLevel), &config.Config{})
	return New(registry, "test")
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var response api.ApiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	data, ok := response.Data.(map[string]any)
	if !ok || data["status"] != "healthy" || data["version"] != "test" {
		t.Errorf("Unexpected health response: %s", body)
	}
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	s := setupTestServer(t)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/nope", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var response api.ApiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.Success || response.Error == nil || response.Error.Status != fiber.StatusNotFound {
		t.Errorf("Expected a 404 error envelope, got %s", body)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	s := setupTestServer(t)
	s.App().Get("/panic", func(c *fiber.Ctx) error { panic("boom") })

	resp, err := s.App().Test(httptest.NewRequest("GET", "/panic", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", resp.StatusCode)
	}
}

package api

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func decode(t *testing.T, app *fiber.App, path string) (int, ApiResponse) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var out ApiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("Failed to decode %s: %v", body, err)
	}
	return resp.StatusCode, out
}

func TestResponses(t *testing.T) {
	app := fiber.New()
	app.Get("/ok", func(c *fiber.Ctx) error { return SuccessResp(c, Map{"status": "healthy"}) })
	app.Get("/list", func(c *fiber.Ctx) error { return ListResp(c, []int{1, 2}, 10, 2) })
	app.Get("/missing", func(c *fiber.Ctx) error { return ErrorNotFoundResp(c, "no such connection") })
	app.Get("/bad", func(c *fiber.Ctx) error { return ErrorBadRequestResp(c) })

	status, resp := decode(t, app, "/ok")
	if status != fiber.StatusOK || !resp.Success {
		t.Errorf("Expected success, got %d %+v", status, resp)
	}

	_, resp = decode(t, app, "/list")
	if resp.Meta == nil || resp.Meta.Pagination == nil || resp.Meta.Pagination.Total != 2 {
		t.Errorf("Expected pagination meta, got %+v", resp.Meta)
	}

	status, resp = decode(t, app, "/missing")
	if status != fiber.StatusNotFound || resp.Success {
		t.Errorf("Expected 404 failure, got %d %+v", status, resp)
	}
	if resp.Error == nil || resp.Error.Code != "not_found" || resp.Error.Message != "no such connection" {
		t.Errorf("Unexpected error body: %+v", resp.Error)
	}

	status, resp = decode(t, app, "/bad")
	if status != fiber.StatusBadRequest || resp.Error.Message != "API Error" || resp.Error.Code != "bad_request" {
		t.Errorf("Unexpected bad request response: %d %+v", status, resp.Error)
	}
}

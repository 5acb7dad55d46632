package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// SuccessResp sends a successful API response
func SuccessResp(c *fiber.Ctx, data any, meta ...ApiResponseMeta) error {
	resp := ApiResponse{
		Success: true,
		Data:    data,
	}
	if len(meta) > 0 {
		resp.Meta = &meta[0]
	}
	return c.Status(fiber.StatusOK).JSON(&resp)
}

// ListResp sends a list with pagination metadata
func ListResp(c *fiber.Ctx, data any, limit, total int) error {
	now := time.Now().UTC()
	return SuccessResp(c, data, ApiResponseMeta{
		Timestamp:  &now,
		Pagination: &Pagination{Limit: limit, Total: total},
	})
}

// ErrorResp sends an error API response
func ErrorResp(c *fiber.Ctx, err ApiError) error {
	if err.Status == 0 {
		err.Status = fiber.StatusBadRequest
	}
	if err.Code == "" {
		err.Code = statusCode(err.Status)
	}
	return c.Status(err.Status).JSON(&ApiResponse{
		Success: false,
		Error:   &err,
	})
}

// ErrorCodeResp sends an error response with a specific status code
func ErrorCodeResp(c *fiber.Ctx, status int, message ...string) error {
	msg := "API Error"
	if len(message) > 0 {
		msg = message[0]
	}
	return ErrorResp(c, ApiError{
		Status:  status,
		Message: msg,
	})
}

// ErrorNotFoundResp sends a 404 Not Found error response
func ErrorNotFoundResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusNotFound, message...)
}

// ErrorBadRequestResp sends a 400 Bad Request error response
func ErrorBadRequestResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusBadRequest, message...)
}

// ErrorInternalServerErrorResp sends a 500 Internal Server Error response
func ErrorInternalServerErrorResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusInternalServerError, message...)
}

// statusCode turns 404 into "not_found"
func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}

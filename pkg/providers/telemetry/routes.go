package telemetry

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/tphan267/arqut-relay/pkg/api"
)

const maxEventsLimit = 1000

// RegisterAPIRoutes registers telemetry routes
func (s *Service) RegisterAPIRoutes(app *fiber.App) error {
	app.Get("/api/stats", s.handleGetStats)
	app.Get("/api/events", s.handleGetEvents)
	app.Delete("/api/events", s.handleClearEvents)
	return nil
}

// handleGetStats handles GET /api/stats
func (s *Service) handleGetStats(c *fiber.Ctx) error {
	return api.SuccessResp(c, s.Stats())
}

// handleGetEvents handles GET /api/events?limit=N&kind=K and
// GET /api/events?connection=ID
func (s *Service) handleGetEvents(c *fiber.Ctx) error {
	if conn := c.Query("connection"); conn != "" {
		id, err := strconv.ParseUint(conn, 10, 64)
		if err != nil {
			return api.ErrorBadRequestResp(c, "Invalid connection id")
		}
		events, err := s.ConnectionEvents(id)
		if err != nil {
			s.logger.Error("Error listing events of connection %d: %v", id, err)
			return api.ErrorInternalServerErrorResp(c, "Failed to list events")
		}
		return api.ListResp(c, events, len(events), len(events))
	}

	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > maxEventsLimit {
		return api.ErrorBadRequestResp(c, "limit must be between 1 and 1000")
	}

	events, err := s.RecentEvents(limit, c.Query("kind"))
	if err != nil {
		s.logger.Error("Error listing events: %v", err)
		return api.ErrorInternalServerErrorResp(c, "Failed to list events")
	}
	return api.ListResp(c, events, limit, len(events))
}

// handleClearEvents handles DELETE /api/events
func (s *Service) handleClearEvents(c *fiber.Ctx) error {
	if err := s.ClearEvents(); err != nil {
		s.logger.Error("Error clearing events: %v", err)
		return api.ErrorInternalServerErrorResp(c, "Failed to clear events")
	}
	return api.SuccessResp(c, api.Map{"cleared": true})
}

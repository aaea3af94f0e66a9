package httpapi

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker is implemented by the pipeline via its Health() method.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// newHealthHandler checks vector store connectivity and returns 503 when it is down.
func newHealthHandler(store HealthChecker) fiber.Handler {
	return func(c fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
		defer cancel()

		response := HealthResponse{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		if err := store.Health(ctx); err != nil {
			response.Status = "unhealthy"
			response.Store = "disconnected"
			return c.Status(fiber.StatusServiceUnavailable).JSON(response)
		}

		response.Status = "healthy"
		response.Store = "connected"
		return c.JSON(response)
	}
}

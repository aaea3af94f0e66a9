package httpapi

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/bull/pdf-rag/internal/pipeline"
)

// Handler serves the /api/v1 routes.
type Handler struct {
	pipeline Pipeline
}

// NewHandler creates a new API handler.
func NewHandler(p Pipeline) *Handler {
	return &Handler{pipeline: p}
}

// Register sets up the API routes.
func (h *Handler) Register(router fiber.Router) {
	router.Post("/ingest", h.Ingest)
	router.Post("/query", h.Query)
	router.Get("/collection", h.Info)
	router.Delete("/sources", h.DeleteSource)
}

// Ingest runs the ingestion workflow. A run_id query parameter resumes a
// previous run.
func (h *Handler) Ingest(c fiber.Ctx) error {
	var body pipeline.IngestRequest
	if err := c.Bind().JSON(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	runID := c.Query("run_id")
	if runID == "" {
		runID = uuid.NewString()
	}

	result, err := h.pipeline.Ingest(c.Context(), runID, body)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"ingested": result.Ingested,
		"run_id":   runID,
	})
}

// Query answers a question from the ingested documents.
func (h *Handler) Query(c fiber.Ctx) error {
	var body pipeline.QueryRequest
	if err := c.Bind().JSON(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.pipeline.Query(c.Context(), "", body)
	if err != nil {
		return err
	}
	if result.Sources == nil {
		result.Sources = []string{}
	}

	return c.JSON(result)
}

// Info reports the collection name, dimension and point count.
func (h *Handler) Info(c fiber.Ctx) error {
	info, err := h.pipeline.Info(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(info)
}

// DeleteSource removes every chunk of ?source=.
func (h *Handler) DeleteSource(c fiber.Ctx) error {
	source := c.Query("source")
	if err := h.pipeline.DeleteSource(c.Context(), source); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

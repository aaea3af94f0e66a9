// Package httpapi serves the ingestion and query workflows over HTTP with fiber.
package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"

	mcpserver "github.com/bull/pdf-rag/internal/mcp"
	"github.com/bull/pdf-rag/internal/pipeline"
	"github.com/bull/pdf-rag/internal/ragerr"
)

// Pipeline is the subset of *pipeline.Pipeline the HTTP handlers call.
type Pipeline interface {
	Ingest(ctx context.Context, runID string, req pipeline.IngestRequest) (pipeline.IngestResult, error)
	Query(ctx context.Context, runID string, req pipeline.QueryRequest) (pipeline.QueryResult, error)
	Info(ctx context.Context) (pipeline.CollectionInfo, error)
	DeleteSource(ctx context.Context, source string) error
	Health(ctx context.Context) error
}

// Config holds the server's dependencies.
type Config struct {
	Pipeline Pipeline
	// MCPServer, when set, is served at /mcp.
	MCPServer *mcpserver.Server
	AppName   string
	// DisableRequestLog turns off the access log (tests).
	DisableRequestLog bool
}

// New builds the fiber app with middleware and routes registered.
func New(cfg Config) *fiber.App {
	appName := cfg.AppName
	if appName == "" {
		appName = "pdf-rag"
	}

	app := fiber.New(fiber.Config{
		AppName:      appName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // ingestion of large PDFs runs inside the request
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	if !cfg.DisableRequestLog {
		app.Use(fiberlogger.New())
	}

	app.Get("/", landingHandler)
	app.Get("/health", newHealthHandler(cfg.Pipeline))

	NewHandler(cfg.Pipeline).Register(app.Group("/api/v1"))

	if cfg.MCPServer != nil {
		// The adaptor buffers whole responses, so no session can hold an
		// event stream open. Every request gets a JSON reply instead.
		app.All("/mcp", adaptor.HTTPHandler(mcpserver.NewHTTPHandler(cfg.MCPServer, &mcpserver.HTTPHandlerOptions{
			Stateless:    true,
			JSONResponse: true,
		})))
	}

	return app
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, ragerr.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, ragerr.ErrExtraction):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, ragerr.ErrEmbedding), errors.Is(err, ragerr.ErrGeneration), errors.Is(err, ragerr.ErrStore):
		return fiber.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(c fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error":      err.Error(),
		"request_id": requestid.FromContext(c),
	})
}

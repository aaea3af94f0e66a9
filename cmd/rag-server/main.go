// Package main provides the HTTP and MCP server entry point.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"

	"github.com/bull/pdf-rag/internal/app"
	"github.com/bull/pdf-rag/internal/config"
	"github.com/bull/pdf-rag/internal/httpapi"
	mcpserver "github.com/bull/pdf-rag/internal/mcp"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, config.Load()); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := app.Build(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()

	server := mcpserver.NewServer(&mcpserver.Config{Pipeline: a.Pipeline})

	web := httpapi.New(httpapi.Config{
		Pipeline:  a.Pipeline,
		MCPServer: server,
		// In stdio mode stdout carries the MCP stream.
		DisableRequestLog: !cfg.ServerMode,
	})

	addr := "0.0.0.0:" + cfg.Port
	listenCfg := fiber.ListenConfig{
		GracefulContext:       ctx,
		DisableStartupMessage: true,
	}

	if cfg.ServerMode {
		// HTTP mode: REST API, MCP over HTTP for remote clients, health
		slog.Info("Starting HTTP server", "addr", addr, "api", "/api/v1", "mcp", "/mcp", "health", "/health")
		return web.Listen(addr, listenCfg)
	}

	// Stdio mode: run MCP server over stdin/stdout for local clients.
	// The HTTP API still runs in the background.
	go func() {
		slog.Info("Starting HTTP server", "addr", addr)
		if err := web.Listen(addr, listenCfg); err != nil {
			slog.Warn("HTTP server error", "error", err)
		}
	}()

	slog.Info("Starting pdf-rag MCP server (stdio mode)")
	return server.Run(ctx)
}

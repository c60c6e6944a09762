package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/madebyisaacr/codesync/syncer"
)

// Serve runs the control surface as a streamable MCP HTTP server on
// addr until ctx is cancelled. The listener is loopback-oriented and
// carries no authentication of its own; anything that can reach it can
// drive the sync engine.
func Serve(ctx context.Context, addr, version string, s *syncer.Scheduler, logger *slog.Logger) error {
	ctlLogger := logger.With(slog.String("service", "control"))

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "codesync-control", Version: version},
		nil,
	)
	RegisterTools(mcpServer, s)

	handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctlLogger.Info("starting control server", slog.String("listen", addr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		ctlLogger.Info("shutting down control server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control server error: %w", err)
	}

	return nil
}

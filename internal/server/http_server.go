package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// CreateServer creates an HTTP server for handler with production timeouts.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer serves HTTP on ln until the server is shut down.
func StartServer(server *http.Server, ln net.Listener) error {
	return server.Serve(ln)
}

// ShutdownServer gracefully shuts down the HTTP server, waiting for active
// requests to finish or until the timeout is reached. Hijacked WebSocket
// connections are not tracked by the HTTP server and are closed by the hub.
func ShutdownServer(server *http.Server, timeout time.Duration, log *slog.Logger) error {
	log.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
		return err
	}

	log.Info("HTTP server shutdown completed")
	return nil
}

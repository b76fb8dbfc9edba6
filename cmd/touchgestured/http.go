package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ============================================================================
// HTTP Server
// ============================================================================
// Serves the gesture feed websocket plus two small JSON endpoints:
//   GET /status   the same snapshot the status IPC request returns
//   GET /healthz  liveness probe
// ============================================================================

const feedPath = "/ws/gestures"

// newHTTPMux builds the daemon's routes on a private mux.
func newHTTPMux(feed *Server, snapshot SnapshotFunc, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	if feed != nil {
		feed.Register(mux, feedPath)
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), ipcRequestTimeout)
		defer cancel()
		snap, err := snapshot(ctx)
		if err != nil {
			logger.Warn("status request failed", "error", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			logger.Debug("status response write failed", "error", err)
		}
	})
	return mux
}

// runHTTPServer starts the HTTP server on the specified port and shuts it down
// gracefully when ctx is canceled. Port 0 disables the server.
func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	if port == 0 {
		logger.Info("HTTP server disabled")
		<-ctx.Done()
		return nil
	}

	listenAddr := fmt.Sprintf(":%d", port)
	logger.Info("HTTP server listening", "port", port, "feed", feedPath)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		_ = <-errCh
		return nil

	case err := <-errCh:
		return err
	}
}

package libs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// GracefulShutdown serves until ctx is cancelled, then drains the server
// within timeout and runs hooks in order. A listen failure is returned at once.
func GracefulShutdown(ctx context.Context, server *http.Server, timeout time.Duration, hooks ...func(context.Context)) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("[LB:Server:Listen:01] - HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("[LB:Server:Listen:02] - HTTP server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("[LB:Server:Shutdown:01] - Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	if err != nil {
		slog.Error("[LB:Server:Shutdown:02] - HTTP server shutdown failed", "error", err)
	}
	for _, hook := range hooks {
		hook(shutdownCtx)
	}
	if err == nil {
		slog.Info("[LB:Server:Shutdown:03] - HTTP server stopped")
	}
	return err
}

package app

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"edgecloud/internal/logger"
)

// serveHTTP serves handler on address until ctx is cancelled.
func serveHTTP(ctx context.Context, address string, handler http.Handler, logger *logger.Logger) error {
	srv := &http.Server{Addr: address, Handler: handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTP endpoints on http://%s", address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "serve %s", address)
	}
	return nil
}

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadyFunc reports whether the process is doing its job. A nil ReadyFunc is always ready.
type ReadyFunc func() error

// Handler builds the /healthz, /readyz and /metrics mux.
// A nil reg serves the default registry.
func Handler(reg prometheus.Gatherer, ready ReadyFunc) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ready"))
	})

	h := promhttp.Handler()
	if reg != nil {
		h = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError, // partial gather errors do not turn into a 500
		})
	}
	mux.Handle("GET /metrics", h)
	return mux
}

// Serve runs the metrics server until ctx ends. An empty addr disables it.
func Serve(ctx context.Context, addr string, reg prometheus.Gatherer, ready ReadyFunc, log *zap.Logger) error {
	if addr == "" {
		log.Info("metrics disabled: empty addr")
		return nil
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(reg, ready),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics http: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown error", zap.Error(err))
		}
		log.Info("metrics server stopped")
		return nil
	}
}

// Package api serves the gateway's HTTP endpoints: vehicle status, health
// and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/fleetbridge/api/vehicles"
	"github.com/kilianp07/fleetbridge/core/vehiclestatus"
	"github.com/kilianp07/fleetbridge/infra/logger"
)

// Health reports whether the gateway is connected to its dependencies.
type Health func() error

// NewRouter builds the routing tree.
func NewRouter(store vehiclestatus.Store, commands vehicles.Commander, health Health) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(20 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", vehicles.NewHandler(store, commands).Routes)
	return r
}

// Serve runs an HTTP server on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	log := logger.New("api")
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("api server shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("api listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Package observability provides the Prometheus metrics HTTP server.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var metricsServer *http.Server

// StartMetricsServer starts the Prometheus metrics server and blocks until the
// context is cancelled or the server fails.
func StartMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 120 * time.Second,
	}

	logrus.WithField("addr", addr).Info("Starting metrics server")

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.WithError(err).Error("Metrics server failed")
	}
}

// StopMetricsServer shuts down the metrics server if it is running.
func StopMetricsServer(ctx context.Context) error {
	if metricsServer == nil {
		return nil
	}

	return metricsServer.Shutdown(ctx)
}

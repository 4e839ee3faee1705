package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler exposes the process's Prometheus registry (the one the
// OpenTelemetry Prometheus exporter writes into) for scraping at
// /v1/metrics.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}

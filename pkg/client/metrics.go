package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for synchronous client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multihttp_client_requests_total",
		Help: "Total synchronous requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "multihttp_client_request_duration_seconds",
		Help:    "Synchronous request duration in seconds by method",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multihttp_client_errors_total",
		Help: "Total synchronous request failures by class",
	}, []string{"class"})
)

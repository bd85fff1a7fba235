package parallel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for parallel execution.
var (
	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multihttp_parallel_batches_total",
		Help: "Total number of executed batches",
	})

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "multihttp_parallel_batch_size",
		Help:    "Number of requests per executed batch",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "multihttp_parallel_batch_duration_seconds",
		Help:    "Wall-clock duration of executed batches",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multihttp_parallel_requests_total",
		Help: "Total requests completed by outcome and transport error class",
	}, []string{"outcome", "class"})

	callbackErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multihttp_parallel_callback_errors_total",
		Help: "Total callback failures by callback kind",
	}, []string{"callback"})

	driverErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multihttp_parallel_driver_errors_total",
		Help: "Total fatal multiplex driver errors by code",
	}, []string{"code"})

	sweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multihttp_parallel_swept_total",
		Help: "Total handles picked up by the final sweep instead of a completion event",
	})
)

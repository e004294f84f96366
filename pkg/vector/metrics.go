package vector

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts Store operations.
	// Labels: op, result (success, not_found, invalid, timeout, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"op", "result"},
	)

	// OperationDuration tracks Store operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vecstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// ProvisioningTotal counts collection provisioning attempts.
	// Labels: result (existing, created, error)
	ProvisioningTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecstore",
			Name:      "provisioning_total",
			Help:      "Total number of collection provisioning attempts",
		},
		[]string{"result"},
	)

	// EventsFailedTotal counts change events that could not be published.
	EventsFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vecstore",
			Name:      "events_failed_total",
			Help:      "Total number of change events that failed to publish",
		},
	)
)

func observe(op string, start time.Time, err error) {
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	OperationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCollectionNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrDimensionMismatch),
		errors.Is(err, ErrMissingScope), errors.Is(err, ErrScopeViolation),
		errors.Is(err, ErrAlreadyExists):
		return "invalid"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

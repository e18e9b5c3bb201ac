package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Operation results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// CipherMetrics records counts and latencies of secret cipher operations
// (encrypt, decrypt, generate).
type CipherMetrics interface {
	RecordOperation(ctx context.Context, operation, result string)
	RecordDuration(ctx context.Context, operation string, d time.Duration)
}

type cipherMetrics struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewCipherMetrics creates the namespace_cipher_operations_total counter and
// the namespace_cipher_duration_seconds histogram.
func NewCipherMetrics(mp metric.MeterProvider, namespace string) (CipherMetrics, error) {
	meter := mp.Meter(namespace)

	operations, err := meter.Int64Counter(
		namespace+"_cipher_operations_total",
		metric.WithDescription("Total number of secret cipher operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating operation counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		namespace+"_cipher_duration_seconds",
		metric.WithDescription("Duration of secret cipher operations in seconds"),
		metric.WithUnit("s"),
		// Argon2id dominates; buckets span the interactive to sensitive profiles.
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &cipherMetrics{operations: operations, duration: duration}, nil
}

func (m *cipherMetrics) RecordOperation(ctx context.Context, operation, result string) {
	m.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
}

func (m *cipherMetrics) RecordDuration(ctx context.Context, operation string, d time.Duration) {
	m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// NoOp discards all measurements.
type NoOp struct{}

func (NoOp) RecordOperation(context.Context, string, string)       {}
func (NoOp) RecordDuration(context.Context, string, time.Duration) {}

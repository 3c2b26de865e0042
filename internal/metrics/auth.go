package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Operation names recorded by the protocol components.
const (
	OperationVerify   = "verify"
	OperationExchange = "exchange"
	OperationDelegate = "delegate"
)

// AuthMetrics records outcomes and latencies of the token verification,
// token exchange and delegated call operations.
type AuthMetrics interface {
	// RecordOutcome counts one operation with its outcome, e.g. "success", "inactive", "nonce_retry".
	RecordOutcome(ctx context.Context, operation, outcome string)
	// RecordDuration records how long one operation took.
	RecordDuration(ctx context.Context, operation string, duration time.Duration, outcome string)
}

type authMetrics struct {
	outcomeCounter metric.Int64Counter
	durationHisto  metric.Float64Histogram
}

// NewAuthMetrics creates AuthMetrics on the given meter provider. Metric names are
// prefixed with namespace.
func NewAuthMetrics(meterProvider metric.MeterProvider, namespace string) (AuthMetrics, error) {
	meter := meterProvider.Meter(namespace)

	outcomeCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_auth_operations_total", namespace),
		metric.WithDescription("Total number of token verification, exchange and delegation operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outcome counter: %w", err)
	}

	durationHisto, err := meter.Float64Histogram(
		fmt.Sprintf("%s_auth_operation_duration_seconds", namespace),
		metric.WithDescription("Duration of token verification, exchange and delegation operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &authMetrics{
		outcomeCounter: outcomeCounter,
		durationHisto:  durationHisto,
	}, nil
}

func (a *authMetrics) RecordOutcome(ctx context.Context, operation, outcome string) {
	a.outcomeCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		),
	)
}

func (a *authMetrics) RecordDuration(ctx context.Context, operation string, duration time.Duration, outcome string) {
	a.durationHisto.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		),
	)
}

// NoOp is an AuthMetrics that records nothing; used when metrics are disabled.
type NoOp struct{}

// RecordOutcome does nothing.
func (NoOp) RecordOutcome(context.Context, string, string) {}

// RecordDuration does nothing.
func (NoOp) RecordDuration(context.Context, string, time.Duration, string) {}

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Outcome attribute values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Metrics holds every instrument crosstx records to.
type Metrics struct {
	transactions      metric.Int64Counter
	duration          metric.Float64Histogram
	secondaryWrites   metric.Int64Counter
	compensations     metric.Int64Counter
	logWriteFailures  metric.Int64Counter
	inconsistencies   metric.Int64Gauge
	recordCountsDrift metric.Int64Gauge
}

// NewMetrics creates and registers the crosstx instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	transactions, err := meter.Int64Counter(
		"crosstx.transactions",
		metric.WithDescription("Transactions finished, by final state."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"crosstx.transaction.duration",
		metric.WithDescription("Wall time from begin to final state."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	secondaryWrites, err := meter.Int64Counter(
		"crosstx.secondary.writes",
		metric.WithDescription("Secondary store writes, by outcome."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	compensations, err := meter.Int64Counter(
		"crosstx.compensations",
		metric.WithDescription("Compensating actions run, by outcome."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	logWriteFailures, err := meter.Int64Counter(
		"crosstx.log.write_failures",
		metric.WithDescription("Transaction log appends that failed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	inconsistencies, err := meter.Int64Gauge(
		"crosstx.consistency.inconsistencies",
		metric.WithDescription("Total count mismatch between primary and secondary at the last validation."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	drift, err := meter.Int64Gauge(
		"crosstx.consistency.delta",
		metric.WithDescription("Primary minus secondary record count per kind at the last validation."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		transactions:      transactions,
		duration:          duration,
		secondaryWrites:   secondaryWrites,
		compensations:     compensations,
		logWriteFailures:  logWriteFailures,
		inconsistencies:   inconsistencies,
		recordCountsDrift: drift,
	}, nil
}

// NoopMetrics returns instruments that record nothing.
func NoopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter(""))
	if err != nil {
		// The noop meter never fails.
		panic(err)
	}
	return m
}

// TransactionFinished records a transaction reaching state.
func (m *Metrics) TransactionFinished(ctx context.Context, state string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("state", state))
	m.transactions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}

// SecondaryWrite records the outcome of one secondary store write.
func (m *Metrics) SecondaryWrite(ctx context.Context, kind string, ok bool) {
	m.secondaryWrites.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome(ok)),
	))
}

// Compensation records the outcome of one compensating action.
func (m *Metrics) Compensation(ctx context.Context, kind string, ok bool) {
	m.compensations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome(ok)),
	))
}

// LogWriteFailed records a failed transaction log append.
func (m *Metrics) LogWriteFailed(ctx context.Context) {
	m.logWriteFailures.Add(ctx, 1)
}

// Consistency records the result of a validation run.
func (m *Metrics) Consistency(ctx context.Context, total int64, deltas map[string]int64) {
	m.inconsistencies.Record(ctx, total)
	for kind, d := range deltas {
		m.recordCountsDrift.Record(ctx, d, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func outcome(ok bool) string {
	if ok {
		return OutcomeSucceeded
	}
	return OutcomeFailed
}

package registry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"contractline/internal/domain"
)

const meterName = "contractline/registry"

type metrics struct {
	operations  metric.Int64Counter
	transitions metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) metrics {
	meter := mp.Meter(meterName)
	m := metrics{}
	var err error
	m.operations, err = meter.Int64Counter("contractline.registry.operations",
		metric.WithDescription("Registry operations by name and outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		m.operations = noop.Int64Counter{}
	}
	m.transitions, err = meter.Int64Counter("contractline.registry.transitions",
		metric.WithDescription("Committed lifecycle transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		m.transitions = noop.Int64Counter{}
	}
	return m
}

func (m metrics) operation(name string, err error) {
	m.operations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("operation", name),
		attribute.String("outcome", outcome(err)),
	))
}

func (m metrics) transition(from, to domain.LifecycleState) {
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrDependencyCycle):
		return "dependency_cycle"
	case errors.Is(err, ErrHasDependents):
		return "has_dependents"
	case errors.Is(err, ErrInvalidContract):
		return "invalid"
	default:
		return "error"
	}
}

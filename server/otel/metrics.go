// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/fluxmq-authhttp/authhttp"
	"github.com/absmach/fluxmq-authhttp/authhttp/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "fluxmq-authhttp"

// Metrics holds OpenTelemetry metric instruments for authority decisions.
type Metrics struct {
	meter metric.Meter

	decisionsTotal   metric.Int64Counter
	authorityErrors  metric.Int64Counter
	decisionDuration metric.Float64Histogram
}

var _ middleware.Recorder = (*Metrics)(nil)

// NewMetrics creates a new Metrics instance using the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates a new Metrics instance on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}

	var err error

	m.decisionsTotal, err = m.meter.Int64Counter(
		"authhttp.decisions.total",
		metric.WithDescription("Total decision calls by check, decision and reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisionsTotal counter: %w", err)
	}

	m.authorityErrors, err = m.meter.Int64Counter(
		"authhttp.authority.errors.total",
		metric.WithDescription("Total failures reaching the remote authority"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorityErrors counter: %w", err)
	}

	m.decisionDuration, err = m.meter.Float64Histogram(
		"authhttp.decision.duration.ms",
		metric.WithDescription("Decision call duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisionDuration histogram: %w", err)
	}

	return m, nil
}

// RecordDecision records one decision call.
func (m *Metrics) RecordDecision(check string, d authhttp.Decision, reason string, duration time.Duration) {
	ctx := context.Background()
	m.decisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("check", check),
		attribute.String("decision", d.String()),
		attribute.String("reason", reason),
	))
	m.decisionDuration.Record(ctx, float64(duration)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("check", check),
	))

	switch reason {
	case "transport", "circuit_open", "payload":
		m.authorityErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("check", check),
			attribute.String("type", reason),
		))
	}
}

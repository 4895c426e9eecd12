// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/absmach/fluxmq-authhttp/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const exportTimeout = 30 * time.Second

// Resource attributes naming the authority endpoints the delegate calls.
const (
	AttrUserURI = attribute.Key("authhttp.user_uri")
	AttrACLURI  = attribute.Key("authhttp.acl_uri")
)

// InitProvider registers the W3C trace context propagator, so authority
// requests carry the broker's traceparent, and installs OTLP trace and
// metric providers as tel enables them. The returned function flushes and
// stops every installed provider.
func InitProvider(tel config.TelemetryConfig, auth config.AuthConfig, instanceID string) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(Attributes(tel, auth, instanceID)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var stops []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for _, stop := range stops {
			errs = append(errs, stop(ctx))
		}
		return errors.Join(errs...)
	}

	if tel.TracesEnabled {
		tp, err := newTracerProvider(ctx, tel, res)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		stops = append(stops, tp.Shutdown)
	} else {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
	}

	if tel.MetricsEnabled {
		mp, err := newMeterProvider(ctx, tel, res)
		if err != nil {
			_ = shutdown(ctx)
			return nil, err
		}
		otel.SetMeterProvider(mp)
		stops = append(stops, mp.Shutdown)
	}

	return shutdown, nil
}

// Attributes describes this delegate instance. Authority URIs are reported
// with any userinfo password redacted.
func Attributes(tel config.TelemetryConfig, auth config.AuthConfig, instanceID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceNameKey.String(tel.ServiceName),
		semconv.ServiceVersionKey.String(tel.ServiceVersion),
		semconv.ServiceInstanceIDKey.String(instanceID),
		AttrUserURI.String(redact(auth.UserURI)),
		AttrACLURI.String(redact(auth.ACLURI)),
	}
}

func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return u.Redacted()
}

func newTracerProvider(ctx context.Context, tel config.TelemetryConfig, res *resource.Resource) (*trace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(tel.Endpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(exportTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	// Follow the broker's sampling decision when a connect or publish is
	// already traced.
	return trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(tel.TraceSampleRate))),
		trace.WithBatcher(exporter),
	), nil
}

func newMeterProvider(ctx context.Context, tel config.TelemetryConfig, res *resource.Resource) (*metric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(tel.Endpoint),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithTimeout(exportTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(15*time.Second))),
	), nil
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"

	"github.com/absmach/fluxmq-authhttp/authhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/absmach/fluxmq-authhttp/authhttp"

var _ authhttp.Service = (*tracingMiddleware)(nil)

type tracingMiddleware struct {
	tracer trace.Tracer
	svc    authhttp.Service
}

// NewTracing creates tracing middleware that starts one span per decision
// call. A nil tracer uses the global tracer provider.
func NewTracing(svc authhttp.Service, tracer trace.Tracer) authhttp.Service {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &tracingMiddleware{tracer, svc}
}

// Authenticate traces the credential check.
func (tm *tracingMiddleware) Authenticate(ctx context.Context, username, password *string) (authhttp.Decision, error) {
	ctx, span := tm.tracer.Start(ctx, "authhttp.authenticate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("mqtt.username", deref(username))),
	)
	defer span.End()

	d, err := tm.svc.Authenticate(ctx, username, password)
	end(span, d, err)
	return d, err
}

// Authorize traces the access check.
func (tm *tracingMiddleware) Authorize(ctx context.Context, clientID string, username *string, topic string, kind authhttp.AccessKind) (authhttp.Decision, error) {
	ctx, span := tm.tracer.Start(ctx, "authhttp.authorize",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("mqtt.client_id", clientID),
			attribute.String("mqtt.username", deref(username)),
			attribute.String("mqtt.topic", topic),
			attribute.String("mqtt.access", kind.String()),
		),
	)
	defer span.End()

	d, err := tm.svc.Authorize(ctx, clientID, username, topic, kind)
	end(span, d, err)
	return d, err
}

func end(span trace.Span, d authhttp.Decision, err error) {
	span.SetAttributes(
		attribute.String("authhttp.decision", d.String()),
		attribute.String("authhttp.reason", authhttp.Reason(err)),
	)
	if code, ok := authhttp.StatusCode(err); ok {
		span.SetAttributes(attribute.Int("http.response.status_code", code))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, authhttp.Reason(err))
	}
}

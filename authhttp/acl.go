// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package authhttp

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AccessValidator checks topic access against the ACL-verification endpoint.
type AccessValidator struct {
	endpoint    string
	transport   Transport
	ids         RequestIDGenerator
	limiter     Limiter
	logger      *slog.Logger
	unsafeDebug bool
}

// NewAccessValidator creates a validator posting to endpoint.
func NewAccessValidator(endpoint string, transport Transport, ids RequestIDGenerator, opts ...Option) *AccessValidator {
	o := newOptions(opts)
	return &AccessValidator{
		endpoint:    endpoint,
		transport:   transport,
		ids:         ids,
		limiter:     o.limiter,
		logger:      o.logger,
		unsafeDebug: o.unsafeDebug,
	}
}

// Check decides whether clientID, authenticated as username, may perform
// kind on topic. Anonymous sessions (nil username) are allowed without
// contacting the authority; operators disable anonymous access at the broker.
func (v *AccessValidator) Check(ctx context.Context, clientID string, username *string, topic string, kind AccessKind) (Decision, error) {
	if username == nil {
		return Allowed, nil
	}
	if !kind.Valid() {
		return Denied, fmt.Errorf("%w: %d", ErrInvalidAccess, kind)
	}
	if v.limiter != nil && !v.limiter.Allow("client:"+clientID) {
		return Denied, ErrRateLimited
	}

	requestID := v.ids.Next()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("authhttp.request_id", requestID))

	payload, err := Build(AccessSchema, Fields{
		FieldClientID: clientID,
		FieldUserName: *username,
		FieldTopic:    topic,
		FieldAccess:   kind.String(),
	}, requestID)
	if err != nil {
		return Denied, err
	}

	if v.unsafeDebug {
		v.logger.Debug("acl check payload",
			slog.String("request_id", requestID),
			slog.String("payload", string(payload)))
	}

	status, err := v.transport.Post(ctx, v.endpoint, payload)
	d, err := Map(status, err)
	if err != nil {
		return d, fmt.Errorf("request %s: %w", requestID, err)
	}
	return d, nil
}

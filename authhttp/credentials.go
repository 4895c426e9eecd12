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

// Limiter bounds how often a key may trigger an authority call.
type Limiter interface {
	Allow(key string) bool
}

// CredentialValidator checks username/password pairs against the
// user-verification endpoint.
type CredentialValidator struct {
	endpoint    string
	transport   Transport
	ids         RequestIDGenerator
	limiter     Limiter
	logger      *slog.Logger
	unsafeDebug bool
}

// NewCredentialValidator creates a validator posting to endpoint.
func NewCredentialValidator(endpoint string, transport Transport, ids RequestIDGenerator, opts ...Option) *CredentialValidator {
	o := newOptions(opts)
	return &CredentialValidator{
		endpoint:    endpoint,
		transport:   transport,
		ids:         ids,
		limiter:     o.limiter,
		logger:      o.logger,
		unsafeDebug: o.unsafeDebug,
	}
}

// Check decides whether the credentials are valid. A nil username or
// password is denied without contacting the authority. Any error comes with
// Denied.
func (v *CredentialValidator) Check(ctx context.Context, username, password *string) (Decision, error) {
	if username == nil || password == nil {
		return Denied, ErrPrecondition
	}
	if v.limiter != nil && !v.limiter.Allow("user:"+*username) {
		return Denied, ErrRateLimited
	}

	requestID := v.ids.Next()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("authhttp.request_id", requestID))

	payload, err := Build(CredentialSchema, Fields{
		FieldUserName: *username,
		FieldToken:    *password,
	}, requestID)
	if err != nil {
		return Denied, err
	}

	if v.unsafeDebug {
		v.logger.Debug("credential check payload",
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

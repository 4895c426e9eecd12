// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"

	"github.com/absmach/fluxmq-authhttp/authhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Client is the broker's view of a connected MQTT client.
type Client interface {
	ID() string
	// Username returns the username the client connected with, and false
	// for anonymous clients.
	Username() (string, bool)
}

// AuthEngine handles authentication and authorization checks.
type AuthEngine struct {
	svc authhttp.Service
}

// NewAuthEngine returns an engine backed by svc. A nil svc allows everything.
func NewAuthEngine(svc authhttp.Service) *AuthEngine {
	return &AuthEngine{svc: svc}
}

// Authenticate validates client credentials.
// Returns true if authenticated or if no service is configured.
func (e *AuthEngine) Authenticate(ctx context.Context, clientID string, username, password *string) bool {
	if e.svc == nil {
		return true
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("mqtt.client_id", clientID))
	d, _ := e.svc.Authenticate(ctx, username, password)
	return d.IsAllowed()
}

// CanPublish checks if a client is authorized to publish to a topic.
// Returns true if authorized or if no service is configured.
func (e *AuthEngine) CanPublish(ctx context.Context, c Client, topic string) bool {
	return e.check(ctx, c, topic, authhttp.AccessWrite)
}

// CanSubscribe checks if a client is authorized to subscribe to a topic filter.
// Returns true if authorized or if no service is configured.
func (e *AuthEngine) CanSubscribe(ctx context.Context, c Client, filter string) bool {
	return e.check(ctx, c, filter, authhttp.AccessSubscribe)
}

// CanRead checks if a message on topic may be delivered to a client.
// Returns true if authorized or if no service is configured.
func (e *AuthEngine) CanRead(ctx context.Context, c Client, topic string) bool {
	return e.check(ctx, c, topic, authhttp.AccessRead)
}

func (e *AuthEngine) check(ctx context.Context, c Client, topic string, kind authhttp.AccessKind) bool {
	if e.svc == nil {
		return true
	}
	d, _ := e.svc.Authorize(ctx, c.ID(), username(c), topic, kind)
	return d.IsAllowed()
}

func username(c Client) *string {
	name, ok := c.Username()
	if !ok {
		return nil
	}
	return &name
}

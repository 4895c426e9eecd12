// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"time"

	"github.com/absmach/fluxmq-authhttp/authhttp"
)

// Check names used as metric dimensions.
const (
	CheckUser = "user"
	CheckACL  = "acl"
)

// Recorder receives one observation per decision call.
type Recorder interface {
	RecordDecision(check string, d authhttp.Decision, reason string, duration time.Duration)
}

var _ authhttp.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	rec Recorder
	svc authhttp.Service
}

// NewMetrics creates metrics middleware that wraps an auth service.
func NewMetrics(svc authhttp.Service, rec Recorder) authhttp.Service {
	return &metricsMiddleware{rec, svc}
}

// Authenticate wraps the call with decision metrics.
func (mm *metricsMiddleware) Authenticate(ctx context.Context, username, password *string) (authhttp.Decision, error) {
	begin := time.Now()
	d, err := mm.svc.Authenticate(ctx, username, password)
	mm.rec.RecordDecision(CheckUser, d, authhttp.Reason(err), time.Since(begin))
	return d, err
}

// Authorize wraps the call with decision metrics.
func (mm *metricsMiddleware) Authorize(ctx context.Context, clientID string, username *string, topic string, kind authhttp.AccessKind) (authhttp.Decision, error) {
	begin := time.Now()
	d, err := mm.svc.Authorize(ctx, clientID, username, topic, kind)
	reason := authhttp.Reason(err)
	if username == nil {
		reason = "anonymous"
	}
	mm.rec.RecordDecision(CheckACL, d, reason, time.Since(begin))
	return d, err
}

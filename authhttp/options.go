// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package authhttp

import (
	"log/slog"
	"net/http"
)

// Option configures validators and the Service.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	limiter     Limiter
	client      *http.Client
	unsafeDebug bool
}

func newOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLimiter guards authority calls with a per-key limiter.
func WithLimiter(l Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithHTTPClient overrides the HTTP client used by the Service transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithUnsafeDebug logs full request payloads, credentials included.
func WithUnsafeDebug(enabled bool) Option {
	return func(o *options) { o.unsafeDebug = enabled }
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package authhttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// maxDrain bounds how much of an ignored response body is read so the
// connection can be reused.
const maxDrain = 64 << 10

// Transport posts a payload to the remote authority and reports the HTTP
// status. A non-nil error means no status was obtained.
type Transport interface {
	Post(ctx context.Context, url string, payload []byte) (int, error)
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates an HTTP transport. Every call is bounded by
// timeout; a nil client uses a dedicated http.Client. Redirects are never
// followed: a 3xx answer is the authority's decision, and following a 307
// would re-post the credentials to wherever Location points. A provided
// client is copied so the caller's redirect policy is left untouched.
func NewHTTPTransport(client *http.Client, timeout time.Duration, userAgent string) *HTTPTransport {
	var c http.Client
	if client != nil {
		c = *client
	} else {
		c.Timeout = timeout
	}
	c.CheckRedirect = noRedirect

	return &HTTPTransport{
		client:    &c,
		timeout:   timeout,
		userAgent: userAgent,
	}
}

// Post sends the payload as a JSON POST request. The response body is
// discarded.
func (t *HTTPTransport) Post(ctx context.Context, url string, payload []byte) (int, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create request: %w", ErrTransport, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("charset", "utf-8")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	return resp.StatusCode, nil
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

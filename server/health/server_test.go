// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/absmach/fluxmq-authhttp/authhttp"
)

// failingTransport always fails to reach the authority.
type failingTransport struct{}

func (failingTransport) Post(ctx context.Context, url string, payload []byte) (int, error) {
	return 0, errors.Join(authhttp.ErrTransport, errors.New("connection refused"))
}

type staticSource []authhttp.Endpoint

func (s staticSource) Endpoints() []authhttp.Endpoint {
	return s
}

func openBreaker(t *testing.T) *authhttp.BreakerTransport {
	t.Helper()

	b := authhttp.NewBreakerTransport("user", failingTransport{}, 1, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, _ = b.Post(context.Background(), "http://authority.invalid", nil)
	if b.State() != "open" {
		t.Fatalf("expected open breaker, got %q", b.State())
	}
	return b
}

func closedBreaker() *authhttp.BreakerTransport {
	return authhttp.NewBreakerTransport("acl", failingTransport{}, 5, time.Minute, nil)
}

func TestAddrWithoutListener(t *testing.T) {
	server := New(Config{}, staticSource{}, slog.Default())
	if server.Addr() != "" {
		t.Fatalf("expected empty address before listen, got %q", server.Addr())
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := New(Config{}, staticSource{}, slog.Default())

	tests := []struct {
		name           string
		method         string
		expectedStatus int
		expectedBody   HealthResponse
	}{
		{
			name:           "GET request returns healthy",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
			expectedBody:   HealthResponse{Status: "healthy"},
		},
		{
			name:           "POST request not allowed",
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:           "PUT request not allowed",
			method:         http.MethodPut,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "http://test/health", nil)
			rec := httptest.NewRecorder()

			server.handleHealth(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}

			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}

				if response.Status != tt.expectedBody.Status {
					t.Errorf("expected status %q, got %q", tt.expectedBody.Status, response.Status)
				}
			}
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		source         EndpointSource
		method         string
		expectedStatus int
		expectedReady  bool
		expectedReason string
	}{
		{
			name:           "delegate nil - not ready",
			source:         nil,
			method:         http.MethodGet,
			expectedStatus: http.StatusServiceUnavailable,
			expectedReason: "delegate not initialized",
		},
		{
			name: "breakers disabled - ready",
			source: staticSource{
				{Name: "user", URI: "http://a/user", Transport: failingTransport{}},
			},
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
			expectedReady:  true,
		},
		{
			name: "breakers closed - ready",
			source: staticSource{
				{Name: "acl", URI: "http://a/acl", Transport: closedBreaker()},
			},
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
			expectedReady:  true,
		},
		{
			name: "breaker open - not ready",
			source: staticSource{
				{Name: "acl", URI: "http://a/acl", Transport: closedBreaker()},
				{Name: "user", URI: "http://a/user", Transport: openBreaker(t)},
			},
			method:         http.MethodGet,
			expectedStatus: http.StatusServiceUnavailable,
			expectedReason: "user authority circuit open",
		},
		{
			name:           "POST request not allowed",
			source:         staticSource{},
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := New(Config{}, tt.source, slog.Default())

			req := httptest.NewRequest(tt.method, "http://test/ready", nil)
			rec := httptest.NewRecorder()

			server.handleReady(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}

			if tt.expectedStatus == http.StatusOK || tt.expectedStatus == http.StatusServiceUnavailable {
				var response ReadyResponse
				if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}

				if tt.expectedReady && response.Status != "ready" {
					t.Errorf("expected ready status, got %q", response.Status)
				}

				if !tt.expectedReady && response.Status != "not_ready" {
					t.Errorf("expected not_ready status, got %q", response.Status)
				}

				if tt.expectedReason != "" && response.Details != tt.expectedReason {
					t.Errorf("expected details %q, got %q", tt.expectedReason, response.Details)
				}
			}
		})
	}
}

func TestAuthorityStatusEndpoint(t *testing.T) {
	src := staticSource{
		{Name: "user", URI: "http://a/user", Transport: openBreaker(t)},
		{Name: "acl", URI: "http://a/acl", Transport: failingTransport{}},
	}
	server := New(Config{}, src, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "http://test/authority/status", nil)
	rec := httptest.NewRecorder()
	server.handleAuthorityStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var response AuthorityStatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	want := []EndpointStatus{
		{Name: "user", URI: "http://a/user", Breaker: "open"},
		{Name: "acl", URI: "http://a/acl", Breaker: "disabled"},
	}
	if len(response.Endpoints) != len(want) {
		t.Fatalf("expected %d endpoints, got %d", len(want), len(response.Endpoints))
	}
	for i := range want {
		if response.Endpoints[i] != want[i] {
			t.Errorf("endpoint %d: expected %+v, got %+v", i, want[i], response.Endpoints[i])
		}
	}

	req = httptest.NewRequest(http.MethodPost, "http://test/authority/status", nil)
	rec = httptest.NewRecorder()
	server.handleAuthorityStatus(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
}

func TestContentTypeHeaders(t *testing.T) {
	server := New(Config{}, staticSource{}, slog.Default())

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "/health", handler: server.handleHealth},
		{name: "/ready", handler: server.handleReady},
		{name: "/authority/status", handler: server.handleAuthorityStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://test"+tt.name, nil)
			rec := httptest.NewRecorder()

			tt.handler(rec, req)

			contentType := rec.Header().Get("Content-Type")
			if contentType != "application/json" {
				t.Errorf("expected Content-Type application/json, got %q", contentType)
			}

			body, err := io.ReadAll(rec.Body)
			if err != nil {
				t.Fatalf("failed to read body: %v", err)
			}

			var data map[string]interface{}
			if err := json.Unmarshal(body, &data); err != nil {
				t.Errorf("response is not valid JSON: %v", err)
			}
		})
	}
}

func TestListenAndShutdown(t *testing.T) {
	server := New(Config{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}, staticSource{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Listen(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for server.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if server.Addr() == "" {
		t.Fatal("server did not start listening")
	}

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected shutdown error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

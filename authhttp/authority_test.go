// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package authhttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubAuthority is a remote authority answering with a fixed status and
// recording every request body it receives. A 3xx status points Location at
// a path that answers 200, so a client following it would be let in.
type stubAuthority struct {
	*httptest.Server

	status   atomic.Int32
	requests atomic.Int32

	mu     sync.Mutex
	bodies [][]byte
	header http.Header
}

const redirectTarget = "/elsewhere"

func newStubAuthority(t *testing.T, status int) *stubAuthority {
	t.Helper()

	s := &stubAuthority{}
	s.status.Store(int32(status))
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		body, _ := io.ReadAll(r.Body)

		if r.URL.Path == redirectTarget {
			w.WriteHeader(http.StatusOK)
			return
		}

		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.header = r.Header.Clone()
		s.mu.Unlock()

		status := int(s.status.Load())
		if status >= http.StatusMultipleChoices && status < http.StatusBadRequest {
			w.Header().Set("Location", redirectTarget)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ignored":true}`))
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *stubAuthority) count() int {
	return int(s.requests.Load())
}

func (s *stubAuthority) lastData(t *testing.T) map[string]string {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bodies) == 0 {
		t.Fatal("authority received no requests")
	}

	var env struct {
		Data      map[string]string `json:"data"`
		RequestID string            `json:"requestId"`
	}
	if err := json.Unmarshal(s.bodies[len(s.bodies)-1], &env); err != nil {
		t.Fatalf("authority received invalid JSON: %v", err)
	}
	if !ValidRequestID(env.RequestID) {
		t.Errorf("malformed request id %q", env.RequestID)
	}
	return env.Data
}

func (s *stubAuthority) lastHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header
}

// newSlowAuthority returns the URL of an authority that answers only after
// delay, or when the client gives up.
func newSlowAuthority(t *testing.T, delay time.Duration) string {
	t.Helper()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.Close)

	return s.URL
}

// fakeTransport returns canned results without any network.
type fakeTransport struct {
	status int
	err    error
	calls  atomic.Int32
}

func (f *fakeTransport) Post(_ context.Context, _ string, _ []byte) (int, error) {
	f.calls.Add(1)
	return f.status, f.err
}

type denyLimiter struct {
	keys []string
}

func (l *denyLimiter) Allow(key string) bool {
	l.keys = append(l.keys, key)
	return false
}

func strPtr(s string) *string {
	return &s
}

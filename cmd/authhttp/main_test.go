// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/absmach/fluxmq-authhttp/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authority struct {
	*httptest.Server
	requests atomic.Int32
	last     atomic.Value // map[string]any
}

func newAuthority(t *testing.T, status int) *authority {
	t.Helper()

	a := &authority{}
	a.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.requests.Add(1)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err == nil {
			if data, ok := body["data"].(map[string]any); ok {
				a.last.Store(data)
			}
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(a.Close)
	return a
}

func (a *authority) lastData() map[string]any {
	v, _ := a.last.Load().(map[string]any)
	return v
}

func writeConfig(t *testing.T, userURI, aclURI string) string {
	t.Helper()

	cfg := config.Default()
	cfg.Auth.UserURI = userURI
	cfg.Auth.ACLURI = aclURI
	cfg.Log.Level = "error"

	path := filepath.Join(t.TempDir(), "authhttp.yaml")
	require.NoError(t, cfg.Save(path))
	return path
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	malformed := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(malformed, []byte("auth: [unclosed"), 0o644))

	tests := []struct {
		name string
		args []string
	}{
		{name: "no command", args: nil},
		{name: "unknown command", args: []string{"frobnicate"}},
		{name: "unknown flag", args: []string{"-nope", "serve"}},
		{name: "malformed config", args: []string{"-config", malformed, "check-user"}},
		{name: "bad access", args: []string{"check-acl", "-client", "c", "-topic", "t", "-access", "delete"}},
		{name: "acl without topic", args: []string{"check-acl", "-client", "c", "-access", "read"}},
		{name: "acl without client", args: []string{"check-acl", "-topic", "t", "-access", "read"}},
		{name: "wildcard publish topic", args: []string{"check-acl", "-client", "c", "-topic", "a/#", "-access", "write"}},
		{name: "malformed filter", args: []string{"check-acl", "-client", "c", "-topic", "a/#/b", "-access", "sub"}},
		{name: "check-user bad flag", args: []string{"check-user", "-token", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCLI(tt.args...)
			assert.Equal(t, exitUsage, code)
		})
	}
}

func TestRun_InvalidConfigFile(t *testing.T) {
	cfgPath := writeConfig(t, "ftp://authority", "http://localhost/acl")
	code, _, stderr := runCLI("-config", cfgPath, "check-user", "-username", "a", "-password", "b")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "user_uri")
}

func TestRun_CheckUser(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		args     []string
		wantCode int
		wantOut  string
		wantReqs int32
	}{
		{
			name:     "allowed",
			status:   http.StatusOK,
			args:     []string{"-username", "alice", "-password", "secret"},
			wantCode: exitAllowed,
			wantOut:  "allowed\n",
			wantReqs: 1,
		},
		{
			name:     "rejected",
			status:   http.StatusUnauthorized,
			args:     []string{"-username", "alice", "-password", "wrong"},
			wantCode: exitDenied,
			wantOut:  "denied: status\n",
			wantReqs: 1,
		},
		{
			name:     "password omitted",
			status:   http.StatusOK,
			args:     []string{"-username", "alice"},
			wantCode: exitDenied,
			wantOut:  "denied: precondition\n",
		},
		{
			name:     "empty password is sent",
			status:   http.StatusOK,
			args:     []string{"-username", "alice", "-password", ""},
			wantCode: exitAllowed,
			wantOut:  "allowed\n",
			wantReqs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := newAuthority(t, tt.status)
			cfgPath := writeConfig(t, users.URL, users.URL)

			code, stdout, _ := runCLI(append([]string{"-config", cfgPath, "check-user"}, tt.args...)...)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantOut, stdout)
			assert.Equal(t, tt.wantReqs, users.requests.Load())
		})
	}
}

func TestRun_CheckUserClientID(t *testing.T) {
	users := newAuthority(t, http.StatusUnauthorized)

	cfg := config.Default()
	cfg.Auth.UserURI = users.URL
	cfg.Auth.ACLURI = users.URL
	cfg.Log.Level = "debug"
	cfgPath := filepath.Join(t.TempDir(), "authhttp.yaml")
	require.NoError(t, cfg.Save(cfgPath))

	code, _, stderr := runCLI("-config", cfgPath, "check-user", "-client", "gateway-9", "-username", "alice", "-password", "wrong")
	assert.Equal(t, exitDenied, code)
	assert.Contains(t, stderr, "client_id=gateway-9")
}

func TestRun_CheckUserUnreachable(t *testing.T) {
	users := newAuthority(t, http.StatusOK)
	cfgPath := writeConfig(t, users.URL, users.URL)
	users.Close()

	code, stdout, _ := runCLI("-config", cfgPath, "check-user", "-username", "alice", "-password", "secret")
	assert.Equal(t, exitDenied, code)
	assert.Equal(t, "denied: transport\n", stdout)
}

func TestRun_CheckACL(t *testing.T) {
	acls := newAuthority(t, http.StatusOK)
	cfgPath := writeConfig(t, acls.URL, acls.URL)

	code, stdout, _ := runCLI("-config", cfgPath, "check-acl",
		"-client", "c1", "-username", "alice", "-topic", "sensors/+/temp", "-access", "sub")
	assert.Equal(t, exitAllowed, code)
	assert.Equal(t, "allowed\n", stdout)

	data := acls.lastData()
	require.NotNil(t, data)
	assert.Equal(t, "c1", data["clientId"])
	assert.Equal(t, "alice", data["userName"])
	assert.Equal(t, "sensors%2F%2B%2Ftemp", data["topic"])
	assert.Equal(t, "sub", data["access"])
}

func TestRun_CheckACLAnonymous(t *testing.T) {
	acls := newAuthority(t, http.StatusForbidden)
	cfgPath := writeConfig(t, acls.URL, acls.URL)

	code, stdout, _ := runCLI("-config", cfgPath, "check-acl", "-client", "c2", "-topic", "t", "-access", "write")
	assert.Equal(t, exitAllowed, code)
	assert.Equal(t, "allowed\n", stdout)
	assert.Equal(t, int32(0), acls.requests.Load())
}

func TestRun_CheckACLDenied(t *testing.T) {
	acls := newAuthority(t, http.StatusForbidden)
	cfgPath := writeConfig(t, acls.URL, acls.URL)

	code, stdout, _ := runCLI("-config", cfgPath, "check-acl",
		"-client", "c1", "-username", "bob", "-topic", "admin/#", "-access", "read")
	assert.Equal(t, exitDenied, code)
	assert.Equal(t, "denied: status\n", stdout)
	assert.Equal(t, int32(1), acls.requests.Load())
}

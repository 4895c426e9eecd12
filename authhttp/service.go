// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package authhttp delegates MQTT credential and topic-access decisions to a
// remote HTTP authority.
//
// Every decision call builds a JSON payload, POSTs it to the configured
// endpoint and allows the operation only when the authority answers 200.
// Transport failures, other statuses and local failures deny: the package is
// fail-closed. Whenever a non-nil error is returned the decision is Denied;
// the error exists for diagnostics only and must not reach MQTT clients.
package authhttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/absmach/fluxmq-authhttp/config"
	authtls "github.com/absmach/fluxmq-authhttp/pkg/tls"
	"github.com/absmach/fluxmq-authhttp/ratelimit"
)

// Service is the decision surface exposed to the broker.
type Service interface {
	// Authenticate decides whether username/password are valid.
	Authenticate(ctx context.Context, username, password *string) (Decision, error)

	// Authorize decides whether clientID, authenticated as username, may
	// perform kind on topic.
	Authorize(ctx context.Context, clientID string, username *string, topic string, kind AccessKind) (Decision, error)
}

// Endpoint is a remote authority endpoint and the transport used to reach it.
type Endpoint struct {
	Name      string
	URI       string
	Transport Transport
}

// BreakerState reports the circuit breaker state of the endpoint, or
// "disabled" when it has none.
func (e Endpoint) BreakerState() string {
	if b, ok := e.Transport.(*BreakerTransport); ok {
		return b.State()
	}
	return "disabled"
}

// Delegate is the Service backed by the remote authority.
type Delegate struct {
	creds     *CredentialValidator
	acl       *AccessValidator
	endpoints []Endpoint
	limiter   *ratelimit.KeyLimiter
}

var _ Service = (*Delegate)(nil)

// New builds the Service from cfg. The configuration is copied; later
// changes to cfg have no effect.
func New(cfg config.AuthConfig, opts ...Option) (*Delegate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	if cfg.UnsafeDebug {
		opts = append(opts, WithUnsafeDebug(true))
		o.logger.Warn("unsafe debug logging enabled, credentials will be written to logs")
	}

	client := o.client
	if client == nil {
		tlsCfg, err := authtls.LoadClientConfig(authtls.Config{
			CAFile:             cfg.TLSCAFile,
			ServerName:         cfg.TLSServerName,
			InsecureSkipVerify: cfg.TLSInsecureSkipVerify,
		})
		if err != nil {
			return nil, err
		}
		if tlsCfg != nil {
			o.logger.Info("authority TLS configured", slog.String("security", authtls.SecurityStatus(tlsCfg)))
			tr := http.DefaultTransport.(*http.Transport).Clone()
			tr.TLSClientConfig = tlsCfg
			client = &http.Client{Timeout: cfg.Timeout, Transport: tr}
		}
	}

	var limiter *ratelimit.KeyLimiter
	if cfg.RateLimit.Enabled && o.limiter == nil {
		rl := cfg.RateLimit
		limiter = ratelimit.NewKeyLimiter(rl.Rate, rl.Burst, rl.CleanupInterval)
		opts = append(opts, WithLimiter(limiter))
	}

	var ids RequestIDGenerator
	switch cfg.RequestID {
	case config.RequestIDUUID:
		ids = NewUUIDs()
	default:
		ids = NewRandomIDs(nil)
	}

	base := NewHTTPTransport(client, cfg.Timeout, cfg.UserAgent)
	userTransport := Transport(base)
	aclTransport := Transport(base)
	if cfg.CircuitBreaker.FailureThreshold > 0 {
		cb := cfg.CircuitBreaker
		userTransport = NewBreakerTransport("user", base, cb.FailureThreshold, cb.ResetTimeout, o.logger)
		aclTransport = NewBreakerTransport("acl", base, cb.FailureThreshold, cb.ResetTimeout, o.logger)
	}

	return &Delegate{
		creds: NewCredentialValidator(cfg.UserURI, userTransport, ids, opts...),
		acl:   NewAccessValidator(cfg.ACLURI, aclTransport, ids, opts...),
		endpoints: []Endpoint{
			{Name: "user", URI: cfg.UserURI, Transport: userTransport},
			{Name: "acl", URI: cfg.ACLURI, Transport: aclTransport},
		},
		limiter: limiter,
	}, nil
}

// Authenticate implements Service.
func (s *Delegate) Authenticate(ctx context.Context, username, password *string) (Decision, error) {
	return s.creds.Check(ctx, username, password)
}

// Authorize implements Service.
func (s *Delegate) Authorize(ctx context.Context, clientID string, username *string, topic string, kind AccessKind) (Decision, error) {
	return s.acl.Check(ctx, clientID, username, topic, kind)
}

// Endpoints lists the configured authority endpoints.
func (s *Delegate) Endpoints() []Endpoint {
	out := make([]Endpoint, len(s.endpoints))
	copy(out, s.endpoints)
	return out
}

// Close releases background resources held by the Delegate.
func (s *Delegate) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

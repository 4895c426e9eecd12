// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/fluxmq-authhttp/authhttp"
	"github.com/absmach/fluxmq-authhttp/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PluginVersion is the auth plugin API version implemented by Plugin.
const PluginVersion = 3

var (
	// ErrAuth rejects a connection or a PSK lookup.
	ErrAuth = errors.New("authentication failed")

	// ErrACLDenied rejects a publish, subscribe or delivery.
	ErrACLDenied = errors.New("acl denied")

	errNotInitialized = errors.New("plugin not initialized")
)

// Middleware decorates the delegate service.
type Middleware func(authhttp.Service) authhttp.Service

// Plugin exposes the delegate through the broker's auth plugin lifecycle.
// It is safe for concurrent use; Init and Cleanup may race with checks.
type Plugin struct {
	base   config.AuthConfig
	logger *slog.Logger
	mws    []Middleware
	opts   []authhttp.Option

	mu       sync.RWMutex
	delegate *authhttp.Delegate
	svc      authhttp.Service
}

// NewPlugin returns an uninitialized plugin. base holds the settings that
// Init options override; mws wrap the delegate in the given order.
func NewPlugin(base config.AuthConfig, logger *slog.Logger, mws []Middleware, opts ...authhttp.Option) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		base:   base,
		logger: logger,
		mws:    mws,
		opts:   opts,
	}
}

// Version returns the plugin API version.
func (p *Plugin) Version() int {
	return PluginVersion
}

// Init applies opts (http_user_uri, http_acl_uri, http_timeout,
// http_unsafe_debug) and builds the delegate. Calling Init again replaces
// the previous delegate.
func (p *Plugin) Init(opts map[string]string) error {
	cfg := p.base
	if err := cfg.ApplyOptions(opts); err != nil {
		return fmt.Errorf("invalid plugin options: %w", err)
	}

	delegate, err := authhttp.New(cfg, append([]authhttp.Option{authhttp.WithLogger(p.logger)}, p.opts...)...)
	if err != nil {
		return err
	}

	var svc authhttp.Service = delegate
	for _, mw := range p.mws {
		svc = mw(svc)
	}

	p.mu.Lock()
	old := p.delegate
	p.delegate, p.svc = delegate, svc
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}

	p.logger.Info("auth plugin initialized",
		slog.String("http_user_uri", cfg.UserURI),
		slog.String("http_acl_uri", cfg.ACLURI),
		slog.Duration("http_timeout", cfg.Timeout))
	return nil
}

// Cleanup releases the delegate. Checks after Cleanup are rejected.
func (p *Plugin) Cleanup() error {
	p.mu.Lock()
	old := p.delegate
	p.delegate, p.svc = nil, nil
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// SecurityInit is called when the broker (re)loads its security settings.
func (p *Plugin) SecurityInit(reload bool) error {
	p.logger.Debug("auth plugin security init", slog.Bool("reload", reload))
	return nil
}

// SecurityCleanup is called before the broker reloads or stops.
func (p *Plugin) SecurityCleanup(reload bool) error {
	p.logger.Debug("auth plugin security cleanup", slog.Bool("reload", reload))
	return nil
}

// UnpwdCheck validates the credentials client c connected with. The client
// ID is recorded on the caller's span and on the rejection log line.
func (p *Plugin) UnpwdCheck(ctx context.Context, c Client, username, password *string) error {
	svc := p.service()
	if svc == nil {
		return fmt.Errorf("%w: %w", ErrAuth, errNotInitialized)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("mqtt.client_id", c.ID()))
	d, err := svc.Authenticate(ctx, username, password)
	if d.IsAllowed() {
		return nil
	}

	if err == nil {
		err = ErrAuth
	} else {
		err = fmt.Errorf("%w: %w", ErrAuth, err)
	}
	p.logger.DebugContext(ctx, "client authentication rejected",
		slog.String("client_id", c.ID()),
		slog.String("error", err.Error()))
	return err
}

// ACLCheck decides whether client c may perform access on topic.
func (p *Plugin) ACLCheck(ctx context.Context, access authhttp.AccessKind, c Client, topic string) error {
	svc := p.service()
	if svc == nil {
		return fmt.Errorf("%w: %w", ErrACLDenied, errNotInitialized)
	}

	d, err := svc.Authorize(ctx, c.ID(), username(c), topic, access)
	if d.IsAllowed() {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrACLDenied, err)
	}
	return ErrACLDenied
}

// PSKKeyGet always fails; TLS-PSK is not delegated.
func (p *Plugin) PSKKeyGet(c Client, hint, identity string) ([]byte, error) {
	return nil, ErrAuth
}

// Endpoints returns the authority endpoints of the current delegate.
func (p *Plugin) Endpoints() []authhttp.Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.delegate == nil {
		return nil
	}
	return p.delegate.Endpoints()
}

func (p *Plugin) service() authhttp.Service {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.svc
}

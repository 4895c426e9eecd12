// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/absmach/fluxmq-authhttp/authhttp"
)

var _ authhttp.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	next   authhttp.Service
}

// NewLogging creates logging middleware that wraps an auth service.
// It emits exactly one line per decision call and never logs passwords.
func NewLogging(svc authhttp.Service, logger *slog.Logger) authhttp.Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingMiddleware{logger, svc}
}

// Authenticate logs the credential check outcome.
func (lm *loggingMiddleware) Authenticate(ctx context.Context, username, password *string) (d authhttp.Decision, err error) {
	defer func(begin time.Time) {
		attrs := []slog.Attr{
			slog.String("username", deref(username)),
			slog.Bool("password_set", password != nil),
		}
		lm.log(ctx, "Authenticate", begin, d, err, false, attrs)
	}(time.Now())

	return lm.next.Authenticate(ctx, username, password)
}

// Authorize logs the access check outcome.
func (lm *loggingMiddleware) Authorize(ctx context.Context, clientID string, username *string, topic string, kind authhttp.AccessKind) (d authhttp.Decision, err error) {
	defer func(begin time.Time) {
		attrs := []slog.Attr{
			slog.String("client_id", clientID),
			slog.String("username", deref(username)),
			slog.String("topic", topic),
			slog.String("access", kind.String()),
		}
		if username == nil {
			attrs = append(attrs, slog.Bool("anonymous", true))
		}
		lm.log(ctx, "Authorize", begin, d, err, username == nil, attrs)
	}(time.Now())

	return lm.next.Authorize(ctx, clientID, username, topic, kind)
}

func (lm *loggingMiddleware) log(ctx context.Context, msg string, begin time.Time, d authhttp.Decision, err error, anonymous bool, attrs []slog.Attr) {
	reason, lvl := authhttp.Reason(err), level(err)
	if anonymous {
		reason, lvl = "anonymous", slog.LevelDebug
	}
	attrs = append(attrs,
		slog.String("decision", d.String()),
		slog.String("reason", reason),
		slog.String("duration", time.Since(begin).String()),
	)
	if code, ok := authhttp.StatusCode(err); ok {
		attrs = append(attrs, slog.Int("status", code))
	} else if err == nil && d.IsAllowed() && !anonymous {
		attrs = append(attrs, slog.Int("status", http.StatusOK))
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}

	lm.logger.LogAttrs(ctx, lvl, msg, attrs...)
}

// level reports authority answers at Info, local short-circuits at Debug and
// infrastructure failures at Warn.
func level(err error) slog.Level {
	switch {
	case err == nil, errors.Is(err, authhttp.ErrNonSuccessStatus):
		return slog.LevelInfo
	case errors.Is(err, authhttp.ErrPrecondition), errors.Is(err, authhttp.ErrRateLimited):
		return slog.LevelDebug
	case errors.Is(err, authhttp.ErrInvalidAccess):
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

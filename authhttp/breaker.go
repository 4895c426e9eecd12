// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package authhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker short-circuits calls to an
// unhealthy authority. It wraps ErrTransport.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", ErrTransport)

// errServerStatus marks 5xx answers as breaker failures. It never leaves
// BreakerTransport.
var errServerStatus = errors.New("server error status")

// errCallerDone marks calls abandoned by the caller's own context. They say
// nothing about the authority's health and are not counted as failures.
var errCallerDone = errors.New("caller context done")

// BreakerTransport guards a Transport with a circuit breaker. Transport
// errors and 5xx statuses count as failures; any other status is a valid
// answer from the authority.
type BreakerTransport struct {
	next    Transport
	breaker *gobreaker.CircuitBreaker
}

var _ Transport = (*BreakerTransport)(nil)

// NewBreakerTransport wraps next with a breaker that opens after threshold
// consecutive failures and probes again after resetTimeout.
func NewBreakerTransport(name string, next Transport, threshold int, resetTimeout time.Duration, logger *slog.Logger) *BreakerTransport {
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errCallerDone)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("authority circuit breaker state changed",
				slog.String("endpoint", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &BreakerTransport{next: next, breaker: cb}
}

// Post forwards to the wrapped transport unless the breaker is open.
func (b *BreakerTransport) Post(ctx context.Context, url string, payload []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	var (
		status  int
		postErr error
	)
	_, err := b.breaker.Execute(func() (interface{}, error) {
		status, postErr = b.next.Post(ctx, url, payload)
		switch {
		case postErr != nil && ctx.Err() != nil:
			return nil, errCallerDone
		case postErr != nil:
			return nil, postErr
		case status >= http.StatusInternalServerError:
			return nil, errServerStatus
		}
		return nil, nil
	})

	switch {
	case err == nil, errors.Is(err, errServerStatus):
		return status, nil
	case errors.Is(err, errCallerDone):
		return 0, postErr
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return 0, ErrCircuitOpen
	default:
		return 0, err
	}
}

// State returns the current breaker state name: closed, half-open or open.
func (b *BreakerTransport) State() string {
	return b.breaker.State().String()
}

// Name returns the breaker name.
func (b *BreakerTransport) Name() string {
	return b.breaker.Name()
}

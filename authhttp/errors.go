// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package authhttp

import (
	"errors"
	"fmt"
)

var (
	// ErrPrecondition is returned when a required credential field is absent.
	ErrPrecondition = errors.New("missing required credential field")

	// ErrInvalidAccess is returned for an access kind outside read, write and subscribe.
	ErrInvalidAccess = errors.New("invalid access kind")

	// ErrTransport is returned when the remote authority cannot be reached.
	ErrTransport = errors.New("remote authority unreachable")

	// ErrPayload is returned when the request payload cannot be built.
	ErrPayload = errors.New("failed to build request payload")

	// ErrNonSuccessStatus is returned when the remote authority answers with a status other than 200.
	ErrNonSuccessStatus = errors.New("remote authority returned non-success status")

	// ErrRateLimited is returned when a caller exceeded its authority call budget.
	ErrRateLimited = errors.New("rate limited")
)

// StatusError carries the HTTP status returned by the remote authority.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d", ErrNonSuccessStatus, e.Code)
}

// Unwrap lets errors.Is match ErrNonSuccessStatus.
func (e *StatusError) Unwrap() error {
	return ErrNonSuccessStatus
}

// Reason returns a short, low-cardinality label for err, suitable for
// log attributes and metric dimensions.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrInvalidAccess):
		return "invalid_access"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrPayload):
		return "payload"
	case errors.Is(err, ErrNonSuccessStatus):
		return "status"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "unknown"
	}
}

// StatusCode extracts the authority's HTTP status from err, if any.
func StatusCode(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

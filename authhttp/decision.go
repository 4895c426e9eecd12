// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package authhttp

import "net/http"

// Decision is the outcome of a single decision call.
// The zero value is Denied.
type Decision uint8

const (
	Denied Decision = iota
	Allowed
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "denied"
}

// IsAllowed reports whether the decision permits the operation.
func (d Decision) IsAllowed() bool {
	return d == Allowed
}

// Map converts a transport outcome into a decision. A transport error or any
// status other than 200 is a denial; the returned error says why.
func Map(status int, err error) (Decision, error) {
	if err != nil {
		return Denied, err
	}
	if status != http.StatusOK {
		return Denied, &StatusError{Code: status}
	}
	return Allowed, nil
}

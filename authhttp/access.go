// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package authhttp

import "fmt"

// AccessKind is the kind of topic access being checked.
type AccessKind uint8

const (
	AccessRead AccessKind = iota + 1
	AccessWrite
	AccessSubscribe
)

// accessNames holds the wire names sent to the remote authority.
var accessNames = map[AccessKind]string{
	AccessRead:      "read",
	AccessWrite:     "write",
	AccessSubscribe: "sub",
}

// Valid reports whether k is one of read, write or subscribe.
func (k AccessKind) Valid() bool {
	_, ok := accessNames[k]
	return ok
}

// String returns the wire name of k, or "unknown".
func (k AccessKind) String() string {
	if name, ok := accessNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseAccessKind parses a wire name. "subscribe" is accepted as an alias of "sub".
func ParseAccessKind(s string) (AccessKind, error) {
	switch s {
	case "read":
		return AccessRead, nil
	case "write":
		return AccessWrite, nil
	case "sub", "subscribe":
		return AccessSubscribe, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAccess, s)
}

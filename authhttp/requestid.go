// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package authhttp

import (
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
)

// RequestIDLen is the length of a request ID in the 8-4-4-4-12 layout.
const RequestIDLen = 36

const hexDigits = "0123456789abcdef"

// RequestIDGenerator produces per-request tracing identifiers.
// Identifiers carry no security properties and are never persisted.
type RequestIDGenerator interface {
	Next() string
}

// RandomIDs fills every non-dash position with an independent, uniformly
// chosen hex digit. It is not a cryptographic source.
type RandomIDs struct {
	mu  sync.Mutex
	rng *rand.Rand
}

var _ RequestIDGenerator = (*RandomIDs)(nil)

// NewRandomIDs creates a generator backed by src. A nil src uses a PCG
// source seeded once at process start.
func NewRandomIDs(src rand.Source) *RandomIDs {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &RandomIDs{rng: rand.New(src)}
}

// Next returns a fresh 36 character identifier.
func (g *RandomIDs) Next() string {
	var buf [RequestIDLen]byte

	g.mu.Lock()
	for i := range buf {
		switch i {
		case 8, 13, 18, 23:
			buf[i] = '-'
		default:
			buf[i] = hexDigits[g.rng.IntN(len(hexDigits))]
		}
	}
	g.mu.Unlock()

	return string(buf[:])
}

// UUIDs produces RFC 4122 version 4 identifiers. They share the 8-4-4-4-12
// layout of RandomIDs, with fixed version and variant digits.
type UUIDs struct{}

var _ RequestIDGenerator = UUIDs{}

// NewUUIDs creates a UUID-backed generator.
func NewUUIDs() UUIDs {
	return UUIDs{}
}

var fallbackIDs = NewRandomIDs(nil)

// Next returns a new random UUID in its canonical string form. If the system
// entropy source fails it falls back to a RandomIDs identifier.
func (UUIDs) Next() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fallbackIDs.Next()
	}
	return id.String()
}

// ValidRequestID reports whether id has the 8-4-4-4-12 lowercase hex layout.
func ValidRequestID(id string) bool {
	if len(id) != RequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
				return false
			}
		}
	}
	return true
}

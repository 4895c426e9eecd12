// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package topics validates MQTT topic names and filters before they are
// submitted for an access decision.
package topics

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name: contains wildcards or illegal characters")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
)

const sharePrefix = "$share/"

// ValidateTopicName checks if the topic name is valid for PUBLISH (no wildcards).
func ValidateTopicName(topic string) error {
	if !wellFormed(topic) {
		return ErrInvalidTopicName
	}
	// "The Topic Name ... MUST NOT contain wildcard characters"
	if strings.ContainsAny(topic, "+#") {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidateFilter checks a SUBSCRIBE topic filter. '+' must occupy a whole
// level and '#' must be the last level. Shared subscriptions
// ($share/{ShareName}/{TopicFilter}) are validated on their topic filter.
func ValidateFilter(filter string) error {
	if !wellFormed(filter) {
		return ErrInvalidTopicFilter
	}

	if strings.HasPrefix(filter, sharePrefix) {
		name, rest, ok := strings.Cut(filter[len(sharePrefix):], "/")
		if !ok || name == "" || strings.ContainsAny(name, "+#") || rest == "" {
			return ErrInvalidTopicFilter
		}
		filter = rest
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return ErrInvalidTopicFilter
		}
	}
	return nil
}

// Validate checks topic as a filter when filter is set, as a topic name
// otherwise.
func Validate(topic string, filter bool) error {
	if filter {
		return ValidateFilter(topic)
	}
	return ValidateTopicName(topic)
}

func wellFormed(s string) bool {
	return s != "" && utf8.ValidString(s) && !strings.Contains(s, "\u0000")
}

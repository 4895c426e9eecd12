// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package authhttp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Schema selects the payload layout sent to the remote authority.
type Schema uint8

const (
	CredentialSchema Schema = iota + 1
	AccessSchema
)

func (s Schema) String() string {
	switch s {
	case CredentialSchema:
		return "credentials"
	case AccessSchema:
		return "acl"
	default:
		return "unknown"
	}
}

// Payload field names.
const (
	FieldUserName = "userName"
	FieldToken    = "token"
	FieldClientID = "clientId"
	FieldTopic    = "topic"
	FieldAccess   = "access"
)

// Fixed envelope values expected by the remote authority.
const (
	envelopeLanguage = "vi"
	envelopeChannel  = "MQTT_NOTIFY"
)

// Fields maps payload field names to raw values.
type Fields map[string]string

type deviceInfo struct {
	OSVersion  string `json:"osVersion"`
	OS         string `json:"os"`
	DeviceName string `json:"deviceName"`
	DeviceID   string `json:"deviceId"`
}

type envelope struct {
	Data       any        `json:"data"`
	DeviceInfo deviceInfo `json:"deviceInfo"`
	Language   string     `json:"language"`
	IPRequest  string     `json:"ipRequest"`
	Channel    string     `json:"channel"`
	RequestID  string     `json:"requestId"`
}

type credentialData struct {
	UserName string `json:"userName"`
	Token    string `json:"token"`
}

type accessData struct {
	ClientID string `json:"clientId"`
	UserName string `json:"userName"`
	Topic    string `json:"topic"`
	Access   string `json:"access"`
}

// Build serializes the payload for schema. Externally supplied values
// (user name, token, client ID, topic) are percent-escaped first; the access
// name and request ID are internal and only JSON encoded.
func Build(schema Schema, fields Fields, requestID string) ([]byte, error) {
	var data any
	switch schema {
	case CredentialSchema:
		user, pass, err := lookup2(fields, FieldUserName, FieldToken)
		if err != nil {
			return nil, err
		}
		data = credentialData{
			UserName: Escape(user),
			Token:    Escape(pass),
		}
	case AccessSchema:
		clientID, user, err := lookup2(fields, FieldClientID, FieldUserName)
		if err != nil {
			return nil, err
		}
		topic, access, err := lookup2(fields, FieldTopic, FieldAccess)
		if err != nil {
			return nil, err
		}
		data = accessData{
			ClientID: Escape(clientID),
			UserName: Escape(user),
			Topic:    Escape(topic),
			Access:   access,
		}
	default:
		return nil, fmt.Errorf("%w: unknown schema %d", ErrPayload, schema)
	}

	payload, err := json.Marshal(envelope{
		Data:      data,
		Language:  envelopeLanguage,
		Channel:   envelopeChannel,
		RequestID: requestID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayload, err)
	}
	return payload, nil
}

func lookup2(fields Fields, a, b string) (string, string, error) {
	va, ok := fields[a]
	if !ok {
		return "", "", fmt.Errorf("%w: missing field %s", ErrPayload, a)
	}
	vb, ok := fields[b]
	if !ok {
		return "", "", fmt.Errorf("%w: missing field %s", ErrPayload, b)
	}
	return va, vb, nil
}

// Escape percent-encodes every byte outside the URL unreserved set
// (A-Z a-z 0-9 - . _ ~). Spaces become %20.
func Escape(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	const upperHex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

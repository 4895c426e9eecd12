// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
)

var (
	errLoadServerCA = errors.New("failed to load Server CA")
	errAppendCA     = errors.New("failed to append root ca tls.Config")
)

// Config describes how the server certificate of an HTTPS authority is
// verified.
type Config struct {
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Enabled reports whether any client TLS setting is present.
func (c Config) Enabled() bool {
	return c.CAFile != "" || c.ServerName != "" || c.InsecureSkipVerify
}

// LoadClientConfig returns the client TLS configuration for c, or nil when
// no TLS setting is present and the system defaults apply.
func LoadClientConfig(c Config) (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	config := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	rootCA, err := loadCertFile(c.CAFile)
	if err != nil {
		return nil, errors.Join(errLoadServerCA, err)
	}
	if len(rootCA) > 0 {
		config.RootCAs = x509.NewCertPool()
		if !config.RootCAs.AppendCertsFromPEM(rootCA) {
			return nil, errAppendCA
		}
	}

	return config, nil
}

// SecurityStatus returns log message from TLS config.
func SecurityStatus(c *tls.Config) string {
	if c == nil {
		return "system defaults"
	}
	ret := "TLS"
	if c.RootCAs != nil {
		ret += " with custom CA"
	}
	if c.InsecureSkipVerify {
		ret += " (verification disabled)"
	}
	return ret
}

func loadCertFile(certFile string) ([]byte, error) {
	if certFile != "" {
		return os.ReadFile(certFile)
	}
	return []byte{}, nil
}

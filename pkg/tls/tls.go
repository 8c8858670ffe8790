// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var (
	errLoadCerts      = errors.New("failed to load certificates")
	errLoadClientCA   = errors.New("failed to load Client CA")
	errAppendCA       = errors.New("failed to append client ca to tls.Config")
	errUnknownAuthMod = errors.New("unknown client auth mode")
)

// Client authentication modes.
const (
	ClientAuthNone    = "none"
	ClientAuthRequest = "request"
	ClientAuthRequire = "require"
)

// Config describes the server side of a TLS listener.
type Config struct {
	CertFile   string
	KeyFile    string
	CAFile     string
	ClientAuth string
}

// LoadTLSConfig returns a server TLS configuration, or nil when no
// certificate is configured.
func LoadTLSConfig(c Config) (*tls.Config, error) {
	if c.CertFile == "" || c.KeyFile == "" {
		return nil, nil
	}

	certificate, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, errors.Join(errLoadCerts, err)
	}

	clientCA, err := loadCertFile(c.CAFile)
	if err != nil {
		return nil, errors.Join(errLoadClientCA, err)
	}

	config := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{certificate},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		},
	}

	if len(clientCA) > 0 {
		config.ClientCAs = x509.NewCertPool()
		if !config.ClientCAs.AppendCertsFromPEM(clientCA) {
			return nil, errAppendCA
		}
	}

	switch c.ClientAuth {
	case "", ClientAuthNone:
		config.ClientAuth = tls.NoClientCert
	case ClientAuthRequest:
		config.ClientAuth = tls.VerifyClientCertIfGiven
	case ClientAuthRequire:
		config.ClientAuth = tls.RequireAndVerifyClientCert
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownAuthMod, c.ClientAuth)
	}

	return config, nil
}

// SecurityStatus returns a log message describing the TLS config.
func SecurityStatus(c *tls.Config) string {
	if c == nil {
		return "no TLS"
	}
	ret := "TLS"
	if len(c.Certificates) == 0 {
		ret = "no server certificates"
	}
	if c.ClientCAs != nil {
		ret += " and " + c.ClientAuth.String()
	}
	return ret
}

func loadCertFile(certFile string) ([]byte, error) {
	if certFile != "" {
		return os.ReadFile(certFile)
	}
	return []byte{}, nil
}

// Package tlsutil builds crypto/tls configurations from security settings.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"slices"

	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/pkg/security"
)

// ClientConfig returns the tls.Config for an outbound connection. The system
// CA pool is extended with cfg.CAFiles.
func ClientConfig(cfg security.ClientTLSConfig) (*tls.Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	if err := appendPEMFiles(rootCAs, cfg.CAFiles); err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "ClientConfig", "load CA files")
	}

	tlsConfig := &tls.Config{
		RootCAs:            rootCAs,
		MinVersion:         parseTLSVersion(cfg.MinVersion),
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator opt-in
	}

	if cfg.MTLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.MTLS.CertFile, cfg.MTLS.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "ClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// ServerConfig returns the tls.Config for a listener, or nil when TLS is
// disabled.
func ServerConfig(cfg security.ServerTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "ServerConfig", "load certificate")
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}
	if !cfg.MTLS.Enabled {
		return tlsConfig, nil
	}

	clientCAs := x509.NewCertPool()
	if err := appendPEMFiles(clientCAs, cfg.MTLS.ClientCAFiles); err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "ServerConfig", "load client CA files")
	}
	tlsConfig.ClientCAs = clientCAs
	tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	if cfg.MTLS.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	if allowed := cfg.MTLS.AllowedClientCNs; len(allowed) > 0 {
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, chains [][]*x509.Certificate) error {
			return verifyClientCN(chains, allowed)
		}
	}
	return tlsConfig, nil
}

func appendPEMFiles(pool *x509.CertPool, files []string) error {
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return fmt.Errorf("no PEM certificates in %s", f)
		}
	}
	return nil
}

// verifyClientCN accepts a verified leaf whose common name is allowed.
// Without verified chains (no client certificate given) there is nothing to
// check.
func verifyClientCN(chains [][]*x509.Certificate, allowed []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return nil
	}
	cn := chains[0][0].Subject.CommonName
	if slices.Contains(allowed, cn) {
		return nil
	}
	return fmt.Errorf("client certificate CN %q not allowed", cn)
}

// parseTLSVersion defaults to TLS 1.2.
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

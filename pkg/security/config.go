// Package security holds the TLS settings shared by the network transports:
// the NATS connection, the websocket bridge, the webhook sink and the live
// websocket feed.
package security

import (
	"github.com/c360/bcistream/errors"
)

// ClientMTLSConfig provides a client certificate to servers that ask for one.
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
}

// ClientTLSConfig configures outbound TLS. The system CA pool is always
// trusted; CAFiles are added to it.
type ClientTLSConfig struct {
	CAFiles            []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"` // test benches only
	MinVersion         string   `json:"min_version,omitempty" yaml:"min_version,omitempty"`                   // "1.2" or "1.3"
	ServerName         string   `json:"server_name,omitempty" yaml:"server_name,omitempty"`

	MTLS ClientMTLSConfig `json:"mtls,omitempty" yaml:"mtls,omitempty"`
}

// Configured reports whether any setting departs from the defaults, in which
// case a custom tls.Config is needed.
func (c ClientTLSConfig) Configured() bool {
	return len(c.CAFiles) > 0 || c.InsecureSkipVerify || c.MinVersion != "" || c.ServerName != "" || c.MTLS.Enabled
}

// Validate checks the configuration.
func (c ClientTLSConfig) Validate() error {
	if err := validateVersion(c.MinVersion); err != nil {
		return err
	}
	if c.MTLS.Enabled && (c.MTLS.CertFile == "" || c.MTLS.KeyFile == "") {
		return errors.Invalidf(errors.ErrMissingConfig, "security.ClientTLSConfig", "Validate",
			"mtls needs cert_file and key_file")
	}
	return nil
}

// ServerMTLSConfig verifies client certificates.
type ServerMTLSConfig struct {
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty" yaml:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty" yaml:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty" yaml:"allowed_client_cns,omitempty"`
}

// ServerTLSConfig configures inbound TLS for a listener.
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	CertFile   string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"`

	MTLS ServerMTLSConfig `json:"mtls,omitempty" yaml:"mtls,omitempty"`
}

// Validate checks the configuration.
func (c ServerTLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return errors.Invalidf(errors.ErrMissingConfig, "security.ServerTLSConfig", "Validate",
			"tls needs cert_file and key_file")
	}
	if c.MTLS.Enabled && len(c.MTLS.ClientCAFiles) == 0 {
		return errors.Invalidf(errors.ErrMissingConfig, "security.ServerTLSConfig", "Validate",
			"mtls needs at least one client CA file")
	}
	return validateVersion(c.MinVersion)
}

func validateVersion(v string) error {
	switch v {
	case "", "1.2", "1.3":
		return nil
	default:
		return errors.Invalidf(errors.ErrInvalidConfig, "security", "Validate",
			"min_version must be 1.2 or 1.3, got %q", v)
	}
}

package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/pkg/security"
)

type certFiles struct {
	cert, key string
}

// writeCert creates a self-signed certificate that also serves as its own CA.
func writeCert(t *testing.T, cn string, usage x509.ExtKeyUsage) certFiles {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"bcistream test"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{usage},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	files := certFiles{cert: filepath.Join(dir, cn+".pem"), key: filepath.Join(dir, cn+"-key.pem")}
	require.NoError(t, os.WriteFile(files.cert, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(files.key, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return files
}

func TestClientConfig(t *testing.T) {
	ca := writeCert(t, "ca", x509.ExtKeyUsageServerAuth)
	client := writeCert(t, "node", x509.ExtKeyUsageClientAuth)
	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0o600))

	tests := []struct {
		name    string
		cfg     security.ClientTLSConfig
		wantErr bool
		check   func(*testing.T, *tls.Config)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, c *tls.Config) {
				assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
				assert.NotNil(t, c.RootCAs)
				assert.False(t, c.InsecureSkipVerify)
				assert.Empty(t, c.Certificates)
			},
		},
		{
			name: "extra CA and server name",
			cfg:  security.ClientTLSConfig{CAFiles: []string{ca.cert}, ServerName: "nats.local", MinVersion: "1.3"},
			check: func(t *testing.T, c *tls.Config) {
				assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
				assert.Equal(t, "nats.local", c.ServerName)
			},
		},
		{
			name: "insecure",
			cfg:  security.ClientTLSConfig{InsecureSkipVerify: true},
			check: func(t *testing.T, c *tls.Config) {
				assert.True(t, c.InsecureSkipVerify)
			},
		},
		{
			name: "client certificate",
			cfg: security.ClientTLSConfig{MTLS: security.ClientMTLSConfig{
				Enabled: true, CertFile: client.cert, KeyFile: client.key,
			}},
			check: func(t *testing.T, c *tls.Config) {
				assert.Len(t, c.Certificates, 1)
			},
		},
		{name: "missing CA file", cfg: security.ClientTLSConfig{CAFiles: []string{"/nonexistent/ca.pem"}}, wantErr: true},
		{name: "CA file without PEM", cfg: security.ClientTLSConfig{CAFiles: []string{garbage}}, wantErr: true},
		{name: "bad version", cfg: security.ClientTLSConfig{MinVersion: "1.0"}, wantErr: true},
		{
			name:    "mtls without key",
			cfg:     security.ClientTLSConfig{MTLS: security.ClientMTLSConfig{Enabled: true, CertFile: client.cert}},
			wantErr: true,
		},
		{
			name: "mtls with mismatched key",
			cfg: security.ClientTLSConfig{MTLS: security.ClientMTLSConfig{
				Enabled: true, CertFile: client.cert, KeyFile: ca.key,
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ClientConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func TestClientTLSConfig_Configured(t *testing.T) {
	assert.False(t, security.ClientTLSConfig{}.Configured())
	assert.True(t, security.ClientTLSConfig{MinVersion: "1.3"}.Configured())
	assert.True(t, security.ClientTLSConfig{MTLS: security.ClientMTLSConfig{Enabled: true}}.Configured())
}

func TestServerConfig(t *testing.T) {
	server := writeCert(t, "localhost", x509.ExtKeyUsageServerAuth)
	clientCA := writeCert(t, "node", x509.ExtKeyUsageClientAuth)

	tests := []struct {
		name     string
		cfg      security.ServerTLSConfig
		wantNil  bool
		wantErr  bool
		wantAuth tls.ClientAuthType
	}{
		{name: "disabled", wantNil: true},
		{
			name:     "certificate only",
			cfg:      security.ServerTLSConfig{Enabled: true, CertFile: server.cert, KeyFile: server.key},
			wantAuth: tls.NoClientCert,
		},
		{
			name: "optional client cert",
			cfg: security.ServerTLSConfig{Enabled: true, CertFile: server.cert, KeyFile: server.key,
				MTLS: security.ServerMTLSConfig{Enabled: true, ClientCAFiles: []string{clientCA.cert}}},
			wantAuth: tls.VerifyClientCertIfGiven,
		},
		{
			name: "required client cert",
			cfg: security.ServerTLSConfig{Enabled: true, CertFile: server.cert, KeyFile: server.key,
				MTLS: security.ServerMTLSConfig{Enabled: true, ClientCAFiles: []string{clientCA.cert}, RequireClientCert: true}},
			wantAuth: tls.RequireAndVerifyClientCert,
		},
		{name: "missing key", cfg: security.ServerTLSConfig{Enabled: true, CertFile: server.cert}, wantErr: true},
		{
			name:    "unreadable cert",
			cfg:     security.ServerTLSConfig{Enabled: true, CertFile: "/nonexistent.pem", KeyFile: server.key},
			wantErr: true,
		},
		{
			name: "mtls without CA",
			cfg: security.ServerTLSConfig{Enabled: true, CertFile: server.cert, KeyFile: server.key,
				MTLS: security.ServerMTLSConfig{Enabled: true}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ServerConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, c)
				return
			}
			require.NotNil(t, c)
			assert.Len(t, c.Certificates, 1)
			assert.Equal(t, tt.wantAuth, c.ClientAuth)
		})
	}
}

func TestServerConfig_ValidationIsClassified(t *testing.T) {
	_, err := ServerConfig(security.ServerTLSConfig{Enabled: true})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestVerifyClientCN(t *testing.T) {
	leaf := &x509.Certificate{Subject: pkix.Name{CommonName: "node-1"}}
	assert.NoError(t, verifyClientCN([][]*x509.Certificate{{leaf}}, []string{"node-1", "node-2"}))
	assert.Error(t, verifyClientCN([][]*x509.Certificate{{leaf}}, []string{"node-2"}))
	assert.NoError(t, verifyClientCN(nil, []string{"node-2"}))
}

func TestMutualTLSHandshake(t *testing.T) {
	server := writeCert(t, "localhost", x509.ExtKeyUsageServerAuth)
	allowed := writeCert(t, "bci-node", x509.ExtKeyUsageClientAuth)
	intruder := writeCert(t, "intruder", x509.ExtKeyUsageClientAuth)

	serverTLS, err := ServerConfig(security.ServerTLSConfig{
		Enabled: true, CertFile: server.cert, KeyFile: server.key,
		MTLS: security.ServerMTLSConfig{
			Enabled:           true,
			ClientCAFiles:     []string{allowed.cert, intruder.cert},
			RequireClientCert: true,
			AllowedClientCNs:  []string{"bci-node"},
		},
	})
	require.NoError(t, err)

	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	ts.TLS = serverTLS
	ts.StartTLS()
	defer ts.Close()

	get := func(client certFiles, withCert bool) error {
		cfg := security.ClientTLSConfig{CAFiles: []string{server.cert}}
		if withCert {
			cfg.MTLS = security.ClientMTLSConfig{Enabled: true, CertFile: client.cert, KeyFile: client.key}
		}
		clientTLS, err := ClientConfig(cfg)
		require.NoError(t, err)
		hc := &http.Client{Transport: &http.Transport{TLSClientConfig: clientTLS}, Timeout: 5 * time.Second}
		resp, err := hc.Get(ts.URL)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		return nil
	}

	assert.NoError(t, get(allowed, true))
	assert.Error(t, get(intruder, true))
	assert.Error(t, get(allowed, false))
}

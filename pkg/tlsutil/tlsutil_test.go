package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rensir56/SegTool-for-Jade/errors"
)

// generateTestCert creates a self-signed certificate for testing
func generateTestCert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   "segdispatch",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

// setupTestFiles writes a cert, its key and the same cert as a CA bundle.
func setupTestFiles(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	tmpDir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t)

	certFile = filepath.Join(tmpDir, "cert.pem")
	keyFile = filepath.Join(tmpDir, "key.pem")
	caFile = filepath.Join(tmpDir, "ca.pem")

	require.NoError(t, os.WriteFile(certFile, certPEM, 0644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0644))
	return certFile, keyFile, caFile
}

func TestLoadClientTLSConfig_Disabled(t *testing.T) {
	cfg, err := LoadClientTLSConfig(ClientConfig{CAFiles: []string{"/does/not/exist"}})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadClientTLSConfig(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)

	tests := []struct {
		name      string
		cfg       ClientConfig
		wantErr   bool
		wantCerts int
		wantMin   uint16
	}{
		{
			name:    "system roots only",
			cfg:     ClientConfig{Enabled: true},
			wantMin: tls.VersionTLS12,
		},
		{
			name:    "extra CA and TLS 1.3",
			cfg:     ClientConfig{Enabled: true, CAFiles: []string{caFile}, MinVersion: "1.3"},
			wantMin: tls.VersionTLS13,
		},
		{
			name:      "mutual TLS",
			cfg:       ClientConfig{Enabled: true, CAFiles: []string{caFile}, CertFile: certFile, KeyFile: keyFile},
			wantCerts: 1,
			wantMin:   tls.VersionTLS12,
		},
		{
			name:    "missing CA file",
			cfg:     ClientConfig{Enabled: true, CAFiles: []string{filepath.Join(t.TempDir(), "nope.pem")}},
			wantErr: true,
		},
		{
			name:    "key without cert",
			cfg:     ClientConfig{Enabled: true, KeyFile: keyFile},
			wantErr: true,
		},
		{
			name:    "CA file with garbage",
			cfg:     ClientConfig{Enabled: true, CAFiles: []string{keyFile + ".bad"}},
			wantErr: true,
		},
	}

	require.NoError(t, os.WriteFile(keyFile+".bad", []byte("not pem"), 0600))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadClientTLSConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.NotNil(t, got.RootCAs)
			assert.Len(t, got.Certificates, tt.wantCerts)
			assert.Equal(t, tt.wantMin, got.MinVersion)
		})
	}
}

func TestLoadClientTLSConfig_HalfPairIsInvalid(t *testing.T) {
	certFile, _, _ := setupTestFiles(t)
	_, err := LoadClientTLSConfig(ClientConfig{Enabled: true, CertFile: certFile})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

package api

import (
	"crypto/tls"
	"fmt"
	"os"
	"sync"
	"time"
)

// TLSConfig holds the certificate paths from device.yaml.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

var tlsConfig *TLSConfig

// InitTLS enables TLS when both paths are set.
func InitTLS(certFile, keyFile string) {
	tlsConfig = nil
	if certFile != "" && keyFile != "" {
		tlsConfig = &TLSConfig{CertFile: certFile, KeyFile: keyFile}
	}
}

// IsTLSEnabled returns true if TLS is configured.
func IsTLSEnabled() bool {
	return tlsConfig != nil && tlsConfig.CertFile != "" && tlsConfig.KeyFile != ""
}

// GetTLSConfig returns the current TLS configuration (may be nil).
func GetTLSConfig() *TLSConfig {
	return tlsConfig
}

// LoadTLSConfig loads the key pair and serves it through a reloader, so a
// certificate renewed on disk is picked up without restarting the router.
// It returns nil, nil when TLS is off.
func LoadTLSConfig() (*tls.Config, error) {
	if !IsTLSEnabled() {
		return nil, nil
	}

	r := &certReloader{certFile: tlsConfig.CertFile, keyFile: tlsConfig.KeyFile}
	if err := r.reload(); err != nil {
		return nil, err
	}

	return &tls.Config{
		GetCertificate: r.getCertificate,
		MinVersion:     tls.VersionTLS12,
	}, nil
}

// SetTLSConfigForTest allows tests to set TLS config directly.
func SetTLSConfigForTest(cfg *TLSConfig) {
	tlsConfig = cfg
}

// certReloader re-reads the key pair when the certificate file's mtime moves.
type certReloader struct {
	certFile string
	keyFile  string

	mu      sync.Mutex
	cert    *tls.Certificate
	modTime time.Time
}

func (r *certReloader) reload() error {
	info, err := os.Stat(r.certFile)
	if err != nil {
		return fmt.Errorf("load TLS certificate: %w", err)
	}
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("load TLS certificate: %w", err)
	}

	r.mu.Lock()
	r.cert = &cert
	r.modTime = info.ModTime()
	r.mu.Unlock()
	return nil
}

func (r *certReloader) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.Lock()
	current, modTime := r.cert, r.modTime
	r.mu.Unlock()

	if info, err := os.Stat(r.certFile); err == nil && !info.ModTime().Equal(modTime) {
		// A half-written renewal keeps the old pair in service.
		if err := r.reload(); err == nil {
			r.mu.Lock()
			current = r.cert
			r.mu.Unlock()
		}
	}
	return current, nil
}

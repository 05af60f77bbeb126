package fetch

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

// TLSFiles names the PEM files used to talk to the server
type TLSFiles struct {
	CACert     string
	ClientCert string
	ClientKey  string
}

// LoadTLSConfig builds a client TLS config. Empty fields fall back to the
// system roots and no client certificate.
func LoadTLSConfig(files TLSFiles) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if files.CACert != "" {
		pem, err := os.ReadFile(files.CACert)
		if err != nil {
			return nil, fmt.Errorf("read ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse ca cert %s: no certificates found", files.CACert)
		}
		cfg.RootCAs = pool
	}

	if files.ClientCert != "" || files.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(files.ClientCert, files.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// NewHTTPClient returns a client using tlsConfig. Only the wait for response
// headers is bounded.
func NewHTTPClient(tlsConfig *tls.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	transport.ResponseHeaderTimeout = 30 * time.Second
	return &http.Client{Transport: transport}
}

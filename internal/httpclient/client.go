// Package httpclient provides the HTTP client factory used for artifact
// downloads, with consistent timeout and observability behavior.
//
// The factory composes a logging transport over a pooled TLS transport:
//   - Request logging with method, status and duration
//   - User-Agent header injection
//   - TLS 1.2+ with secure defaults
//   - Connection pooling for performance
//
// Retries are deliberately not part of this client: a failed provisioning
// download is terminal for the run, and the outer supervisor (a container
// restart policy) is the retry mechanism.
//
// Example usage:
//
//	cfg := httpclient.DefaultConfig()
//	client, err := httpclient.New(cfg)
//	if err != nil {
//	    return err
//	}
//
//	resp, err := client.Get("https://dl.meshvpn.io/stable/mesh_1.82.0_amd64.tgz")
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// New creates a new HTTP client with the given configuration.
// Returns an error if the configuration is invalid.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseTransport := &http.Transport{
		// TLS configuration: 1.2 minimum, 1.3 preferred
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS13,
		},

		// Connection pooling settings
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		// Timeouts
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: newLoggingTransport(baseTransport, cfg.UserAgent),
		Timeout:   cfg.Timeout,
	}, nil
}

// File: internal/network/httpclient.go
package network

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/vantor-labs/concierge/internal/config"
)

// Defaults for outbound API traffic. The concierge talks to a handful of
// provider endpoints over long-lived connections, so the pool is small and
// keep-alives stay on.
const (
	defaultDialTimeout           = 5 * time.Second
	defaultKeepAliveInterval     = 15 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 30 * time.Second
	defaultRequestTimeout        = 30 * time.Second

	defaultMaxIdleConns        = 10
	defaultMaxIdleConnsPerHost = 4
	defaultIdleConnTimeout     = 90 * time.Second
)

// NewClient builds the shared outbound HTTP client. requestTimeout bounds the
// whole exchange including the body; zero selects the default.
//
// The caller is responsible for closing the Response.Body after consuming it.
func NewClient(cfg config.NetworkConfig, requestTimeout time.Duration) *http.Client {
	if requestTimeout <= 0 {
		requestTimeout = cfg.Timeout
	}
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	dialer := &net.Dialer{
		Timeout:   defaultDialTimeout,
		KeepAlive: defaultKeepAliveInterval,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ForceAttemptHTTP2:     true,
	}

	// Configure HTTP/2 explicitly so the transport reuses a single stream-
	// multiplexed connection per provider host.
	if err := http2.ConfigureTransport(transport); err != nil {
		// Fall back to HTTP/1.1 on a misconfigured transport; the client
		// still works, just without multiplexing.
		transport.ForceAttemptHTTP2 = false
	}

	return &http.Client{
		Transport: transport,
		Timeout:   requestTimeout,
	}
}

package transport

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewHTTPClient builds an HTTP client whose transport negotiates HTTP/2,
// so concurrent transfers to one origin share multiplexed connections.
func NewHTTPClient(cfg PoolConfig) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
	}

	h2, err := http2.ConfigureTransports(tr)
	if err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}
	h2.ReadIdleTimeout = 30 * time.Second

	return &http.Client{Transport: tr}, nil
}

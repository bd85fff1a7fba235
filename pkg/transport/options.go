package transport

import (
	"net/http"
	"time"
)

// Options holds the per-handle transfer configuration applied by a Factory.
type Options struct {
	// Timeout bounds a single transfer, from connect to the last body byte (0 disables).
	Timeout time.Duration

	// MaxBodyBytes caps the response body size (0 disables).
	MaxBodyBytes int64

	// FollowRedirects enables following 3xx Location headers.
	FollowRedirects bool

	// MaxRedirects limits the redirect chain when FollowRedirects is set.
	MaxRedirects int

	// UserAgent is set on requests that carry no User-Agent header.
	UserAgent string

	// DefaultHeaders fill in header keys the request does not set itself.
	DefaultHeaders http.Header
}

// DefaultOptions returns a safe default transfer configuration.
func DefaultOptions() Options {
	return Options{
		Timeout:         30 * time.Second,
		MaxBodyBytes:    0,
		FollowRedirects: true,
		MaxRedirects:    10,
		UserAgent:       "go-multihttp/0.1.0",
	}
}

// PoolConfig configures the shared connection pool behind a driver or client.
type PoolConfig struct {
	// DialTimeout bounds TCP connection establishment.
	DialTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	TLSHandshakeTimeout time.Duration

	// MaxConnsPerHost limits connections per origin (0 means unlimited).
	// HTTP/2 origins multiplex all transfers over these connections.
	MaxConnsPerHost int

	// IdleConnTimeout closes pooled connections idle for longer than this.
	IdleConnTimeout time.Duration
}

// DefaultPoolConfig returns the default connection pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
	}
}

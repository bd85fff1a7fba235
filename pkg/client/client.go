// Package client provides a synchronous HTTP client built on the same
// handle factory and response parser as the parallel executor, with an
// optional Redis response cache.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/go-multihttp/pkg/cache"
	"github.com/Sternrassler/go-multihttp/pkg/logging"
	"github.com/Sternrassler/go-multihttp/pkg/response"
	"github.com/Sternrassler/go-multihttp/pkg/transport"
	"github.com/rs/zerolog"
)

// Client performs one request at a time.
type Client struct {
	httpClient *http.Client
	ownClient  bool
	factory    *transport.Factory
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Transfer options applied to every request
	Options transport.Options

	// Pool configures the connection pool when HTTPClient is nil
	Pool transport.PoolConfig

	// HTTPClient overrides the pooled client (optional)
	HTTPClient *http.Client

	// Cache enables response caching with conditional revalidation (optional)
	Cache *cache.Manager

	// VaryHeaders are request headers whose values select a cached variant
	VaryHeaders []string

	// Logger overrides the component logger (optional)
	Logger *zerolog.Logger
}

// DefaultConfig returns a default configuration without caching.
func DefaultConfig() Config {
	return Config{
		Options:     transport.DefaultOptions(),
		Pool:        transport.DefaultPoolConfig(),
		VaryHeaders: []string{"Accept"},
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.Options.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Options.Timeout)
	}
	if cfg.Options.MaxRedirects < 0 {
		return nil, fmt.Errorf("max_redirects must be >= 0 (got %d)", cfg.Options.MaxRedirects)
	}

	httpClient := cfg.HTTPClient
	ownClient := false
	if httpClient == nil {
		var err error
		httpClient, err = transport.NewHTTPClient(cfg.Pool)
		if err != nil {
			return nil, fmt.Errorf("create http client: %w", err)
		}
		ownClient = true
	}

	logger := logging.NewLogger("client")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		httpClient: httpClient,
		ownClient:  ownClient,
		factory:    transport.NewFactory(cfg.Options),
		cache:      cfg.Cache,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Do sends req and returns the parsed response.
//
// Any HTTP status is a response, not an error. Errors are a
// *transport.RequestError for invalid requests or a *transport.TransportError
// when no response could be obtained. req is never modified.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, &transport.RequestError{Err: fmt.Errorf("%w: nil request", transport.ErrInvalidRequest)}
	}
	ctx := req.Context()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check Cache
	out := req
	var cacheKey cache.Key
	var cachedEntry *cache.Entry
	useCache := c.cache != nil && method == http.MethodGet
	if useCache {
		cacheKey = cache.KeyFor(req, c.config.VaryHeaders...)

		entry, err := c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", cacheKey.String()).Msg("Cache get error")
		}
		cachedEntry = entry
	}

	// Step 2: Make Conditional Request if cache hit
	if cache.ShouldMakeConditionalRequest(cachedEntry) {
		out = req.Clone(ctx)
		cache.AddConditionalHeaders(out, cachedEntry)
		cache.ConditionalRequestsSent.Inc()
		c.logger.Debug().
			Str("url", req.URL.Redacted()).
			Str("etag", cachedEntry.ETag).
			Msg("Making conditional request")
	}

	// Step 3: Build and perform the transfer
	h, err := c.factory.CreateHandle(out)
	if err != nil {
		errorsTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	c.logger.Debug().Str("method", h.Method()).Str("url", h.URL()).Msg("Executing request")

	if err := h.Perform(ctx, c.httpClient); err != nil {
		var terr *transport.TransportError
		class := string(transport.ClassNetwork)
		if errors.As(err, &terr) {
			class = string(terr.Class)
		}
		errorsTotal.WithLabelValues(class).Inc()
		requestsTotal.WithLabelValues(method, "error").Inc()
		c.logger.Warn().Err(err).Str("error_class", class).Msg("Request failed")
		return nil, err
	}

	resp, err := response.Parse(h.Raw(), h)
	if err != nil {
		errorsTotal.WithLabelValues(string(transport.ClassProtocol)).Inc()
		return nil, &transport.TransportError{
			Class:  transport.ClassProtocol,
			Method: h.Method(),
			URL:    h.URL(),
			Err:    err,
		}
	}
	resp.Request = req
	requestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	// Step 4: Handle 304 Not Modified
	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		cache.NotModifiedResponses.Inc()
		c.logger.Debug().Str("url", h.URL()).Msg("304 Not Modified - using cache")

		if err := c.cache.UpdateTTL(ctx, cacheKey, cache.ExpiresFrom(resp.Header)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
		}

		resp.Body.Close()
		cached := cache.EntryToResponse(cachedEntry)
		cached.Request = req
		return cached, nil
	}

	// Step 5: Update Cache on success
	if useCache && cache.Cacheable(resp) {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		} else {
			c.logger.Debug().
				Str("key", cacheKey.String()).
				Dur("ttl", entry.TTL()).
				Bool("revalidatable", entry.Revalidatable()).
				Msg("Cached response")
		}
	}

	return resp, nil
}

// Get performs a GET request to url.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// Close releases pooled connections of a client-owned pool.
func (c *Client) Close() error {
	if c.ownClient {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}

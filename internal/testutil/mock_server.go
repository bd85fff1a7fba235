// Package testutil provides testing utilities for the HTTP client packages.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockServer is a configurable mock HTTP server for testing.
type MockServer struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	requestCount     int
	conditionalCount int
	paths            map[string]int
	lastHeader       http.Header
	lastBody         []byte
}

// NewMockServer creates and starts a new mock server.
func NewMockServer() *MockServer {
	mock := &MockServer{
		handlers: make(map[string]http.HandlerFunc),
		paths:    make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.requestCount++
		mock.paths[r.URL.Path]++
		mock.lastHeader = r.Header.Clone()
		mock.lastBody = body
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.conditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server base URL.
func (m *MockServer) URL() string {
	return m.server.URL
}

// Client returns an HTTP client wired to the server.
func (m *MockServer) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.paths = make(map[string]int)
	m.lastHeader = nil
	m.lastBody = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockServer) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockServer) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" && r.Method != http.MethodHead {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests received.
func (m *MockServer) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PathCount returns the number of requests received for path.
func (m *MockServer) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths[path]
}

// ConditionalCount returns the number of conditional requests received.
func (m *MockServer) ConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// LastHeader returns the headers of the most recent request.
func (m *MockServer) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader.Clone()
}

// LastBody returns the body of the most recent request.
func (m *MockServer) LastBody() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.lastBody...)
}

// defaultHandler answers 200 with a small JSON document echoing the method.
func (m *MockServer) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Request-Method", r.Method)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write([]byte(`{"status": "ok"}`))
	}
}

// NewJSONResponse creates a 200 OK JSON response with caching headers.
func NewJSONResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"ETag":         `"test-etag-123"`,
			"Expires":      time.Now().Add(5 * time.Minute).Format(http.TimeFormat),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewStatusResponse creates a plain response with the given status code.
func NewStatusResponse(status int, body string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "text/plain; charset=utf-8",
		},
	}
}

// NewDelayedResponse creates a 200 OK response sent after delay.
func NewDelayedResponse(data string, delay time.Duration) MockResponse {
	resp := NewStatusResponse(http.StatusOK, data)
	resp.Delay = delay
	return resp
}

// NewRedirectHandler creates a handler redirecting to target.
func NewRedirectHandler(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// NewConditionalHandler creates a handler that responds with 304 for matching conditional requests.
func NewConditionalHandler(etag string, data string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Expires", time.Now().Add(5*time.Minute).Format(http.TimeFormat))

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(data))
	}
}

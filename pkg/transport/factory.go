package transport

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Factory turns immutable requests into transfer handles.
type Factory struct {
	opts Options
}

// NewFactory creates a handle factory applying opts to every handle.
func NewFactory(opts Options) *Factory {
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = 0
	}
	opts.DefaultHeaders = opts.DefaultHeaders.Clone()
	return &Factory{opts: opts}
}

// Options returns the options applied to created handles.
func (f *Factory) Options() Options {
	return f.opts
}

// CreateHandle validates req and returns a new, independently executable handle.
//
// The request is never modified. Its body is snapshotted through GetBody when
// available; a body without GetBody is consumed by the first call.
// A non-empty body on a GET request is rejected with ErrBodyNotAllowed.
func (f *Factory) CreateHandle(req *http.Request) (*Handle, error) {
	if req == nil {
		return nil, &RequestError{Err: fmt.Errorf("%w: nil request", ErrInvalidRequest)}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if strings.ContainsAny(method, " \t\r\n") {
		return nil, &RequestError{Method: method, Err: fmt.Errorf("%w: malformed method", ErrInvalidRequest)}
	}

	if req.URL == nil {
		return nil, &RequestError{Method: method, Err: fmt.Errorf("%w: nil URL", ErrInvalidRequest)}
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return nil, &RequestError{
			Method: method,
			URL:    req.URL.Redacted(),
			Err:    fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRequest, req.URL.Scheme),
		}
	}
	if req.URL.Host == "" {
		return nil, &RequestError{Method: method, URL: req.URL.Redacted(), Err: fmt.Errorf("%w: missing host", ErrInvalidRequest)}
	}

	if method == http.MethodGet && req.ContentLength > 0 {
		return nil, &RequestError{Method: method, URL: req.URL.Redacted(), Err: ErrBodyNotAllowed}
	}

	body, err := snapshotBody(req)
	if err != nil {
		return nil, &RequestError{Method: method, URL: req.URL.Redacted(), Err: fmt.Errorf("read request body: %w", err)}
	}
	if method == http.MethodGet && len(body) > 0 {
		return nil, &RequestError{Method: method, URL: req.URL.Redacted(), Err: ErrBodyNotAllowed}
	}

	prepared := req.Clone(req.Context())
	prepared.Method = method
	prepared.Body = nil
	prepared.GetBody = nil
	prepared.ContentLength = int64(len(body))
	if prepared.Header == nil {
		prepared.Header = make(http.Header)
	}

	user := prepared.URL.User
	prepared.URL.User = nil
	if user != nil && prepared.Header.Get("Authorization") == "" {
		password, _ := user.Password()
		prepared.SetBasicAuth(user.Username(), password)
	}

	for key, values := range f.opts.DefaultHeaders {
		if len(prepared.Header.Values(key)) > 0 {
			continue
		}
		for _, v := range values {
			prepared.Header.Add(key, v)
		}
	}
	if f.opts.UserAgent != "" && prepared.Header.Get("User-Agent") == "" {
		prepared.Header.Set("User-Agent", f.opts.UserAgent)
	}

	h := &Handle{
		req:   prepared,
		body:  body,
		opts:  f.opts,
		state: stateCreated,
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost:
		h.verb = method
	default:
		h.customMethod = method
	}

	return h, nil
}

// snapshotBody reads the request body without disturbing the request when possible.
func snapshotBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}

	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

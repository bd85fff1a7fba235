package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

type handleState int

const (
	stateCreated handleState = iota
	stateAdded
	stateRunning
	stateDone
	stateRemoved
)

// Handle is an independently executable transfer for one request.
// It is created by a Factory, performed once (directly or through a Multi),
// and afterwards exposes the raw transfer result for the response parser.
type Handle struct {
	req          *http.Request
	body         []byte
	verb         string
	customMethod string
	opts         Options

	mu           sync.Mutex
	state        handleState
	finished     bool
	owner        *Multi
	raw          []byte
	headerSize   int
	statusCode   int
	proto        string
	effectiveURL string
	err          *TransportError
	duration     time.Duration
}

// Method returns the request method the handle will send.
func (h *Handle) Method() string {
	if h.customMethod != "" {
		return h.customMethod
	}
	return h.verb
}

// CustomMethod returns the verb sent through the custom-method option,
// or "" for GET, HEAD and POST.
func (h *Handle) CustomMethod() string {
	return h.customMethod
}

// URL returns the target URL without credentials.
func (h *Handle) URL() string {
	return h.req.URL.String()
}

// Header returns a copy of the headers the handle will send.
func (h *Handle) Header() http.Header {
	return h.req.Header.Clone()
}

// Body returns a copy of the request body snapshot.
func (h *Handle) Body() []byte {
	return bytes.Clone(h.body)
}

// Timeout returns the per-transfer timeout.
func (h *Handle) Timeout() time.Duration {
	return h.opts.Timeout
}

// Done reports whether the transfer has finished, successfully or not.
func (h *Handle) Done() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finished
}

// Raw returns the header block followed by the body bytes.
func (h *Handle) Raw() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.raw
}

// HeaderSize returns the length of the header block at the start of Raw.
func (h *Handle) HeaderSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.headerSize
}

// StatusCode returns the final response status code.
func (h *Handle) StatusCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusCode
}

// Proto returns the protocol version of the final response.
func (h *Handle) Proto() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.proto
}

// EffectiveURL returns the URL of the final response after redirects.
func (h *Handle) EffectiveURL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.effectiveURL
}

// Duration returns how long the transfer took.
func (h *Handle) Duration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.duration
}

// Err returns the transport error of a finished transfer, or nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		return nil
	}
	return h.err
}

// Perform runs the transfer synchronously on client.
// A handle can be performed only once and not while owned by a Multi.
func (h *Handle) Perform(ctx context.Context, client *http.Client) error {
	h.mu.Lock()
	if h.state != stateCreated {
		h.mu.Unlock()
		return ErrHandleInUse
	}
	h.state = stateRunning
	h.mu.Unlock()

	h.transfer(ctx, client)
	return h.Err()
}

// transfer executes the request and records the raw result.
// ctx bounds the transfer in addition to the request's own context.
func (h *Handle) transfer(ctx context.Context, client *http.Client) {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.req.Context(), cancel)
	defer stop()

	if h.opts.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, h.opts.Timeout)
		defer cancelTimeout()
	}

	c := *client
	c.CheckRedirect = h.checkRedirect

	resp, err := c.Do(h.newRequest(ctx))
	if err != nil {
		h.fail(err, start)
		return
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s\r\n", resp.Proto, resp.Status)
	if err := resp.Header.Write(&buf); err != nil {
		h.fail(fmt.Errorf("write header block: %w", err), start)
		return
	}
	buf.WriteString("\r\n")
	headerSize := buf.Len()

	if h.verb != http.MethodHead {
		var body io.Reader = resp.Body
		if h.opts.MaxBodyBytes > 0 {
			body = io.LimitReader(resp.Body, h.opts.MaxBodyBytes+1)
		}
		n, err := io.Copy(&buf, body)
		if err != nil {
			h.fail(fmt.Errorf("read response body: %w", err), start)
			return
		}
		if h.opts.MaxBodyBytes > 0 && n > h.opts.MaxBodyBytes {
			h.fail(fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, h.opts.MaxBodyBytes), start)
			return
		}
	}

	effectiveURL := h.URL()
	if resp.Request != nil && resp.Request.URL != nil {
		effectiveURL = resp.Request.URL.String()
	}

	h.mu.Lock()
	h.raw = buf.Bytes()
	h.headerSize = headerSize
	h.statusCode = resp.StatusCode
	h.proto = resp.Proto
	h.effectiveURL = effectiveURL
	h.duration = time.Since(start)
	h.state = stateDone
	h.finished = true
	h.mu.Unlock()
}

// newRequest builds the outbound request for one transfer.
func (h *Handle) newRequest(ctx context.Context) *http.Request {
	r := h.req.Clone(ctx)
	r.Method = h.Method()
	if len(h.body) == 0 {
		r.Body = http.NoBody
		r.GetBody = nil
		r.ContentLength = 0
		return r
	}
	body := h.body
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	r.ContentLength = int64(len(body))
	return r
}

func (h *Handle) checkRedirect(req *http.Request, via []*http.Request) error {
	if !h.opts.FollowRedirects {
		return http.ErrUseLastResponse
	}
	if len(via) >= h.opts.MaxRedirects {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	return nil
}

// fail records err as the transfer's outcome.
func (h *Handle) fail(err error, start time.Time) {
	terr := &TransportError{
		Class:  classifyError(err),
		Method: h.Method(),
		URL:    h.URL(),
		Err:    err,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = terr
	h.duration = time.Since(start)
	h.state = stateDone
	h.finished = true
}

// IncompleteError describes a handle that never reported completion.
// A handle that did finish with an error returns that error instead.
func IncompleteError(h *Handle) *TransportError {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	return &TransportError{
		Class:  ClassIncomplete,
		Method: h.Method(),
		URL:    h.URL(),
		Err:    ErrTransferIncomplete,
	}
}

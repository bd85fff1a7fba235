package cache

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/go-multihttp/pkg/response"
)

const (
	// DefaultTTL is the fallback TTL when the response carries no freshness information
	DefaultTTL = 5 * time.Minute
)

// Cacheable reports whether resp may be stored: a 200 response to a GET
// request without Cache-Control no-store.
func Cacheable(resp *http.Response) bool {
	if resp == nil || resp.StatusCode != http.StatusOK {
		return false
	}
	if resp.Request != nil && resp.Request.Method != "" && resp.Request.Method != http.MethodGet {
		return false
	}
	_, noStore := cacheControl(resp.Header)["no-store"]
	return !noStore
}

// ResponseToEntry converts an HTTP response to an Entry.
// It parses freshness and last-modified headers and reads the response body.
// The response body is restored after reading.
func ResponseToEntry(resp *http.Response) (*Entry, error) {
	if resp == nil {
		return nil, errors.New("response cannot be nil")
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		resp.Body.Close()
	}

	// Restore body for caller
	resp.Body = response.NewBody(body)

	entry := &Entry{
		StatusCode: resp.StatusCode,
		Proto:      resp.Proto,
		Header:     resp.Header.Clone(),
		Body:       body,
		ETag:       resp.Header.Get("ETag"),
		Expires:    ExpiresFrom(resp.Header),
		StoredAt:   time.Now(),
	}

	if lastModStr := resp.Header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry, nil
}

// EntryToResponse rebuilds an HTTP response from a cache entry.
// The body is a fresh, seekable copy of the cached data.
func EntryToResponse(entry *Entry) *http.Response {
	if entry == nil {
		return nil
	}

	proto := entry.Proto
	major, minor, ok := http.ParseHTTPVersion(proto)
	if !ok {
		proto, major, minor = "HTTP/1.1", 1, 1
	}

	body := response.NewBody(append([]byte(nil), entry.Body...))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Proto:         proto,
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Header:        entry.Header.Clone(),
		Body:          body,
		ContentLength: body.Size(),
	}
}

// ExpiresFrom computes when a response with the given headers becomes stale.
// Cache-Control max-age wins over Expires; without either, DefaultTTL applies.
// An Expires time in the past yields now.
func ExpiresFrom(headers http.Header) time.Time {
	now := time.Now()

	if v, ok := cacheControl(headers)["max-age"]; ok {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return now.Add(DefaultTTL)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return now.Add(DefaultTTL)
	}

	if expires.Before(now) {
		return now
	}
	return expires
}

// cacheControl parses Cache-Control directives into lowercase names and raw values.
func cacheControl(headers http.Header) map[string]string {
	directives := make(map[string]string)
	for _, line := range headers.Values("Cache-Control") {
		for _, part := range strings.Split(line, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, value, _ := strings.Cut(part, "=")
			directives[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(value), `"`)
		}
	}
	return directives
}

// ShouldMakeConditionalRequest determines if we should add conditional
// request headers (If-None-Match or If-Modified-Since) based on the cache entry.
func ShouldMakeConditionalRequest(entry *Entry) bool {
	return entry != nil && entry.Revalidatable()
}

// AddConditionalHeaders adds If-None-Match (ETag) or If-Modified-Since headers
// to the request if the cache entry supports conditional requests.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if entry == nil || req == nil {
		return
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}

	// Prefer ETag over Last-Modified (more accurate)
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
}

// Package response rebuilds HTTP responses from raw transfer results.
//
// The parser is shared by the synchronous client and the parallel executor:
// both hand it the raw bytes of a finished transfer (header block followed by
// the body) together with the transfer metadata.
package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// EffectiveURLHeader carries the final URL of a transfer after redirects.
const EffectiveURLHeader = "X-Effective-Url"

// ErrInvalidStatus is returned when a transfer reports an impossible status code.
var ErrInvalidStatus = errors.New("invalid status code")

// Transfer is the metadata of a finished transfer needed to parse its raw bytes.
type Transfer interface {
	HeaderSize() int
	StatusCode() int
	Proto() string
	EffectiveURL() string
}

// Parse splits raw at the transfer's header size and builds a response with
// the transfer's status code, the parsed headers and a seekable body.
func Parse(raw []byte, t Transfer) (*http.Response, error) {
	if t == nil {
		return nil, errors.New("parse response: nil transfer")
	}

	status := t.StatusCode()
	if status < 100 || status > 999 {
		return nil, fmt.Errorf("parse response: %w: %d", ErrInvalidStatus, status)
	}

	size := t.HeaderSize()
	if size < 0 {
		size = 0
	}
	if size > len(raw) {
		size = len(raw)
	}

	header := ParseHeaderBlock(raw[:size])
	if u := t.EffectiveURL(); u != "" {
		header.Set(EffectiveURLHeader, u)
	}

	proto := t.Proto()
	major, minor, ok := http.ParseHTTPVersion(proto)
	if !ok {
		proto, major, minor = "HTTP/1.1", 1, 1
	}

	body := NewBody(raw[size:])
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         proto,
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Header:        header,
		Body:          body,
		ContentLength: body.Size(),
	}, nil
}

// ParseHeaderBlock parses "Name: value" lines.
//
// Each line is split on its first colon and leading whitespace is trimmed from
// the value. Lines without a colon are skipped. A status line starts a new
// block, so after redirects only the final response's headers remain.
func ParseHeaderBlock(block []byte) http.Header {
	header := make(http.Header)
	if len(block) == 0 {
		return header
	}

	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "HTTP/") {
			clear(header)
			continue
		}

		i := strings.IndexByte(line, ':')
		if i <= 0 {
			continue
		}
		name := line[:i]
		if strings.ContainsAny(name, " \t") {
			continue
		}
		header.Add(name, strings.TrimLeft(line[i+1:], " \t"))
	}
	return header
}

package cache

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Key represents a unique identifier for a cached response.
type Key struct {
	// Method is the request method (empty means GET)
	Method string

	// URL is the absolute request URL
	URL string

	// Vary holds request header values that select a response variant
	// (e.g., {"accept": "application/json"})
	Vary map[string]string
}

// KeyFor derives the cache key of req. Values of the named request headers
// become part of the key.
func KeyFor(req *http.Request, vary ...string) Key {
	key := Key{Method: req.Method}
	if req.URL != nil {
		key.URL = req.URL.String()
	}
	for _, name := range vary {
		v := req.Header.Get(name)
		if v == "" {
			continue
		}
		if key.Vary == nil {
			key.Vary = make(map[string]string, len(vary))
		}
		key.Vary[strings.ToLower(name)] = v
	}
	return key
}

// String generates a deterministic cache key string.
// Format: httpcache:METHOD:normalized-url:header1=val1:header2=val2
//
// Example:
//
//	httpcache:GET:https://example.com/items?a=1&b=2:accept=application/json
func (k Key) String() string {
	method := strings.ToUpper(k.Method)
	if method == "" {
		method = http.MethodGet
	}
	parts := []string{"httpcache", method, normalizeURL(k.URL)}

	// Add vary values (sorted for determinism)
	if len(k.Vary) > 0 {
		names := make([]string, 0, len(k.Vary))
		for name := range k.Vary {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, strings.ToLower(name)+"="+k.Vary[name])
		}
	}

	return strings.Join(parts, ":")
}

// normalizeURL lowercases scheme and host, drops credentials and fragment,
// and sorts the query. Unparseable input is returned unchanged.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String()
}

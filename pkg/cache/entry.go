package cache

import (
	"net/http"
	"time"
)

// Entry is a stored HTTP response together with its validators.
//
// An entry past Expires is stale, not gone: as long as it carries an ETag or
// a Last-Modified time the manager keeps it for revalidation.
type Entry struct {
	StatusCode int
	Proto      string
	Header     http.Header
	Body       []byte

	// Validators sent back as If-None-Match / If-Modified-Since.
	ETag         string
	LastModified time.Time

	// Expires ends the freshness lifetime.
	Expires  time.Time
	StoredAt time.Time
}

// Fresh reports whether the entry may still be used without asking the origin.
func (e *Entry) Fresh() bool {
	return time.Now().Before(e.Expires)
}

// Revalidatable reports whether the origin can confirm the entry with a 304.
func (e *Entry) Revalidatable() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}

// TTL returns the remaining freshness lifetime, 0 once stale.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	if e.StoredAt.IsZero() {
		return 0
	}
	return time.Since(e.StoredAt)
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates no usable entry is stored for the key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Hash fields of a stored entry. The body is kept as raw bytes next to the
// metadata so UpdateTTL never has to rewrite it.
const (
	fieldStatus       = "status"
	fieldProto        = "proto"
	fieldHeader       = "header"
	fieldBody         = "body"
	fieldETag         = "etag"
	fieldLastModified = "last_modified"
	fieldExpires      = "expires"
	fieldStoredAt     = "stored_at"
)

// Config holds the cache manager configuration.
type Config struct {
	// StaleGrace is how long a revalidatable entry stays in Redis after it
	// went stale. Entries without validators are dropped at Expires.
	StaleGrace time.Duration
}

// DefaultConfig returns the default cache manager configuration.
func DefaultConfig() Config {
	return Config{
		StaleGrace: time.Hour,
	}
}

// Manager stores HTTP responses in Redis hashes, one hash per Key.
type Manager struct {
	redis  *redis.Client
	config Config
}

// NewManager creates a cache manager with DefaultConfig.
func NewManager(redisClient *redis.Client) *Manager {
	return NewManagerWithConfig(redisClient, DefaultConfig())
}

// NewManagerWithConfig creates a cache manager.
func NewManagerWithConfig(redisClient *redis.Client, cfg Config) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if cfg.StaleGrace < 0 {
		cfg.StaleGrace = 0
	}
	return &Manager{
		redis:  redisClient,
		config: cfg,
	}
}

// Get returns the entry stored for key.
//
// A stale entry is still returned when it can be revalidated; callers check
// Entry.Fresh. Stale entries without validators are removed and reported as
// ErrCacheMiss.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	k := key.String()

	fields, err := m.redis.HGetAll(ctx, k).Result()
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	entry, err := decodeEntry(fields)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		_ = m.Delete(ctx, key)
		return nil, err
	}

	switch {
	case entry.Fresh():
		CacheHits.WithLabelValues("fresh").Inc()
	case entry.Revalidatable():
		CacheHits.WithLabelValues("stale").Inc()
	default:
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	return entry, nil
}

// Set stores entry under key, replacing any previous entry. An entry that
// is already stale and cannot be revalidated is not stored.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return errors.New("cache entry cannot be nil")
	}

	retention := m.retention(entry)
	if retention <= 0 {
		return nil
	}

	fields, err := encodeEntry(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}

	k := key.String()
	_, err = m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, fields)
		pipe.PExpire(ctx, k, retention)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis store entry: %w", err)
	}

	StoredBytes.Add(float64(len(entry.Body)))
	return nil
}

// Delete removes the entry stored for key.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// UpdateTTL moves the freshness lifetime of a stored entry to newExpires,
// as done after the origin answered 304 Not Modified. The stored body is
// left untouched. Returns ErrCacheMiss if nothing is stored for key.
func (m *Manager) UpdateTTL(ctx context.Context, key Key, newExpires time.Time) error {
	k := key.String()

	err := m.redis.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HMGet(ctx, k, fieldStatus, fieldETag, fieldLastModified).Result()
		if err != nil {
			return fmt.Errorf("redis hmget: %w", err)
		}
		if vals[0] == nil {
			return ErrCacheMiss
		}

		validators := &Entry{Expires: newExpires}
		if etag, ok := vals[1].(string); ok {
			validators.ETag = etag
		}
		if lm, ok := vals[2].(string); ok {
			if validators.LastModified, err = parseUnixNano(lm); err != nil {
				return err
			}
		}
		retention := m.retention(validators)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if retention <= 0 {
				pipe.Del(ctx, k)
				return nil
			}
			pipe.HSet(ctx, k, fieldExpires, strconv.FormatInt(newExpires.UnixNano(), 10))
			pipe.PExpire(ctx, k, retention)
			return nil
		})
		return err
	}, k)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCacheMiss), errors.Is(err, ErrInvalidEntry):
		return err
	default:
		CacheErrors.WithLabelValues("update_ttl").Inc()
		return fmt.Errorf("update ttl: %w", err)
	}
}

// retention is how long Redis keeps entry: its freshness lifetime plus the
// grace window when it can be revalidated.
func (m *Manager) retention(entry *Entry) time.Duration {
	ttl := time.Until(entry.Expires)
	if entry.Revalidatable() {
		ttl += m.config.StaleGrace
	}
	return ttl
}

func encodeEntry(entry *Entry) (map[string]interface{}, error) {
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}

	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	fields := map[string]interface{}{
		fieldStatus:   strconv.Itoa(entry.StatusCode),
		fieldProto:    entry.Proto,
		fieldHeader:   header,
		fieldBody:     entry.Body,
		fieldETag:     entry.ETag,
		fieldExpires:  strconv.FormatInt(entry.Expires.UnixNano(), 10),
		fieldStoredAt: strconv.FormatInt(storedAt.UnixNano(), 10),
	}
	if !entry.LastModified.IsZero() {
		fields[fieldLastModified] = strconv.FormatInt(entry.LastModified.UnixNano(), 10)
	}
	return fields, nil
}

func decodeEntry(fields map[string]string) (*Entry, error) {
	status, err := strconv.Atoi(fields[fieldStatus])
	if err != nil {
		return nil, fmt.Errorf("%w: status: %v", ErrInvalidEntry, err)
	}

	entry := &Entry{
		StatusCode: status,
		Proto:      fields[fieldProto],
		Body:       []byte(fields[fieldBody]),
		ETag:       fields[fieldETag],
	}

	if raw := fields[fieldHeader]; raw != "" {
		var header http.Header
		if err := json.Unmarshal([]byte(raw), &header); err != nil {
			return nil, fmt.Errorf("%w: header: %v", ErrInvalidEntry, err)
		}
		entry.Header = header
	}

	if entry.Expires, err = parseUnixNano(fields[fieldExpires]); err != nil {
		return nil, err
	}
	if raw, ok := fields[fieldLastModified]; ok {
		if entry.LastModified, err = parseUnixNano(raw); err != nil {
			return nil, err
		}
	}
	if raw, ok := fields[fieldStoredAt]; ok {
		if entry.StoredAt, err = parseUnixNano(raw); err != nil {
			return nil, err
		}
	}

	return entry, nil
}

func parseUnixNano(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrInvalidEntry, raw)
	}
	return time.Unix(0, n), nil
}

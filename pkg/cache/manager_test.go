package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis and skips the test when none is
// reachable. The integration suite starts Redis through testcontainers.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewManagerWithConfig(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	if got := NewManager(client).config; got != DefaultConfig() {
		t.Errorf("NewManager config = %+v, want %+v", got, DefaultConfig())
	}
	if got := NewManagerWithConfig(client, Config{StaleGrace: -time.Second}).config.StaleGrace; got != 0 {
		t.Errorf("negative StaleGrace = %v, want 0", got)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManagerWithConfig should panic with nil redis client")
		}
	}()
	NewManagerWithConfig(nil, DefaultConfig())
}

func TestManager_StoreAndLoad(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{Method: http.MethodGet, URL: "https://api.example.com/blob"}
	storedAt := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	entry := &Entry{
		StatusCode:   http.StatusOK,
		Proto:        "HTTP/2.0",
		Header:       http.Header{"Content-Type": []string{"application/octet-stream"}, "X-Multi": []string{"a", "b"}},
		Body:         []byte("bin\x00ary\r\n\xff"),
		ETag:         `W/"blob-1"`,
		LastModified: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		Expires:      time.Now().Add(5 * time.Minute),
		StoredAt:     storedAt,
	}

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got.StatusCode != entry.StatusCode || got.Proto != entry.Proto {
		t.Errorf("status/proto = %d %q, want %d %q", got.StatusCode, got.Proto, entry.StatusCode, entry.Proto)
	}
	if string(got.Body) != string(entry.Body) {
		t.Errorf("Body = %q, want %q", got.Body, entry.Body)
	}
	if got.ETag != entry.ETag {
		t.Errorf("ETag = %q, want %q", got.ETag, entry.ETag)
	}
	if !got.LastModified.Equal(entry.LastModified) {
		t.Errorf("LastModified = %v, want %v", got.LastModified, entry.LastModified)
	}
	if !got.Expires.Equal(entry.Expires) {
		t.Errorf("Expires = %v, want %v", got.Expires, entry.Expires)
	}
	if !got.StoredAt.Equal(storedAt) {
		t.Errorf("StoredAt = %v, want %v", got.StoredAt, storedAt)
	}
	if vals := got.Header.Values("X-Multi"); len(vals) != 2 {
		t.Errorf("X-Multi = %v, want both values", vals)
	}
	if !got.Fresh() {
		t.Error("Fresh() = false for a new entry")
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)

	_, err := manager.Get(context.Background(), Key{URL: "https://api.example.com/missing"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_Set_NilEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)

	if err := manager.Set(context.Background(), Key{URL: "https://api.example.com/x"}, nil); err == nil {
		t.Error("Set(nil) error = nil")
	}
}

// TestManager_Retention covers how long Redis keeps an entry and whether a
// stale entry is still served for revalidation.
func TestManager_Retention(t *testing.T) {
	const grace = 10 * time.Minute

	tests := []struct {
		name       string
		entry      *Entry
		wantStored bool
		wantTTL    time.Duration
		wantFresh  bool
	}{
		{
			name:       "fresh with etag",
			entry:      &Entry{ETag: `"a"`, Expires: time.Now().Add(time.Minute)},
			wantStored: true,
			wantTTL:    time.Minute + grace,
			wantFresh:  true,
		},
		{
			name:       "fresh without validators",
			entry:      &Entry{Expires: time.Now().Add(time.Minute)},
			wantStored: true,
			wantTTL:    time.Minute,
			wantFresh:  true,
		},
		{
			name:       "stale with last-modified",
			entry:      &Entry{LastModified: time.Now().Add(-time.Hour), Expires: time.Now().Add(-time.Minute)},
			wantStored: true,
			wantTTL:    grace - time.Minute,
		},
		{
			name:       "max-age zero with etag",
			entry:      &Entry{ETag: `"b"`, Expires: time.Now()},
			wantStored: true,
			wantTTL:    grace,
		},
		{
			name:  "stale without validators",
			entry: &Entry{Expires: time.Now().Add(-time.Second)},
		},
		{
			name:  "stale beyond grace",
			entry: &Entry{ETag: `"c"`, Expires: time.Now().Add(-grace - time.Minute)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupTestRedis(t)
			manager := NewManagerWithConfig(client, Config{StaleGrace: grace})
			ctx := context.Background()
			key := Key{URL: "https://api.example.com/retention"}

			tt.entry.StatusCode = http.StatusOK
			if err := manager.Set(ctx, key, tt.entry); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			ttl := client.PTTL(ctx, key.String()).Val()
			got, err := manager.Get(ctx, key)

			if !tt.wantStored {
				if ttl > 0 {
					t.Errorf("PTTL = %v, entry should not be stored", ttl)
				}
				if !errors.Is(err, ErrCacheMiss) {
					t.Errorf("Get() error = %v, want ErrCacheMiss", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if ttl < tt.wantTTL-5*time.Second || ttl > tt.wantTTL {
				t.Errorf("PTTL = %v, want about %v", ttl, tt.wantTTL)
			}
			if got.Fresh() != tt.wantFresh {
				t.Errorf("Fresh() = %v, want %v", got.Fresh(), tt.wantFresh)
			}
		})
	}
}

func TestManager_Get_StaleWithoutValidators(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()
	key := Key{URL: "https://api.example.com/plain"}

	// Written by hand so the key outlives its freshness
	fields, err := encodeEntry(&Entry{StatusCode: http.StatusOK, Body: []byte("x"), Expires: time.Now().Add(-time.Second)})
	if err != nil {
		t.Fatalf("encodeEntry failed: %v", err)
	}
	client.HSet(ctx, key.String(), fields)

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
	if n := client.Exists(ctx, key.String()).Val(); n != 0 {
		t.Error("unusable stale entry was not removed")
	}
}

func TestManager_Get_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	tests := []struct {
		name   string
		fields map[string]interface{}
	}{
		{name: "bad status", fields: map[string]interface{}{fieldStatus: "ok", fieldExpires: "1"}},
		{name: "bad header", fields: map[string]interface{}{fieldStatus: "200", fieldHeader: "{", fieldExpires: "1"}},
		{name: "missing expires", fields: map[string]interface{}{fieldStatus: "200"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := Key{URL: "https://api.example.com/corrupt/" + strings.ReplaceAll(tt.name, " ", "-")}
			client.HSet(ctx, key.String(), tt.fields)

			if _, err := manager.Get(ctx, key); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("Get() error = %v, want ErrInvalidEntry", err)
			}
			if n := client.Exists(ctx, key.String()).Val(); n != 0 {
				t.Error("invalid entry was not removed")
			}
		})
	}
}

func TestManager_Delete(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()
	key := Key{URL: "https://api.example.com/items/7"}

	if err := manager.Set(ctx, key, &Entry{StatusCode: http.StatusOK, Expires: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete error = %v, want ErrCacheMiss", err)
	}
	if err := manager.Delete(ctx, key); err != nil {
		t.Errorf("Delete of a missing key error = %v", err)
	}
}

func TestManager_UpdateTTL(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManagerWithConfig(client, Config{StaleGrace: time.Minute})
	ctx := context.Background()
	key := Key{URL: "https://api.example.com/revalidate"}

	stale := &Entry{
		StatusCode: http.StatusOK,
		Body:       []byte("unchanged body"),
		ETag:       `"v1"`,
		Expires:    time.Now().Add(-10 * time.Second),
	}
	if err := manager.Set(ctx, key, stale); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	newExpires := time.Now().Add(5 * time.Minute)
	if err := manager.UpdateTTL(ctx, key, newExpires); err != nil {
		t.Fatalf("UpdateTTL failed: %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after UpdateTTL failed: %v", err)
	}
	if !got.Fresh() {
		t.Error("entry should be fresh after UpdateTTL")
	}
	if !got.Expires.Equal(newExpires) {
		t.Errorf("Expires = %v, want %v", got.Expires, newExpires)
	}
	if string(got.Body) != "unchanged body" {
		t.Errorf("Body = %q, UpdateTTL must not touch the body", got.Body)
	}

	ttl := client.PTTL(ctx, key.String()).Val()
	if want := 6 * time.Minute; ttl < want-5*time.Second || ttl > want {
		t.Errorf("PTTL = %v, want about %v", ttl, want)
	}

	if err := manager.UpdateTTL(ctx, Key{URL: "https://api.example.com/none"}, newExpires); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("UpdateTTL(missing) error = %v, want ErrCacheMiss", err)
	}
	if n := client.Exists(ctx, Key{URL: "https://api.example.com/none"}.String()).Val(); n != 0 {
		t.Error("UpdateTTL created an entry for a missing key")
	}
}

func TestManager_StoredBytesCountedOnSetOnly(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()
	key := Key{URL: "https://api.example.com/metrics"}

	before := counterValue(t, StoredBytes)

	entry := &Entry{StatusCode: http.StatusOK, Body: []byte("0123456789"), Expires: time.Now().Add(time.Minute)}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := manager.Get(ctx, key); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
	}

	if got := counterValue(t, StoredBytes) - before; got != 10 {
		t.Errorf("stored bytes grew by %v, want 10", got)
	}
}

func TestManager_VaryVariants(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	jsonReq, _ := http.NewRequest(http.MethodGet, "https://api.example.com/items", nil)
	jsonReq.Header.Set("Accept", "application/json")
	xmlReq, _ := http.NewRequest(http.MethodGet, "https://api.example.com/items", nil)
	xmlReq.Header.Set("Accept", "application/xml")

	entry := &Entry{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"items": []}`),
		Expires:    time.Now().Add(time.Minute),
	}
	if err := manager.Set(ctx, KeyFor(jsonReq, "Accept"), entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := manager.Get(ctx, KeyFor(jsonReq, "Accept")); err != nil {
		t.Errorf("Get(json variant) error = %v", err)
	}
	if _, err := manager.Get(ctx, KeyFor(xmlReq, "Accept")); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get(xml variant) error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_StoredResponseRoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/items/9", nil)
	key := KeyFor(req)

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		Header: http.Header{
			"Etag":          []string{`"r9"`},
			"Cache-Control": []string{"max-age=300"},
		},
		Body:    io.NopCloser(strings.NewReader("item nine")),
		Request: req,
	}
	entry, err := ResponseToEntry(resp)
	if err != nil {
		t.Fatalf("ResponseToEntry failed: %v", err)
	}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	stored, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	rebuilt := EntryToResponse(stored)
	body, _ := io.ReadAll(rebuilt.Body)
	if string(body) != "item nine" {
		t.Errorf("body = %q, want %q", body, "item nine")
	}
	if rebuilt.Header.Get("ETag") != `"r9"` {
		t.Errorf("ETag = %q", rebuilt.Header.Get("ETag"))
	}
}

package cache

import (
	"net/http"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "plain GET",
			key:  Key{Method: http.MethodGet, URL: "https://example.com/items"},
			want: "httpcache:GET:https://example.com/items",
		},
		{
			name: "empty method defaults to GET",
			key:  Key{URL: "https://example.com/items"},
			want: "httpcache:GET:https://example.com/items",
		},
		{
			name: "lowercase method",
			key:  Key{Method: "head", URL: "https://example.com/"},
			want: "httpcache:HEAD:https://example.com/",
		},
		{
			name: "query sorted",
			key:  Key{URL: "https://example.com/items?page=2&order=asc"},
			want: "httpcache:GET:https://example.com/items?order=asc&page=2",
		},
		{
			name: "host and scheme lowercased",
			key:  Key{URL: "HTTPS://Example.COM/Items"},
			want: "httpcache:GET:https://example.com/Items",
		},
		{
			name: "fragment and credentials dropped",
			key:  Key{URL: "https://user:pw@example.com/items#top"},
			want: "httpcache:GET:https://example.com/items",
		},
		{
			name: "vary values sorted",
			key: Key{
				URL:  "https://example.com/items",
				Vary: map[string]string{"accept-language": "de", "accept": "application/json"},
			},
			want: "httpcache:GET:https://example.com/items:accept=application/json:accept-language=de",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("Key.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeyFor(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/items?b=2&a=1", nil)
	req.Header.Set("Accept", "application/json")

	key := KeyFor(req, "Accept", "Accept-Language")
	if key.Method != http.MethodGet {
		t.Errorf("Method = %q", key.Method)
	}
	if len(key.Vary) != 1 || key.Vary["accept"] != "application/json" {
		t.Errorf("Vary = %v, want only accept", key.Vary)
	}

	want := "httpcache:GET:https://example.com/items?a=1&b=2:accept=application/json"
	if got := key.String(); got != want {
		t.Errorf("KeyFor().String() = %v, want %v", got, want)
	}
}

// TestKey_Determinism ensures equivalent requests share one key.
func TestKey_Determinism(t *testing.T) {
	first, _ := http.NewRequest(http.MethodGet, "https://example.com/items?a=1&b=2", nil)
	second, _ := http.NewRequest(http.MethodGet, "https://EXAMPLE.com/items?b=2&a=1#frag", nil)

	if KeyFor(first).String() != KeyFor(second).String() {
		t.Errorf("keys differ: %s vs %s", KeyFor(first), KeyFor(second))
	}

	other, _ := http.NewRequest(http.MethodGet, "https://example.com/items?a=1&b=3", nil)
	if KeyFor(first).String() == KeyFor(other).String() {
		t.Error("different queries produced the same key")
	}
}

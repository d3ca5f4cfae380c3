package signal

import (
	"net/http/httptest"
	"testing"
)

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		host    string
		origin  string
		want    bool
	}{
		{"no origin header", nil, "relay.example:8080", "", true},
		{"same host and port", nil, "relay.example:8080", "http://relay.example:8080", true},
		{"same host behind tls proxy", nil, "relay.example", "https://relay.example", true},
		{"default port equivalence", nil, "relay.example:443", "https://relay.example", true},
		{"case insensitive", nil, "Relay.Example:8080", "http://RELAY.example:8080", true},
		{"ipv6 literal", nil, "[::1]:8080", "http://[::1]:8080", true},
		{"foreign site", nil, "relay.example:8080", "https://evil.example", false},
		{"same host other port", nil, "relay.example:8080", "http://relay.example:9090", false},
		{"null origin", nil, "relay.example:8080", "null", false},
		{"non http scheme", nil, "relay.example:8080", "file://relay.example:8080", false},
		{"origin with path", nil, "relay.example:8080", "http://relay.example:8080/app", false},
		{"listed origin", []string{"https://studio.example"}, "relay.example", "https://studio.example", true},
		{"listed origin normalized", []string{"HTTPS://Studio.Example:443"}, "relay.example", "https://studio.example", true},
		{"allow list keeps same host", []string{"https://studio.example"}, "relay.example", "https://relay.example", true},
		{"unlisted foreign origin", []string{"https://studio.example"}, "relay.example", "https://evil.example", false},
		{"wildcard", []string{"*"}, "relay.example", "https://anything.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/ws/signal", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := newOriginChecker(tt.allowed).check(req); got != tt.want {
				t.Fatalf("check(origin=%q host=%q)=%v, want %v", tt.origin, tt.host, got, tt.want)
			}
		})
	}
}

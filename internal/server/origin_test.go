package server

import (
	"net/url"
	"testing"
)

func TestBuiltinOrigins(t *testing.T) {
	cases := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:5173", true},
		{"http://localhost", true},
		{"http://127.0.0.1:8080", true},
		{"https://localhost:8443", true},
		{"tauri://localhost", true},
		{"https://tauri.localhost", true},
		{"http://evil.example.com", false},
		{"https://localhost.evil.com", false},
		{"tauri://localhost:9000", false},
		{"", false},
	}

	for _, tc := range cases {
		u, err := url.Parse(tc.origin)
		if err != nil {
			u = nil
		}
		if got := isBuiltinOrigin(u); got != tc.want {
			t.Errorf("origin %q: got %v, want %v", tc.origin, got, tc.want)
		}
	}
}

func TestOriginAllowedRejectsGarbage(t *testing.T) {
	if originAllowed("://not a url") {
		t.Fatal("malformed origin must be rejected")
	}
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/campdesk/labelbridge/internal/config"
)

func TestParseBearerToken_Valid(t *testing.T) {
	token, ok := ParseBearerToken("Bearer abc123")
	if !ok || token != "abc123" {
		t.Fatalf("expected token 'abc123', got ok=%v token=%q", ok, token)
	}
	token, ok = ParseBearerToken("bearer xyz")
	if !ok || token != "xyz" {
		t.Fatalf("expected case-insensitive scheme, got ok=%v token=%q", ok, token)
	}
}

func TestParseBearerToken_InvalidFormats(t *testing.T) {
	cases := []string{
		"",
		"abc123",
		"Bearer",
		"Bearer ",
		"Token abc123",
		"Bearer abc def",
	}

	for _, h := range cases {
		if token, ok := ParseBearerToken(h); ok || token != "" {
			t.Fatalf("expected failure for header %q, got ok=%v token=%q", h, ok, token)
		}
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.APIKeys = []string{"desk-1", "desk-2"}

	a, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	if !a.Enabled() || !a.Lookup("desk-2") || a.Lookup("desk-3") || a.Lookup("") {
		t.Fatalf("unexpected lookup results")
	}

	cfg.Server.APIKeys = []string{"desk-1", "desk-1"}
	if _, err := NewFromConfig(cfg); err == nil {
		t.Fatalf("expected duplicate key to fail")
	}
	cfg.Server.APIKeys = []string{" "}
	if _, err := NewFromConfig(cfg); err == nil {
		t.Fatalf("expected empty key to fail")
	}
}

func TestMiddleware(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.APIKeys = []string{"desk-1"}
	a, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}

	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong bearer", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer desk-1", http.StatusNoContent},
		{"x-api-key", "X-API-Key", "desk-1", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}

	var open *Auth
	rr := httptest.NewRecorder()
	open.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("nil auth should allow requests, got %d", rr.Code)
	}
}

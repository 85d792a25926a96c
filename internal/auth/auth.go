package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/campdesk/labelbridge/internal/config"
)

// Auth holds the API keys accepted by the HTTP API. An Auth without keys
// lets every request through; the label station usually runs on a LAN.
type Auth struct {
	keys []string
}

// NewFromConfig builds an Auth instance from the loaded config.
func NewFromConfig(cfg *config.Config) (*Auth, error) {
	seen := make(map[string]struct{})
	var keys []string
	for i, key := range cfg.Server.APIKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("server.api_keys[%d] is empty", i)
		}
		if _, exists := seen[key]; exists {
			return nil, fmt.Errorf("api key at server.api_keys[%d] is listed twice", i)
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return &Auth{keys: keys}, nil
}

// Enabled reports whether requests must carry a key.
func (a *Auth) Enabled() bool {
	return a != nil && len(a.keys) > 0
}

// Lookup reports whether apiKey is one of the configured keys.
func (a *Auth) Lookup(apiKey string) bool {
	if a == nil || apiKey == "" {
		return false
	}
	ok := false
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			ok = true
		}
	}
	return ok
}

// KeyFromRequest returns the key from "Authorization: Bearer <key>" or,
// failing that, the X-API-Key header.
func KeyFromRequest(r *http.Request) (string, bool) {
	if key, ok := ParseBearerToken(r.Header.Get("Authorization")); ok {
		return key, true
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, true
	}
	return "", false
}

// ParseBearerToken extracts the token from an Authorization: Bearer header.
func ParseBearerToken(h string) (string, bool) {
	if h == "" {
		return "", false
	}
	parts := strings.Fields(h)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// Middleware rejects requests without a valid key with 401.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		key, ok := KeyFromRequest(r)
		if !ok || !a.Lookup(key) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="labelbridge"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestHandlerLogsEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := newHandler(zap.New(core), "", false)

	body := `{"version":"1","document_id":"doc-1","status":"processed","summary":{"code":"2KAE","print_count":3,"printed":3}}`
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	entries := logs.FilterMessage("event received").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["code"] != "2KAE" || ctx["document_id"] != "doc-1" {
		t.Fatalf("unexpected fields: %v", ctx)
	}
}

func TestHandlerRejects(t *testing.T) {
	h := newHandler(zap.NewNop(), "s3cret", false)

	cases := []struct {
		name   string
		method string
		token  string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "s3cret", "", http.StatusMethodNotAllowed},
		{"missing token", http.MethodPost, "", "{}", http.StatusUnauthorized},
		{"bad json", http.MethodPost, "s3cret", "{", http.StatusBadRequest},
		{"ok", http.MethodPost, "s3cret", "{}", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/events", strings.NewReader(tc.body))
			if tc.token != "" {
				req.Header.Set("X-Labelbridge-Token", tc.token)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/campdesk/labelbridge/internal/auth"
	"github.com/campdesk/labelbridge/internal/classify"
	"github.com/campdesk/labelbridge/internal/config"
	"github.com/campdesk/labelbridge/internal/extract"
	"github.com/campdesk/labelbridge/internal/journal"
	"github.com/campdesk/labelbridge/internal/label"
	"github.com/campdesk/labelbridge/internal/pipeline"
	"github.com/campdesk/labelbridge/internal/printer"
)

const testInvoice = `Hotelový účet č. 240815
Ubytovací služby, termín: 9. 8. 2024 - 14. 8. 2024
Stání pro karavan P3
Stání pro karavan P7
Elektřina`

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.Load("testdata/does-not-exist.yaml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	root := t.TempDir()
	cfg.Year = 2024
	cfg.Special = []config.RuleConfig{{Pattern: "Stání pro karavan", Label: "K", Identifier: "P"}}
	cfg.Prefixes = []config.RuleConfig{{Pattern: "Elektřina", Label: "E"}}
	cfg.Folders.Output = filepath.Join(root, "labels")
	cfg.Folders.Archive = filepath.Join(root, "archiv")
	cfg.Printer.SpoolDir = filepath.Join(root, "spool")
	cfg.Label.FontPath = filepath.Join(root, "missing.ttf")
	cfg.Journal.Path = filepath.Join(root, "labelbridge.db")
	cfg.Server.APIKeys = []string{"test-key"}
	cfg.Server.MaxUploadBytes = 4096
	return cfg
}

type testServer struct {
	*Server
	store *journal.Store
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()

	rules, err := classify.FromConfig(cfg)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	renderer, err := label.NewRenderer(cfg.Label)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	model, _ := printer.LookupModel("QL-700")
	media, _ := printer.LookupMedia("62")
	store, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	p, err := pipeline.New(pipeline.Options{
		Config:    cfg,
		Rules:     rules,
		Extractor: &extract.ByExtension{Default: extract.Text{}},
		Renderer:  renderer,
		Printer:   printer.NewWithBackend(&printer.SpoolBackend{Dir: cfg.Printer.SpoolDir}, model, media, 10, zap.NewNop()),
		Journal:   store,
		Logger:    zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	authz, err := auth.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	return &testServer{Server: New(cfg, p, authz, zap.NewNop()), store: store}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer test-key")
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func uploadRequest(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func spooled(t *testing.T, cfg *config.Config) int {
	t.Helper()
	files, err := printer.SpoolFiles(cfg.Printer.SpoolDir)
	if err != nil {
		t.Fatalf("spool files: %v", err)
	}
	return len(files)
}

func TestHealthzOK(t *testing.T) {
	cfg := newTestConfig(t)
	srv := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "none")
	rr := srv.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "ok" || body.Rules != 2 || !body.Journal {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestV1RequiresAPIKey(t *testing.T) {
	cfg := newTestConfig(t)
	srv := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := srv.do(t, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	req.Header.Set("Authorization", "x")
	req.Header.Set("X-API-Key", "test-key")
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with X-API-Key, got %d", rr.Code)
	}
}

func TestUploadWithoutPrint(t *testing.T) {
	cfg := newTestConfig(t)
	srv := newTestServer(t, cfg)

	rr := srv.do(t, uploadRequest(t, "/v1/upload", "240815.txt", []byte(testInvoice)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var res pipeline.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Output.Code != "2KE" || res.Output.PrintCount != 2 {
		t.Fatalf("unexpected output: %+v", res.Output)
	}
	if res.Document.Printed != 0 || spooled(t, cfg) != 0 {
		t.Fatalf("upload without print=true must not print")
	}
	if res.Document.Source != "upload:240815.txt" {
		t.Fatalf("unexpected source %q", res.Document.Source)
	}
}

func TestUploadWithPrint(t *testing.T) {
	cfg := newTestConfig(t)
	srv := newTestServer(t, cfg)

	rr := srv.do(t, uploadRequest(t, "/v1/upload?print=true", "240815.txt", []byte(testInvoice)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := spooled(t, cfg); got != 2 {
		t.Fatalf("expected 2 spooled jobs, got %d", got)
	}

	rr = srv.do(t, uploadRequest(t, "/v1/upload?print=maybe", "240815.txt", []byte(testInvoice)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad print flag, got %d", rr.Code)
	}
}

func TestUploadTooLarge(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.MaxUploadBytes = 512
	srv := newTestServer(t, cfg)

	rr := srv.do(t, uploadRequest(t, "/v1/upload", "big.txt", bytes.Repeat([]byte("a"), 4096)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestUploadMissingFile(t *testing.T) {
	cfg := newTestConfig(t)
	srv := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/upload", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	rr := srv.do(t, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestClassify(t *testing.T) {
	cfg := newTestConfig(t)
	srv := newTestServer(t, cfg)

	body, _ := json.Marshal(classifyRequest{Text: testInvoice})
	rr := srv.do(t, httptest.NewRequest(http.MethodPost, "/v1/classify", bytes.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got pipeline.Classification
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Output.Code != "2KE" || !got.Match.Flag || got.Fields.VariableSymbol != "240815" {
		t.Fatalf("unexpected classification: %+v", got)
	}

	rr = srv.do(t, httptest.NewRequest(http.MethodPost, "/v1/classify", strings.NewReader(`{"text":""}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty text, got %d", rr.Code)
	}
	var empty pipeline.Classification
	if err := json.Unmarshal(rr.Body.Bytes(), &empty); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if empty.Output.Code != "" || empty.Output.PrintCount != 0 || !empty.Match.Empty() {
		t.Fatalf("empty text must classify to nothing, got %+v", empty)
	}
	rr = srv.do(t, httptest.NewRequest(http.MethodPost, "/v1/classify", strings.NewReader(`{"txt":"x"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rr.Code)
	}
}

func TestManualLabel(t *testing.T) {
	cfg := newTestConfig(t)
	srv := newTestServer(t, cfg)

	rr := srv.do(t, httptest.NewRequest(http.MethodPost, "/v1/labels",
		strings.NewReader(`{"code":"3KE","variable_symbol":"240815","to_date":"14.8.2024"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := spooled(t, cfg); got != 3 {
		t.Fatalf("expected 3 copies from the code, got %d", got)
	}

	rr = srv.do(t, httptest.NewRequest(http.MethodPost, "/v1/labels", strings.NewReader(`{"code":"3QE"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown label, got %d", rr.Code)
	}
}

func TestDocuments(t *testing.T) {
	cfg := newTestConfig(t)
	srv := newTestServer(t, cfg)

	rr := srv.do(t, uploadRequest(t, "/v1/upload", "240815.txt", []byte(testInvoice)))
	if rr.Code != http.StatusOK {
		t.Fatalf("upload: %d", rr.Code)
	}
	var res pipeline.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}

	rr = srv.do(t, httptest.NewRequest(http.MethodGet, "/v1/documents?limit=5", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d", rr.Code)
	}
	var docs []journal.Document
	if err := json.Unmarshal(rr.Body.Bytes(), &docs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != res.Document.ID {
		t.Fatalf("unexpected documents: %+v", docs)
	}

	rr = srv.do(t, httptest.NewRequest(http.MethodGet, "/v1/documents/"+res.Document.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get: %d", rr.Code)
	}

	rr = srv.do(t, httptest.NewRequest(http.MethodGet, "/v1/documents/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = srv.do(t, httptest.NewRequest(http.MethodGet, "/v1/documents?limit=-1", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	cfg := newTestConfig(t)
	srv := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}

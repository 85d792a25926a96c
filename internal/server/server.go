package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/campdesk/labelbridge/internal/auth"
	"github.com/campdesk/labelbridge/internal/compose"
	"github.com/campdesk/labelbridge/internal/config"
	"github.com/campdesk/labelbridge/internal/journal"
	"github.com/campdesk/labelbridge/internal/pipeline"
	"github.com/campdesk/labelbridge/internal/redact"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxJSONBodyBytes = 1 << 20
)

// Server exposes the label pipeline over HTTP for the front desk.
type Server struct {
	cfg       *config.Config
	pipeline  *pipeline.Pipeline
	auth      *auth.Auth
	logger    *zap.Logger
	router    chi.Router
	startedAt time.Time
}

// New creates a new server with all routes registered.
func New(cfg *config.Config, p *pipeline.Pipeline, authz *auth.Auth, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		pipeline:  p,
		auth:      authz,
		logger:    logger,
		startedAt: time.Now(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	if len(s.cfg.Server.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.Server.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/upload", s.handleUpload)
		r.Post("/classify", s.handleClassify)
		r.Post("/labels", s.handleLabels)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
	})
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = s.cfg.Server.Addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", zap.String("addr", addr), zap.Bool("auth", s.auth.Enabled()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errc
		return nil
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	Rules         int    `json:"rules"`
	Journal       bool   `json:"journal"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Rules:         s.pipeline.Rules().Len(),
		Journal:       s.pipeline.Journal() != nil,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	wantPrint := false
	if v := r.URL.Query().Get("print"); v != "" {
		wantPrint, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "print must be a boolean")
			return
		}
	}

	res, err := s.pipeline.ProcessUpload(r.Context(), header.Filename, file, header.Size, wantPrint)
	if err != nil {
		s.logger.Warn("upload failed", zap.String("filename", header.Filename), redact.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, failedResponse{Error: redact.String(err.Error()), Result: res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type failedResponse struct {
	Error  string           `json:"error"`
	Result *pipeline.Result `json:"result,omitempty"`
}

type classifyRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Classify(req.Text))
}

func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ManualLabel
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.pipeline.Reprint(r.Context(), req)
	if err != nil {
		if errors.Is(err, compose.ErrMalformedCode) || res == nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Warn("manual label failed", redact.Error(err))
		writeJSON(w, http.StatusBadGateway, failedResponse{Error: redact.String(err.Error()), Result: res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	store := s.pipeline.Journal()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	docs, err := store.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list documents failed", redact.Error(err))
		writeError(w, http.StatusInternalServerError, "journal error")
		return
	}
	if docs == nil {
		docs = []journal.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	store := s.pipeline.Journal()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	doc, err := store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("get document failed", redact.Error(err))
		writeError(w, http.StatusInternalServerError, "journal error")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

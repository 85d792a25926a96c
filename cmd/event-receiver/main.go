// Command event-receiver is a local webhook endpoint for testing the
// events.sinks webhook configuration. It logs every document event it receives.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/campdesk/labelbridge/internal/config"
	"github.com/campdesk/labelbridge/internal/events"
	"github.com/campdesk/labelbridge/internal/logging"
)

const maxEventBytes = 1 << 20

func main() {
	addr := flag.String("addr", ":8099", "listen address for the event receiver")
	token := flag.String("token", "", "require this value in the X-Labelbridge-Token header")
	raw := flag.Bool("raw", false, "log the raw request body as well")
	flag.Parse()

	logger, err := logging.New(config.LoggingConfig{Level: "info", Encoding: "console"})
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newHandler(logger, *token, *raw),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("event receiver listening", zap.String("addr", *addr), zap.String("path", "/events"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("receiver error", zap.Error(err))
	}
}

func newHandler(logger *zap.Logger, token string, raw bool) http.Handler {
	mux := http.NewServeMux()
	h := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if token != "" && r.Header.Get("X-Labelbridge-Token") != token {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
		_ = r.Body.Close()
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		var ev events.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			logger.Warn("invalid event payload", zap.Error(err), zap.Int("bytes", len(body)))
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		fields := []zap.Field{
			zap.String("document_id", ev.DocumentID),
			zap.String("status", string(ev.Status)),
			zap.String("source", ev.Source),
			zap.String("code", ev.Summary.Code),
			zap.Int("print_count", ev.Summary.PrintCount),
			zap.Int("printed", ev.Summary.Printed),
			zap.String("variable_symbol", ev.Invoice.VariableSymbol),
			zap.Float64("total_ms", ev.TimingMs.Total),
		}
		if ev.Error != "" {
			fields = append(fields, zap.String("error", ev.Error))
		}
		if raw {
			fields = append(fields, zap.ByteString("body", body))
		}
		logger.Info("event received", fields...)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"status":"ok"}`+"\n")
	}
	mux.HandleFunc("/events", h)
	mux.HandleFunc("/", h)
	return mux
}

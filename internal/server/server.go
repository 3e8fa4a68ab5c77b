package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foomprep/lang-learn-tools/internal/logging"
	"github.com/foomprep/lang-learn-tools/xpub"
)

// DigestHeader carries the BLAKE3 digest of a converted archive.
const DigestHeader = "X-Xpub-Digest"

// Options configures the conversion endpoint.
type Options struct {
	Backend        string
	Workers        int
	SkipMalformed  bool
	MaxUploadBytes int64
	MaxEntryBytes  int64
}

// Server converts uploaded ePubs over HTTP.
type Server struct {
	router chi.Router
	log    *slog.Logger
	opts   Options
}

// New creates and configures the HTTP server.
func New(opts Options, log *slog.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = xpub.DefaultMaxEntrySize
	}
	if log == nil {
		log = logging.NewNop()
	}
	s := &Server{log: log, opts: opts}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))

	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/convert", s.handleConvert)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleConvert rewrites the ePub in the request body. The language comes
// from the "lang" query parameter.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	lang := r.URL.Query().Get("lang")
	if lang == "" {
		jsonError(w, "lang is required", http.StatusBadRequest)
		return
	}

	policy := xpub.PolicyAbort
	if s.opts.SkipMalformed {
		policy = xpub.PolicySkip
	}
	rw, err := xpub.NewRewriter(lang,
		xpub.WithBackend(s.opts.Backend),
		xpub.WithWorkers(s.opts.Workers),
		xpub.WithMalformedPolicy(policy),
		xpub.WithMaxEntrySize(s.opts.MaxEntryBytes),
		xpub.WithLogger(s.log.With("request_id", middleware.GetReqID(r.Context()))),
	)
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, s.opts.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.opts.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	var out bytes.Buffer
	res, err := rw.Rewrite(r.Context(), bytes.NewReader(data), int64(len(data)), &out)
	if err != nil {
		s.log.Warn("conversion failed", "error", err)
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/epub+zip")
	w.Header().Set(DigestHeader, res.Digest)
	w.WriteHeader(http.StatusOK)
	w.Write(out.Bytes())
}

// statusFor maps rewrite errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, xpub.ErrInvalidLanguage), errors.Is(err, xpub.ErrInvalidBackend):
		return http.StatusBadRequest
	case errors.Is(err, xpub.ErrMalformedMarkup), errors.Is(err, xpub.ErrUnsafeEntry):
		return http.StatusUnprocessableEntity
	case errors.Is(err, xpub.ErrDRMProtected):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, xpub.ErrEntryTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, zip.ErrFormat):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// requestLogger logs incoming requests.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

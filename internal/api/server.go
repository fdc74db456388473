package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarc/internal/capture"
	"github.com/JakeFAU/webarc/internal/metrics"
	"github.com/JakeFAU/webarc/internal/storage/local"
)

// CaptureService is the protocol surface the handlers drive.
type CaptureService interface {
	Create(ctx context.Context, url, extractor string) (string, error)
	Progress(ctx context.Context, ticket string) capture.Status
	Confirm(ctx context.Context, ticket, hash string) capture.ConfirmResult
	Output(ctx context.Context, ticket string) (*local.Blob, error)
}

// Authorizer guards the capture routes.
type Authorizer interface {
	Middleware(next http.Handler) http.Handler
}

// Server wires HTTP handlers to the capture service.
type Server struct {
	router  chi.Router
	service CaptureService
	version string
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(service CaptureService, gate Authorizer, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: service,
		version: version,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(traceContextMiddleware(propagation.TraceContext{}))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/version", s.versionHandler)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/capture", func(r chi.Router) {
		r.Use(gate.Middleware)
		r.With(timeoutMiddleware(30*time.Second)).Post("/create", s.create)
		r.With(timeoutMiddleware(30*time.Second)).Post("/confirm", s.confirm)
		r.With(timeoutMiddleware(30*time.Second)).Get("/progress/{ticket}", s.progress)
		// Output is streamed; http.TimeoutHandler would buffer the whole body.
		r.Get("/output/{ticket}", s.output)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) versionHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.WriteString(w, s.version); err != nil {
		s.logger.Warn("version write failed", zap.Error(err))
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createRequest struct {
	URL       string `json:"url"`
	Extractor string `json:"extractor"`
}

type createResponse struct {
	Result string `json:"result"`
	Ticket string `json:"ticket,omitempty"`
}

type confirmRequest struct {
	Ticket string `json:"ticket"`
	Hash   string `json:"hash"`
}

type resultResponse struct {
	Result string `json:"result"`
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ticket, err := s.service.Create(r.Context(), req.URL, req.Extractor)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, createResponse{Result: "initiated", Ticket: ticket})
	case errors.Is(err, capture.ErrInvalidExtractor):
		s.writeJSON(w, http.StatusBadRequest, createResponse{Result: "invalid_extractor"})
	case errors.Is(err, capture.ErrInvalidURL):
		s.writeJSON(w, http.StatusBadRequest, createResponse{Result: "invalid_url"})
	default:
		s.logger.Error("create capture failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	status := s.service.Progress(r.Context(), chi.URLParam(r, "ticket"))
	s.writeJSON(w, http.StatusOK, resultResponse{Result: string(status)})
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	result := s.service.Confirm(r.Context(), req.Ticket, req.Hash)
	status := http.StatusOK
	if result == capture.ConfirmNoSuchCapture {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, resultResponse{Result: string(result)})
}

func (s *Server) output(w http.ResponseWriter, r *http.Request) {
	ticket := chi.URLParam(r, "ticket")
	blob, err := s.service.Output(r.Context(), ticket)
	if err != nil {
		if errors.Is(err, capture.ErrNoSuchCapture) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.logger.Error("open output failed", zap.String("ticket", ticket), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer func() {
		if cerr := blob.Close(); cerr != nil {
			s.logger.Warn("close output failed", zap.String("ticket", ticket), zap.Error(cerr))
		}
	}()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(blob.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if n, err := blob.WriteTo(w); err != nil {
		s.logger.Warn("output stream aborted",
			zap.String("ticket", ticket),
			zap.Int64("written", n),
			zap.Error(err),
		)
		// The status line is already out; drop the connection so the client
		// sees a truncated body instead of a short success.
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

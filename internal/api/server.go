// Package api exposes the HTTP interface for the retrieval service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/revradar/retrieval-engine/internal/config"
	"github.com/revradar/retrieval-engine/internal/retrieval"
)

// Retriever is the orchestrator surface the server depends on.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) retrieval.Result
}

// TranscriptProvider is the transcript pipeline surface the server depends on.
type TranscriptProvider interface {
	GetTranscript(ctx context.Context, videoID string, maxChars int) (string, error)
}

// Server wires HTTP handlers to the orchestrator and transcript pipeline.
type Server struct {
	router      chi.Router
	retriever   Retriever
	transcripts TranscriptProvider
	cfg         config.Config
	log         *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(retriever Retriever, transcripts TranscriptProvider, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{
		retriever:   retriever,
		transcripts: transcripts,
		cfg:         cfg,
		log:         logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(90 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/retrieve", s.retrieve)
		r.Get("/transcripts/{video_id}", s.getTranscript)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type retrieveRequest struct {
	URL           string                 `json:"url"`
	Subject       retrieval.SubjectHints `json:"subject"`
	Actor         string                 `json:"actor"`
	BudgetSeconds int                    `json:"budget_seconds"`
	NoEscalate    bool                   `json:"no_escalate"`
}

type retrieveResponse struct {
	retrieval.Result
	Content string `json:"content,omitempty"`
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	res := s.retriever.Retrieve(r.Context(), retrieval.Request{
		URL:        req.URL,
		Subject:    req.Subject,
		Actor:      req.Actor,
		Budget:     time.Duration(req.BudgetSeconds) * time.Second,
		NoEscalate: req.NoEscalate,
	})
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
		if res.Reason == string(retrieval.ContentAbsent) {
			status = http.StatusNotFound
		}
	}
	writeJSON(w, status, retrieveResponse{Result: res, Content: string(res.Content)})
}

type transcriptResponse struct {
	VideoID    string `json:"video_id"`
	Transcript string `json:"transcript"`
}

func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "video_id")
	if videoID == "" {
		writeError(w, http.StatusBadRequest, "video id required")
		return
	}
	maxChars := 0
	if raw := r.URL.Query().Get("max_chars"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "max_chars must be a non-negative integer")
			return
		}
		maxChars = n
	}
	text, err := s.transcripts.GetTranscript(r.Context(), videoID, maxChars)
	if err != nil {
		status := http.StatusBadGateway
		switch class, _ := retrieval.ClassOf(err); class {
		case retrieval.ContentAbsent:
			status = http.StatusNotFound
		case retrieval.BudgetExceeded:
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{VideoID: videoID, Transcript: text})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

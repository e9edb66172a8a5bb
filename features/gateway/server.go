// Package gateway implements the HTTP surface of spec §6: inference
// (with SSE streaming), batch inference start/poll, feedback, and health
// endpoints. Grounded on the teacher's chi-server example
// (digitallysavvy-go-ai/examples/chi-server), generalized from its single
// /generate handler to the gateway's full route table and base_path
// prefixing.
package gateway

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tensorzero/gateway/features/batch"
	"github.com/tensorzero/gateway/features/feedback"
	"github.com/tensorzero/gateway/features/inference"
	"github.com/tensorzero/gateway/runtime/telemetry"
)

// Version is the gateway build version reported by /status.
var Version = "dev"

// Server wires the inference/batch/feedback services to an HTTP mux.
type Server struct {
	orchestrator *inference.Orchestrator
	batcher      *batch.Service
	feedback     *feedback.Service
	logger       telemetry.Logger

	mux *chi.Mux
}

// New builds a Server. basePath is applied as a path prefix to every
// endpoint (spec §6 "optional path prefix (base_path)... with or without
// trailing slash equivalently").
func New(orc *inference.Orchestrator, batcher *batch.Service, fb *feedback.Service, basePath string, logger telemetry.Logger) *Server {
	s := &Server{orchestrator: orc, batcher: batcher, feedback: fb, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.NotFound(s.handleRouteNotFound)

	prefix := normalizeBasePath(basePath)
	r.Route(prefix, func(r chi.Router) {
		r.Post("/inference", s.handleInference)
		r.Post("/batch_inference", s.handleBatchStart)
		r.Post("/batch_inference/poll", s.handleBatchPoll)
		r.Post("/feedback", s.handleFeedback)
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
	})

	s.mux = r
	return s
}

// normalizeBasePath trims any trailing slash and guarantees a leading one, so
// "/prefix" and "/prefix/" mount identically; an empty basePath mounts at
// root.
func normalizeBasePath(basePath string) string {
	p := strings.TrimSuffix(basePath, "/")
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleRouteNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, http.StatusNotFound, errorResponseWire{Error: "Route not found: " + r.Method + " " + r.URL.Path})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

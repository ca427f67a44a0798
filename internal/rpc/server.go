// Package rpc exposes the dyngend Service over HTTP+JSON. It replaces
// the original plugin's OSC command surface: each OSC command
// (/dyngen_add, /dyngen_add_file, /dyngen_free, /dyngen_free_all) maps
// to one route here, carrying the same payload shape buildGenericPayload
// assembled — a hash, a script source, and an ordered parameter name list
// supplied by the client alongside the script text.
package rpc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/capital-g/dyngend/internal/domain"
	"github.com/capital-g/dyngend/internal/dyngen"
	"github.com/capital-g/dyngend/internal/logging"
	"github.com/capital-g/dyngend/internal/metrics"
	"github.com/capital-g/dyngend/internal/observability"
	"github.com/capital-g/dyngend/internal/scriptstore"
)

// Server wires a dyngen.Service to a mux of JSON routes.
type Server struct {
	svc    *dyngen.Service
	loader *scriptstore.Loader
	mux    *http.ServeMux
}

// NewServer builds a Server with routes registered and ready to serve.
func NewServer(svc *dyngen.Service) *Server {
	s := &Server{svc: svc, loader: scriptstore.NewLoader(), mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/script", s.withRequestID(observability.TracingHandler("AddScript", s.handleAddScript)))
	s.mux.HandleFunc("/script/file", s.withRequestID(observability.TracingHandler("AddScriptFile", s.handleAddScriptFile)))
	s.mux.HandleFunc("/script/free", s.withRequestID(observability.TracingHandler("FreeScript", s.handleFreeScript)))
	s.mux.HandleFunc("/script/free-all", s.withRequestID(observability.TracingHandler("FreeAllScripts", s.handleFreeAllScripts)))
	s.mux.HandleFunc("/units", s.withRequestID(observability.TracingHandler("ListUnits", s.handleListUnits)))
	s.mux.HandleFunc("/metrics/snapshot", s.withRequestID(observability.TracingHandler("MetricsSnapshot", s.handleMetricsSnapshot)))
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/metrics", s.handlePrometheusMetrics)
}

// handlePrometheusMetrics defers to metrics.Handler() per request rather
// than mounting it once at construction time, since InitPrometheus may
// not have run yet when NewServer is called.
func (s *Server) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}

// Handler returns the wrapped HTTP handler, including OpenTelemetry
// server-span middleware.
func (s *Server) Handler() http.Handler {
	return observability.HTTPMiddleware(s.mux)
}

// withRequestID stamps a fresh request id onto the response's
// X-Request-Id header, mirroring the teacher's per-invocation
// correlation id without needing a distributed tracing backend attached.
func (s *Server) withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next(w, r)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	logger := logging.OpWithTrace(observability.GetTraceID(r.Context()), observability.GetSpanID(r.Context()))
	logger.Warn("dyngend rpc: request failed", slog.Int("status", status), slog.Any("err", err))
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

type addScriptRequest struct {
	Hash   int32    `json:"hash"`
	Source string   `json:"source"`
	Params []string `json:"params"`
}

func (s *Server) handleAddScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}
	var req addScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	s.svc.AddScript(domain.ScriptHash(req.Hash), req.Source, req.Params)
	writeJSON(w, http.StatusAccepted, nil)
}

type addScriptFileRequest struct {
	Hash   int32    `json:"hash"`
	Path   string   `json:"path"`
	Params []string `json:"params"`
}

func (s *Server) handleAddScriptFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}
	var req addScriptFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	source, err := s.loader.Load(r.Context(), req.Path)
	if err != nil {
		writeError(w, r, http.StatusBadGateway, err)
		return
	}
	if hash, err := scriptstore.ContentHash(req.Path); err == nil && hash != "" {
		logging.Op().Info("loaded script file", "path", req.Path, "content_hash", hash)
	}
	s.svc.AddScript(domain.ScriptHash(req.Hash), source, req.Params)
	writeJSON(w, http.StatusAccepted, nil)
}

type freeScriptRequest struct {
	Hash int32 `json:"hash"`
}

func (s *Server) handleFreeScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}
	var req freeScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.FreeScript(domain.ScriptHash(req.Hash)); err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleFreeAllScripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}
	s.svc.FreeAllScripts()
	writeJSON(w, http.StatusOK, nil)
}

type unitSummaryResponse struct {
	CodeID    int32 `json:"code_id"`
	HasVM     bool  `json:"has_vm"`
	NumInputs int   `json:"num_inputs"`
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	var hashFilter *domain.ScriptHash
	if v := r.URL.Query().Get("hash"); v != "" {
		var h int32
		if _, err := fmt.Sscan(v, &h); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		hash := domain.ScriptHash(h)
		hashFilter = &hash
	}

	units := s.svc.ListUnits(hashFilter)
	out := make([]unitSummaryResponse, 0, len(units))
	for _, u := range units {
		out = append(out, unitSummaryResponse{CodeID: int32(u.CodeID), HasVM: u.HasVM, NumInputs: u.NumInputs})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.Default().Snapshot())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

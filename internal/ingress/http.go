package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/butai/internal/files"
	"github.com/harunnryd/butai/internal/idempotency"
	"github.com/harunnryd/butai/internal/logger"
	"github.com/harunnryd/butai/internal/orchestrator"
)

// Retried creates carrying the same Idempotency-Key inside this window
// are rejected instead of provisioning a second instance.
const idempotencyTTL = 10 * time.Minute

// HTTPServer exposes the instance lifecycle API. Every response is a
// structured {success, ..., error?} document; operation failures are
// carried in the body, not as transport errors.
type HTTPServer struct {
	orch     *orchestrator.Orchestrator
	requests *idempotency.Store
	server   *http.Server
}

// NewHTTPServer builds the API server. requests may be nil, which
// disables create deduplication.
func NewHTTPServer(port int, orch *orchestrator.Orchestrator, requests *idempotency.Store) *HTTPServer {
	mux := http.NewServeMux()
	s := &HTTPServer{
		orch:     orch,
		requests: requests,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/v1/instances", s.handleCreate)
	mux.HandleFunc("GET /api/v1/instances", s.handleList)
	mux.HandleFunc("GET /api/v1/instances/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/v1/instances/{id}/details", s.handleDetails)
	mux.HandleFunc("DELETE /api/v1/instances/{id}", s.handleShutdown)
	mux.HandleFunc("POST /api/v1/instances/{id}/name", s.handleRename)
	mux.HandleFunc("POST /api/v1/instances/{id}/files", s.handleWriteFiles)
	mux.HandleFunc("POST /api/v1/instances/{id}/files/read", s.handleGetFiles)
	mux.HandleFunc("POST /api/v1/instances/{id}/commands", s.handleCommands)
	mux.HandleFunc("POST /api/v1/instances/{id}/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/v1/instances/{id}/errors", s.handleErrors)
	mux.HandleFunc("DELETE /api/v1/instances/{id}/errors", s.handleClearErrors)
	mux.HandleFunc("GET /api/v1/instances/{id}/logs", s.handleLogs)
	mux.HandleFunc("POST /api/v1/instances/{id}/deploy", s.handleDeploy)
	s.server.Handler = withTrace(mux)
	return s
}

// withTrace tags every request with a trace id, echoed back in the
// X-Trace-Id header and carried in the context for downstream log lines.
func withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := strings.ToLower(ulid.Make().String())
		w.Header().Set("X-Trace-Id", traceID)
		next.ServeHTTP(w, r.WithContext(logger.WithTraceID(r.Context(), traceID)))
	})
}

// Start serves in a goroutine; Stop shuts down gracefully.
func (s *HTTPServer) Start() {
	go func() {
		slog.Info("Starting lifecycle API", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}()
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Encoding response failed", "error", err)
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if key := r.Header.Get("Idempotency-Key"); key != "" && s.requests != nil {
		if s.requests.CheckAndMark(key, idempotencyTTL) {
			writeJSON(w, http.StatusOK, orchestrator.CreateResult{
				Status: orchestrator.StatusFailed,
				Error:  fmt.Sprintf("duplicate create request for key %q", key),
			})
			return
		}
		if err := s.requests.Save(); err != nil {
			slog.Warn("Persisting request key failed", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, s.orch.CreateInstance(r.Context(), req))
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.ListAllInstances(r.Context()))
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetInstanceStatus(r.Context(), r.PathValue("id")))
}

func (s *HTTPServer) handleDetails(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetInstanceDetails(r.Context(), r.PathValue("id")))
}

func (s *HTTPServer) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.ShutdownInstance(r.Context(), r.PathValue("id")))
}

func (s *HTTPServer) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectName string `json:"projectName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectName == "" {
		http.Error(w, "Missing required field: projectName", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.UpdateProjectName(r.Context(), r.PathValue("id"), req.ProjectName))
}

func (s *HTTPServer) handleWriteFiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Files []files.File `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.WriteFiles(r.Context(), r.PathValue("id"), req.Files))
}

func (s *HTTPServer) handleGetFiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths       []string `json:"paths"`
		ApplyFilter *bool    `json:"applyFilter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Redaction defaults on; callers must opt out explicitly.
	applyFilter := true
	if req.ApplyFilter != nil {
		applyFilter = *req.ApplyFilter
	}
	writeJSON(w, http.StatusOK, s.orch.GetFiles(r.Context(), r.PathValue("id"), req.Paths, applyFilter))
}

func (s *HTTPServer) handleCommands(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Commands []string `json:"commands"`
		Timeout  string   `json:"timeout,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Commands) == 0 {
		http.Error(w, "Missing required field: commands", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.ExecuteCommands(r.Context(), r.PathValue("id"), req.Commands, req.Timeout))
}

func (s *HTTPServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.RunStaticAnalysis(r.Context(), r.PathValue("id")))
}

func (s *HTTPServer) handleErrors(w http.ResponseWriter, r *http.Request) {
	clearAfterRead := r.URL.Query().Get("clear") == "true"
	writeJSON(w, http.StatusOK, s.orch.GetInstanceErrors(r.Context(), r.PathValue("id"), clearAfterRead))
}

func (s *HTTPServer) handleClearErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.ClearInstanceErrors(r.Context(), r.PathValue("id")))
}

func (s *HTTPServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetLogs(r.Context(), r.PathValue("id")))
}

func (s *HTTPServer) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subdomain string `json:"subdomain,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.orch.DeployToDispatch(r.Context(), r.PathValue("id"), req.Subdomain))
}

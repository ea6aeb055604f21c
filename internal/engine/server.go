package engine

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ddalab/deployctl/internal/core/certinfo"
	"github.com/ddalab/deployctl/internal/shell/history"
)

// CertInspector exposes read-only certificate status to the API.
type CertInspector interface {
	GetCertificateInfo(dir string) certinfo.Bundle
}

// ServerConfig holds everything the control API needs.
type ServerConfig struct {
	Pipeline      *Pipeline
	Supervisor    *Supervisor
	History       *history.Store // optional
	Certs         CertInspector  // optional
	Logger        *slog.Logger
	TargetDir     string
	DefaultConfig UserConfig
	Version       string
}

// Setup creates the complete HTTP handler for the control API.
func Setup(cfg ServerConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &server{cfg: cfg, logger: cfg.Logger.With("component", "api")}

	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(recoveryMiddleware(cfg.Logger))

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/setup", s.handleSetup).Methods("POST")
	api.HandleFunc("/ensure", s.handleEnsure).Methods("POST")
	api.HandleFunc("/validate", s.handleValidate).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/status/stream", s.handleStatusStream).Methods("GET")
	api.HandleFunc("/start", s.handleStart).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/certificates", s.handleCertificates).Methods("GET")
	api.HandleFunc("/history/runs", s.handleHistoryRuns).Methods("GET")
	api.HandleFunc("/history/runs/{id}/events", s.handleHistoryRunEvents).Methods("GET")
	api.HandleFunc("/history/transitions", s.handleHistoryTransitions).Methods("GET")

	return router
}

type server struct {
	cfg    ServerConfig
	logger *slog.Logger
}

// =============================================================================
// Handlers
// =============================================================================

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": s.cfg.Version})
}

// setupRequest is the body of setup/ensure calls. All fields are optional;
// the configured defaults fill the gaps.
type setupRequest struct {
	TargetDir string `json:"target_dir"`
	UserConfig
}

func (s *server) decodeSetupRequest(r *http.Request) (string, UserConfig) {
	req := setupRequest{UserConfig: s.cfg.DefaultConfig}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body keeps defaults
	}
	dir := req.TargetDir
	if dir == "" {
		dir = s.cfg.TargetDir
	}
	return dir, req.UserConfig
}

func (s *server) handleSetup(w http.ResponseWriter, r *http.Request) {
	dir, cfg := s.decodeSetupRequest(r)
	res := s.cfg.Pipeline.Setup(r.Context(), dir, cfg)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (s *server) handleEnsure(w http.ResponseWriter, r *http.Request) {
	dir, cfg := s.decodeSetupRequest(r)
	res := s.cfg.Pipeline.EnsureValidSetup(r.Context(), dir, cfg)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (s *server) handleValidate(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ValidateDeployment(s.cfg.TargetDir))
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Supervisor.Status())
}

// handleStatusStream pushes status snapshots as server-sent events until the
// client goes away.
func (s *server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	snapshots, cancel := s.cfg.Supervisor.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-snapshots:
			if !open {
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if err := enc.Encode(snap); err != nil {
				return
			}
			w.Write([]byte("\n"))
			flusher.Flush()
		}
	}
}

func (s *server) handleStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.cfg.Supervisor.StartDeployment(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeleteVolumes bool `json:"delete_volumes"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := s.cfg.Supervisor.StopDeployment(req.DeleteVolumes); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *server) handleCertificates(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Certs == nil {
		writeError(w, http.StatusNotFound, "certificate inspection unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Certs.GetCertificateInfo(s.cfg.TargetDir))
}

func (s *server) handleHistoryRuns(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeError(w, http.StatusNotFound, "history unavailable")
		return
	}
	runs, err := s.cfg.History.ListRuns(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *server) handleHistoryRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeError(w, http.StatusNotFound, "history unavailable")
		return
	}
	events, err := s.cfg.History.ListPhaseEvents(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *server) handleHistoryTransitions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeError(w, http.StatusNotFound, "history unavailable")
		return
	}
	events, err := s.cfg.History.ListTransitions(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": events})
}

// =============================================================================
// Middleware / Helpers
// =============================================================================

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = "req_" + uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func recoveryMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
					writeError(w, http.StatusInternalServerError, "an unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

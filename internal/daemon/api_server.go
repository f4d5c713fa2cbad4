package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"dubber/internal/api"
	"dubber/internal/config"
	"dubber/internal/logging"
)

type apiServer struct {
	bind     string
	logger   *slog.Logger
	daemon   *Daemon
	queueSvc *api.QueueService

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:     bind,
		logger:   logger,
		daemon:   d,
		queueSvc: api.NewQueueService(d.workflow),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/health", srv.handleHealth)
	mux.HandleFunc("/api/jobs", srv.handleJobs)
	mux.HandleFunc("/api/jobs/", srv.handleJobItem)
	mux.HandleFunc("/api/queue/stats", srv.handleQueueStats)
	mux.HandleFunc("/api/tts/usage", srv.handleTTSUsage)
	mux.HandleFunc("/api/tts/quota", srv.handleTTSQuota)
	mux.HandleFunc("/api/tts/ab-results", srv.handleTTSABResults)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// requester extracts the caller identity used for ownership checks.
func requester(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get("X-User-ID")); user != "" {
		return user
	}
	return strings.TrimSpace(r.URL.Query().Get("user"))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	workflowStatus := api.FromStatusSummary(status.Workflow)
	workflowStatus.StageHealth = api.FromHealthChecks(s.daemon.workflow.Health(r.Context()))
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		Workflow:     workflowStatus,
		TTSSessions:  status.TTSSessions,
		TTSUsage:     api.FromUsage(status.TTSUsage),
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health := s.queueSvc.Health(r.Context())
	status := http.StatusOK
	if !health.Ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobs, err := s.queueSvc.List(r.Context(),
			strings.TrimSpace(r.URL.Query().Get("user")),
			strings.TrimSpace(r.URL.Query().Get("status")))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
	case http.MethodPost:
		var req api.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		job, err := s.queueSvc.Submit(r.Context(), req)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, api.JobResponse{Job: job})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleJobItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if rest == "" {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	id, action, _ := strings.Cut(rest, "/")

	switch {
	case action == "" && r.Method == http.MethodGet:
		job, err := s.queueSvc.Describe(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.JobResponse{Job: job})
	case action == "" && r.Method == http.MethodDelete:
		if err := s.queueSvc.Delete(r.Context(), id, requester(r)); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
	case action == "cancel" && r.Method == http.MethodPost:
		if err := s.queueSvc.Cancel(r.Context(), id, requester(r)); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"cancelled": id})
	case action == "retry" && r.Method == http.MethodPost:
		clone, err := s.queueSvc.Retry(r.Context(), id, requester(r))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, api.JobResponse{Job: clone})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	counts, err := s.queueSvc.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueStatsResponse{Counts: counts})
}

func (s *apiServer) handleTTSUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.daemon.router == nil {
		s.writeJSON(w, http.StatusOK, []api.TTSUsage(nil))
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromUsage(s.daemon.router.Usage()))
}

func (s *apiServer) handleTTSABResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.daemon.router == nil {
		s.writeError(w, http.StatusNotFound, "tts router not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromABResults(s.daemon.router.ABResults()))
}

func (s *apiServer) handleTTSQuota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.daemon.router == nil {
		s.writeError(w, http.StatusNotFound, "tts router not configured")
		return
	}
	service := strings.TrimSpace(r.URL.Query().Get("service"))
	if service == "" {
		s.writeError(w, http.StatusBadRequest, "service query parameter is required")
		return
	}
	quota, err := s.daemon.router.QuotaStatus(service)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromQuota(quota))
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	s.writeError(w, api.HTTPStatus(err), err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	return logging.NewComponentLogger(s.logger, "api-server")
}

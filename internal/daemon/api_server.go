package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kiln/internal/api"
	"kiln/internal/config"
	"kiln/internal/hub"
	"kiln/internal/logging"
	"kiln/internal/queue"
	"kiln/internal/workflow"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("api bind address is required")
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/jobs", srv.handleJobs)
	mux.HandleFunc("/api/jobs/", srv.handleJobItem)
	mux.HandleFunc("/api/workflow/", srv.handleWorkflow)
	mux.Handle("/ws", hub.NewSocketServer(d.hub, d.queue.Status, logger))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
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

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listJobs(w, r)
	case http.MethodPost:
		s.createJob(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) listJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	statusFilter := strings.TrimSpace(query.Get("status"))

	jobs := s.daemon.queue.RecentJobs(0)
	views := make([]api.JobView, 0, len(jobs))
	for _, job := range jobs {
		if statusFilter != "" && string(job.Status) != statusFilter {
			continue
		}
		views = append(views, api.FromJob(job))
		if len(views) >= limit {
			break
		}
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: views})
}

func (s *apiServer) createJob(w http.ResponseWriter, r *http.Request) {
	var req api.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := s.daemon.CreateJob(req)
	if err != nil {
		status := http.StatusBadRequest
		if queue.IsQueueFull(err) {
			status = http.StatusServiceUnavailable
		} else if queue.IsDuplicateJob(err) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleJobItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		job := s.daemon.queue.Job(id)
		if job == nil {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
	case http.MethodDelete:
		job, err := s.daemon.CancelJob(id)
		if err != nil {
			status := http.StatusNotFound
			if errors.Is(err, queue.ErrNotCancellable) {
				status = http.StatusConflict
			}
			s.writeError(w, status, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.daemon.machine == nil {
		s.writeError(w, http.StatusNotImplemented, "workflow tracking is disabled")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/workflow/")
	assetID, action, _ := strings.Cut(rest, "/")
	if assetID == "" || strings.Contains(action, "/") {
		s.writeError(w, http.StatusNotFound, "asset not found")
		return
	}

	ctx := r.Context()
	switch {
	case action == "" && r.Method == http.MethodGet:
		stage, err := s.daemon.machine.Stage(ctx, assetID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.WorkflowResponse{AssetID: assetID, To: string(stage)})
	case action == "approve" && r.Method == http.MethodPost:
		transition, err := s.daemon.machine.Approve(ctx, assetID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, transitionResponse(transition, nil))
	case action == "advance" && r.Method == http.MethodPost:
		var req api.AdvanceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		target, ok := workflow.ParseStage(req.Stage)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown stage %q", req.Stage))
			return
		}
		transition, err := s.daemon.machine.Advance(ctx, assetID, target)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, transitionResponse(transition, nil))
	case action == "export" && r.Method == http.MethodPost:
		skipped, err := s.daemon.machine.SkipToExport(ctx, assetID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, transitionResponse(workflow.Transition{
			AssetID:  assetID,
			To:       workflow.StageExported,
			Advanced: true,
		}, skipped))
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func transitionResponse(t workflow.Transition, skipped []workflow.Stage) api.WorkflowResponse {
	resp := api.WorkflowResponse{
		AssetID:  t.AssetID,
		From:     string(t.From),
		To:       string(t.To),
		Advanced: t.Advanced,
	}
	for _, stage := range skipped {
		resp.Skipped = append(resp.Skipped, string(stage))
	}
	return resp
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

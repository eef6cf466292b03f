package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"songlisten/internal/pipeline"
	"songlisten/internal/synthesis"
	"songlisten/internal/track"
)

// ListenRequest is the POST /api/listen body.
type ListenRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
}

// JobResponse is the wire form of a job.
type JobResponse struct {
	ID          string    `json:"id"`
	Query       string    `json:"query"`
	Mode        string    `json:"mode"`
	Status      JobStatus `json:"status"`
	Stage       string    `json:"stage,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Error       string    `json:"error,omitempty"`
	Result      *Outcome  `json:"result,omitempty"`
	CreatedAt   string    `json:"created_at"`
	StartedAt   *string   `json:"started_at,omitempty"`
	CompletedAt *string   `json:"completed_at,omitempty"`
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ListenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "Query is required", http.StatusBadRequest)
		return
	}

	mode, err := s.cfg.RequestMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.jobMgr.CreateJob(req.Query, mode)
	s.log.Info("created job %s for query %q (%s)", job.ID, req.Query, mode)

	go s.processJob(job)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.jobToResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobs := s.jobMgr.ListJobs()
	responses := make([]*JobResponse, len(jobs))
	for i, job := range jobs {
		responses[i] = s.jobToResponse(job)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

func (s *Server) handleJobAction(w http.ResponseWriter, r *http.Request) {
	// Path shapes: /api/jobs/{id}, /api/jobs/{id}/cancel, /api/jobs/{id}/ws
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}
	jobID := parts[0]

	if len(parts) == 2 && parts[1] == "ws" {
		s.handleJobSocket(w, r, jobID)
		return
	}

	if r.Method == http.MethodGet && len(parts) == 1 {
		job, err := s.jobMgr.GetJob(jobID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.jobToResponse(job))
		return
	}

	if r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "cancel" {
		job, err := s.jobMgr.GetJob(jobID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		if job.Cancel != nil {
			job.Cancel()
		}

		s.jobMgr.UpdateJob(jobID, func(j *Job) {
			if j.Status == StatusQueued || j.Status == StatusRunning {
				j.Status = StatusCancelled
			}
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "cancelled"})
		return
	}

	http.Error(w, "Invalid request", http.StatusBadRequest)
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("query")
	if strings.TrimSpace(query) == "" {
		http.Error(w, "query parameter is required", http.StatusBadRequest)
		return
	}

	report, err := s.pipe.CacheStatus(query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// processJob runs one job through the pipeline. The semaphore bounds
// how many pipelines run at once; queued jobs wait their turn.
func (s *Server) processJob(job *Job) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	started := false
	s.jobMgr.UpdateJob(job.ID, func(j *Job) {
		if j.Status != StatusQueued {
			return
		}
		j.Cancel = cancel
		j.Status = StatusRunning
		started = true
	})
	if !started {
		return
	}

	s.log.Info("starting job %s", job.ID)

	hooks := pipeline.Hooks{
		OnStage: func(stage pipeline.Stage, detail string) {
			s.jobMgr.UpdateJob(job.ID, func(j *Job) {
				j.Stage = string(stage)
				j.Detail = detail
			})
		},
		OnFallback: func(from, to track.AnalysisPath, reason string) {
			s.jobMgr.UpdateJob(job.ID, func(j *Job) {
				j.Detail = fmt.Sprintf("%s path failed (%s), continuing with %s", from, reason, to)
			})
		},
	}

	res, err := s.pipe.Listen(ctx, job.Query, job.Mode, hooks)
	if ctx.Err() != nil {
		s.jobMgr.UpdateJob(job.ID, func(j *Job) {
			if j.Status == StatusRunning {
				j.Status = StatusCancelled
			}
		})
		return
	}
	if err != nil {
		s.log.Error("job %s failed: %v", job.ID, err)
		s.jobMgr.UpdateJob(job.ID, func(j *Job) {
			j.Status = StatusFailed
			j.Error = err.Error()
		})
		return
	}

	s.jobMgr.UpdateJob(job.ID, func(j *Job) {
		j.Status = StatusCompleted
		j.Result = &Outcome{Listen: res, Synthesis: synthesis.Build(res)}
	})
	s.log.Info("job %s completed via %s path", job.ID, res.AnalysisPath)
}

func (s *Server) jobToResponse(job *Job) *JobResponse {
	resp := &JobResponse{
		ID:        job.ID,
		Query:     job.Query,
		Mode:      string(job.Mode),
		Status:    job.Status,
		Stage:     job.Stage,
		Detail:    job.Detail,
		Error:     job.Error,
		Result:    job.Result,
		CreatedAt: job.CreatedAt.Format("2006-01-02 15:04:05"),
	}

	if job.StartedAt != nil {
		started := job.StartedAt.Format("2006-01-02 15:04:05")
		resp.StartedAt = &started
	}

	if job.CompletedAt != nil {
		completed := job.CompletedAt.Format("2006-01-02 15:04:05")
		resp.CompletedAt = &completed
	}

	return resp
}

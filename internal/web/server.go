package web

import (
	"context"
	"net/http"

	"songlisten/internal/config"
	"songlisten/internal/logger"
	"songlisten/internal/pipeline"
	"songlisten/internal/track"
)

// Runner is the pipeline surface the server drives.
type Runner interface {
	Listen(ctx context.Context, rawQuery string, mode track.Mode, hooks pipeline.Hooks) (*track.ListenResult, error)
	CacheStatus(rawQuery string) (*pipeline.CacheReport, error)
}

// Server exposes the pipeline as an asynchronous job API. Jobs run
// concurrently up to the configured parallelism; they share nothing but
// the cache store underneath the pipeline.
type Server struct {
	ctx    context.Context
	pipe   Runner
	jobMgr *JobManager
	cfg    config.Config
	log    *logger.Logger
	sem    chan struct{}
}

// NewServer wires the job API around a pipeline.
func NewServer(ctx context.Context, pipe Runner, jobMgr *JobManager, cfg config.Config, log *logger.Logger) *Server {
	workers := cfg.ParallelJobs
	if workers < 1 {
		workers = 1
	}
	return &Server{
		ctx:    ctx,
		pipe:   pipe,
		jobMgr: jobMgr,
		cfg:    cfg,
		log:    log,
		sem:    make(chan struct{}, workers),
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("/", http.FileServer(http.Dir("web/static")))

	// API endpoints
	mux.HandleFunc("/api/listen", s.handleListen)
	mux.HandleFunc("/api/jobs", s.handleListJobs)
	mux.HandleFunc("/api/jobs/", s.handleJobAction)
	mux.HandleFunc("/api/cache/status", s.handleCacheStatus)

	return s.loggingMiddleware(mux)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debug("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

package web

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"songlisten/internal/synthesis"
	"songlisten/internal/track"
)

// JobStatus is the lifecycle state of a listen job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Outcome is the terminal payload of a completed job: the pipeline
// result plus the synthesized reading of it.
type Outcome struct {
	Listen    *track.ListenResult `json:"listen"`
	Synthesis *synthesis.Result   `json:"synthesis"`
}

// Job is one listen request moving through the pipeline.
type Job struct {
	ID          string
	Query       string
	Mode        track.Mode
	Status      JobStatus
	Stage       string
	Detail      string
	Error       string
	Result      *Outcome
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Cancel      context.CancelFunc
}

// JobManager tracks jobs and fans updates out to subscribers.
type JobManager struct {
	jobs      map[string]*Job
	mu        sync.RWMutex
	listeners map[string][]chan *Job
}

const jobRetention = 1 * time.Hour

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:      make(map[string]*Job),
		listeners: make(map[string][]chan *Job),
	}
}

// StartCleanup starts a background goroutine that removes old finished
// jobs. Stops when ctx is cancelled.
func (jm *JobManager) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				jm.cleanup()
			}
		}
	}()
}

func (jm *JobManager) cleanup() {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	cutoff := time.Now().Add(-jobRetention)
	for id, job := range jm.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(jm.jobs, id)
			delete(jm.listeners, id)
		}
	}
}

// CreateJob registers a new queued job for the query.
func (jm *JobManager) CreateJob(query string, mode track.Mode) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.NewString(),
		Query:     query,
		Mode:      mode,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}

	jm.jobs[job.ID] = job
	return job
}

// GetJob retrieves a job by ID.
func (jm *JobManager) GetJob(id string) (*Job, error) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, ok := jm.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	return job, nil
}

// ListJobs returns all tracked jobs.
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// UpdateJob applies fn to the job under the manager lock and notifies
// subscribers. Lifecycle timestamps follow status transitions.
func (jm *JobManager) UpdateJob(id string, fn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, ok := jm.jobs[id]
	if !ok {
		return fmt.Errorf("job not found: %s", id)
	}

	oldStatus := job.Status
	fn(job)

	if oldStatus != job.Status {
		switch job.Status {
		case StatusRunning:
			if job.StartedAt == nil {
				now := time.Now()
				job.StartedAt = &now
			}
		case StatusCompleted, StatusFailed, StatusCancelled:
			if job.CompletedAt == nil {
				now := time.Now()
				job.CompletedAt = &now
			}
		}
	}

	jm.notifyListeners(id, job)
	return nil
}

// Subscribe subscribes to job updates.
func (jm *JobManager) Subscribe(jobID string) <-chan *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	ch := make(chan *Job, 10)
	jm.listeners[jobID] = append(jm.listeners[jobID], ch)
	return ch
}

// Unsubscribe removes a listener.
func (jm *JobManager) Unsubscribe(jobID string, ch <-chan *Job) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	listeners := jm.listeners[jobID]
	for i, listener := range listeners {
		if listener == ch {
			jm.listeners[jobID] = append(listeners[:i], listeners[i+1:]...)
			close(listener)
			break
		}
	}
}

// notifyListeners sends updates to all listeners. A full listener
// buffer drops the update rather than blocking the pipeline.
func (jm *JobManager) notifyListeners(jobID string, job *Job) {
	for _, ch := range jm.listeners[jobID] {
		select {
		case ch <- job:
		default:
		}
	}
}

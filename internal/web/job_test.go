package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"songlisten/internal/cache"
	"songlisten/internal/config"
	"songlisten/internal/logger"
	"songlisten/internal/pipeline"
	"songlisten/internal/track"
)

// fakeRunner completes instantly unless block is set; it records how
// many Listen calls overlap.
type fakeRunner struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	block   chan struct{}
	err     error
	report  *pipeline.CacheReport
}

func (f *fakeRunner) Listen(ctx context.Context, rawQuery string, mode track.Mode, hooks pipeline.Hooks) (*track.ListenResult, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()

	if hooks.OnStage != nil {
		hooks.OnStage(pipeline.StageDiscover, rawQuery)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &track.ListenResult{
		Query:        track.Query{Raw: rawQuery, Normalized: strings.ToLower(rawQuery)},
		Mode:         mode,
		AnalysisPath: track.PathMetadata,
		Track: track.ResolvedTrack{
			Selected: track.Candidate{Provider: "spotify", ID: "sp1", Title: "Good News", Artist: "Mac Miller"},
		},
	}, nil
}

func (f *fakeRunner) CacheStatus(string) (*pipeline.CacheReport, error) {
	if f.report != nil {
		return f.report, nil
	}
	return &pipeline.CacheReport{}, nil
}

func (f *fakeRunner) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

func newTestServer(t *testing.T, runner Runner, parallel int) (*Server, *JobManager) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ParallelJobs = parallel
	jm := NewJobManager()
	return NewServer(context.Background(), runner, jm, cfg, logger.New(false)), jm
}

func waitForStatus(t *testing.T, jm *JobManager, id string, want JobStatus) *Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jm.GetJob(id)
		if err != nil {
			t.Fatalf("job %s vanished: %v", id, err)
		}
		jm.mu.RLock()
		status := job.Status
		jm.mu.RUnlock()
		if status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return nil
}

func postListen(t *testing.T, s *Server, body string) JobResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/listen", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/listen returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp JobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad job response: %v", err)
	}
	return resp
}

func TestCreateJobUniqueIDs(t *testing.T) {
	jm := NewJobManager()

	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		job := jm.CreateJob("some song", track.ModeAuto)
		if _, err := uuid.Parse(job.ID); err != nil {
			t.Fatalf("job ID %q is not a uuid: %v", job.ID, err)
		}
		if ids[job.ID] {
			t.Fatalf("duplicate job ID: %s", job.ID)
		}
		ids[job.ID] = true
	}
}

func TestCleanup(t *testing.T) {
	jm := NewJobManager()

	// An old completed job (2 hours ago)
	old := jm.CreateJob("old song", track.ModeAuto)
	jm.UpdateJob(old.ID, func(j *Job) {
		j.Status = StatusCompleted
	})
	jm.mu.Lock()
	past := time.Now().Add(-2 * time.Hour)
	jm.jobs[old.ID].CompletedAt = &past
	jm.mu.Unlock()

	// A recent completed job
	recent := jm.CreateJob("recent song", track.ModeAuto)
	jm.UpdateJob(recent.ID, func(j *Job) {
		j.Status = StatusCompleted
	})

	// A running job (never cleaned)
	running := jm.CreateJob("running song", track.ModeAuto)
	jm.UpdateJob(running.ID, func(j *Job) {
		j.Status = StatusRunning
	})

	jm.cleanup()

	if _, err := jm.GetJob(old.ID); err == nil {
		t.Error("old completed job should have been cleaned up")
	}
	if _, err := jm.GetJob(recent.ID); err != nil {
		t.Error("recent completed job should NOT have been cleaned up")
	}
	if _, err := jm.GetJob(running.ID); err != nil {
		t.Error("running job should NOT have been cleaned up")
	}
}

func TestUpdateJobTimestamps(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob("some song", track.ModeAuto)

	jm.UpdateJob(job.ID, func(j *Job) {
		j.Status = StatusRunning
	})
	j, _ := jm.GetJob(job.ID)
	if j.StartedAt == nil {
		t.Error("StartedAt should be set when status changes to running")
	}

	jm.UpdateJob(job.ID, func(j *Job) {
		j.Status = StatusCompleted
	})
	j, _ = jm.GetJob(job.ID)
	if j.CompletedAt == nil {
		t.Error("CompletedAt should be set when status changes to completed")
	}
}

func TestUpdateJobNotFound(t *testing.T) {
	jm := NewJobManager()
	if err := jm.UpdateJob("nonexistent", func(j *Job) {}); err == nil {
		t.Error("UpdateJob should return error for nonexistent job")
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob("some song", track.ModeAuto)

	ch := jm.Subscribe(job.ID)

	jm.UpdateJob(job.ID, func(j *Job) {
		j.Status = StatusRunning
	})

	select {
	case update := <-ch:
		if update.Status != StatusRunning {
			t.Errorf("expected status running, got %s", update.Status)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for update")
	}

	jm.Unsubscribe(job.ID, ch)
}

func TestHandleListenCompletesJob(t *testing.T) {
	runner := &fakeRunner{}
	s, jm := newTestServer(t, runner, 2)

	resp := postListen(t, s, `{"query": "Mac Miller Good News"}`)
	if resp.Query != "Mac Miller Good News" || resp.Mode != "auto" {
		t.Errorf("job response %+v, want the submitted query with the default mode", resp)
	}

	job := waitForStatus(t, jm, resp.ID, StatusCompleted)

	jm.mu.RLock()
	defer jm.mu.RUnlock()
	if job.Result == nil || job.Result.Listen == nil || job.Result.Synthesis == nil {
		t.Fatalf("completed job carries no outcome: %+v", job.Result)
	}
	if job.Result.Synthesis.NaturalObservation == "" {
		t.Error("outcome synthesis is empty")
	}
	if job.Stage != string(pipeline.StageDiscover) {
		t.Errorf("stage %q, want the last hook-reported stage", job.Stage)
	}
}

func TestHandleListenExplicitMode(t *testing.T) {
	runner := &fakeRunner{}
	s, jm := newTestServer(t, runner, 2)

	resp := postListen(t, s, `{"query": "x", "mode": "metadata_only"}`)
	if resp.Mode != "metadata_only" {
		t.Errorf("mode %q, want metadata_only", resp.Mode)
	}
	waitForStatus(t, jm, resp.ID, StatusCompleted)
}

func TestHandleListenValidation(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{}, 2)

	cases := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"empty query", http.MethodPost, `{"query": ""}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, `{`, http.StatusBadRequest},
		{"bad mode", http.MethodPost, `{"query": "x", "mode": "loud"}`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, ``, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/api/listen", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestHandleListenFailedJob(t *testing.T) {
	runner := &fakeRunner{err: track.Errf(track.StageDiscovery, track.CodeDiscoveryNoMatch, "nothing found")}
	s, jm := newTestServer(t, runner, 2)

	resp := postListen(t, s, `{"query": "gibberish"}`)
	job := waitForStatus(t, jm, resp.ID, StatusFailed)

	jm.mu.RLock()
	defer jm.mu.RUnlock()
	if !strings.Contains(job.Error, "DISCOVERY_NO_MATCH") {
		t.Errorf("job error %q, want the typed failure code", job.Error)
	}
}

func TestHandleJobNotFound(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{}, 2)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
}

func TestHandleCancelRunningJob(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s, jm := newTestServer(t, runner, 2)

	resp := postListen(t, s, `{"query": "slow song"}`)
	waitForStatus(t, jm, resp.ID, StatusRunning)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+resp.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel returned %d", rec.Code)
	}

	job := waitForStatus(t, jm, resp.ID, StatusCancelled)

	// The released pipeline goroutine must not resurrect the job.
	time.Sleep(20 * time.Millisecond)
	jm.mu.RLock()
	status := job.Status
	jm.mu.RUnlock()
	if status != StatusCancelled {
		t.Errorf("status %s after pipeline unwound, want cancelled", status)
	}
}

func TestWorkerSemaphoreBoundsConcurrency(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s, jm := newTestServer(t, runner, 1)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, postListen(t, s, `{"query": "queued song"}`).ID)
	}

	// Whichever job won the slot is running; the rest wait in the queue.
	deadline := time.Now().Add(3 * time.Second)
	for {
		running := 0
		jm.mu.RLock()
		for _, j := range jm.jobs {
			if j.Status == StatusRunning {
				running++
			}
		}
		jm.mu.RUnlock()
		if running > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no job ever started running")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(runner.block)
	for _, id := range ids {
		waitForStatus(t, jm, id, StatusCompleted)
	}

	if got := runner.maxConcurrent(); got != 1 {
		t.Errorf("max concurrent pipelines %d, want 1", got)
	}
}

func TestHandleCacheStatus(t *testing.T) {
	runner := &fakeRunner{report: &pipeline.CacheReport{
		Query:    cache.Info{Present: true, Kind: "candidates", Key: "abc"},
		Selected: "ytdlp:yt1",
	}}
	s, _ := newTestServer(t, runner, 2)

	req := httptest.NewRequest(http.MethodGet, "/api/cache/status?query=some+song", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}

	var report pipeline.CacheReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("bad report payload: %v", err)
	}
	if !report.Query.Present || report.Selected != "ytdlp:yt1" {
		t.Errorf("report %+v, want the runner's report", report)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cache/status", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing query returned %d, want 400", rec.Code)
	}
}

func TestJobSocketStreamsTerminalState(t *testing.T) {
	runner := &fakeRunner{}
	s, jm := newTestServer(t, runner, 2)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp := postListen(t, s, `{"query": "socket song"}`)
	waitForStatus(t, jm, resp.ID, StatusCompleted)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/jobs/" + resp.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var msg JobResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("bad socket payload: %v", err)
	}
	if msg.Status != StatusCompleted {
		t.Errorf("socket snapshot status %s, want completed", msg.Status)
	}
	if msg.Result == nil || msg.Result.Synthesis == nil {
		t.Error("terminal snapshot should carry the outcome")
	}
}

func TestJobSocketUnknownJob(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{}, 2)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/jobs/nope/ws"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("expected the handshake to fail for an unknown job")
	}
}

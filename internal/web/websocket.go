package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for simplicity
	},
}

// handleJobSocket streams job updates for GET /api/jobs/{id}/ws until
// the job reaches a terminal state or the client goes away.
func (s *Server) handleJobSocket(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.jobMgr.GetJob(jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Subscribe before the snapshot so no transition is missed.
	updates := s.jobMgr.Subscribe(jobID)
	defer s.jobMgr.Unsubscribe(jobID, updates)

	if data, err := json.Marshal(s.jobToResponse(job)); err == nil {
		conn.WriteMessage(websocket.TextMessage, data)
	}
	if isTerminal(job.Status) {
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case job, ok := <-updates:
			if !ok {
				return
			}

			data, err := json.Marshal(s.jobToResponse(job))
			if err != nil {
				s.log.Error("Failed to marshal job: %v", err)
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Error("Failed to write WebSocket message: %v", err)
				return
			}

			if isTerminal(job.Status) {
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isTerminal(status JobStatus) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

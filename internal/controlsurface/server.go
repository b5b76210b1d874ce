// Package controlsurface exposes TradingAgent's control and streaming
// API over HTTP: GET /status, POST /control/pause, /control/resume and
// /control/emergency_stop, one snapshot-then-delta agent stream at
// /stream/agent, plus /health, /healthz and /metrics. There are no
// start/stop routes and no separate position or decision streams.
// Grounded on cmd/decision/main.go's mux.Handle("/health", ...)/"/metrics"
// registration pattern, generalized from a single metrics mux into a
// control router using github.com/gorilla/mux (newly wired; the teacher
// uses the bare net/http.ServeMux), whose per-route method matching
// restricts each route to its HTTP method.
package controlsurface

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/oodatrading/agent/internal/agent"
	"github.com/oodatrading/agent/internal/observ"
)

const keepaliveInterval = 25 * time.Second

type Controller interface {
	Status() agent.AgentStatus
	EmergencyStop()
	Pause()
	Resume()
}

type Server struct {
	controller Controller

	mu        sync.Mutex
	paused    bool
	listeners map[chan []byte]struct{}
}

func New(controller Controller) *Server {
	return &Server{controller: controller, listeners: map[chan []byte]struct{}{}}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/control/pause", s.handlePause).Methods(http.MethodPost)
	r.HandleFunc("/control/resume", s.handleResume).Methods(http.MethodPost)
	r.HandleFunc("/control/emergency_stop", s.handleEmergencyStop).Methods(http.MethodPost)
	r.HandleFunc("/stream/agent", s.handleStream).Methods(http.MethodGet)
	r.Handle("/health", observ.Health())
	r.Handle("/healthz", observ.HealthHandler())
	r.Handle("/metrics", observ.PrometheusHandler())
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.controller.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.controller.Pause()
	observ.Log("control_pause", nil)
	writeJSON(w, map[string]string{"result": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.controller.Resume()
	observ.Log("control_resume", nil)
	writeJSON(w, map[string]string{"result": "resumed"})
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	s.controller.EmergencyStop()
	observ.Log("control_emergency_stop", nil)
	writeJSON(w, map[string]string{"result": "halted"})
}

// handleStream emits a full AgentStatus snapshot immediately, then a
// delta every time the status changes, with a keepalive comment every
// keepaliveInterval so intermediaries don't time the connection out.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent(w, "snapshot", s.controller.Status())
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	pollTicker := time.NewTicker(time.Second)
	defer pollTicker.Stop()

	lastJSON, _ := json.Marshal(s.controller.Status())
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			cur := s.controller.Status()
			curJSON, err := json.Marshal(cur)
			if err != nil {
				continue
			}
			if string(curJSON) != string(lastJSON) {
				writeEvent(w, "delta", cur)
				flusher.Flush()
				lastJSON = curJSON
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

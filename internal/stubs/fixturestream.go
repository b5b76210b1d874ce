// fixturestream.go adapts the teacher's wire-protocol SSE stub server
// into a replay-side debug endpoint: it serves the WireEvent stream
// `cmd/agent replay --serve` loaded from fixtures, so an external
// observer can watch the same events the dry reasoning pass consumed.
package stubs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/oodatrading/agent/internal/observ"
)

// FixtureStreamServer replays a fixed WireEvent set over SSE, honoring
// Last-Event-ID for resume and a /backfill endpoint for gap repair.
type FixtureStreamServer struct {
	events    []WireEvent
	clients   map[string]chan WireEvent
	clientsMu sync.RWMutex
	heartbeat time.Duration
}

func NewFixtureStreamServer(events []WireEvent) *FixtureStreamServer {
	return &FixtureStreamServer{
		events:    events,
		clients:   make(map[string]chan WireEvent),
		heartbeat: 10 * time.Second,
	}
}

func (s *FixtureStreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	startIndex := 0
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for i, event := range s.events {
			if event.ID == lastEventID {
				startIndex = i + 1
				break
			}
		}
	}

	clientID := fmt.Sprintf("client-%d", time.Now().UnixNano())
	eventChan := make(chan WireEvent, 100)

	s.clientsMu.Lock()
	s.clients[clientID] = eventChan
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, clientID)
		close(eventChan)
		s.clientsMu.Unlock()
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	for i := startIndex; i < len(s.events); i++ {
		if err := writeWireEvent(w, s.events[i]); err != nil {
			return
		}
		flusher.Flush()
		if r.Context().Err() != nil {
			return
		}
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event := <-eventChan:
			if err := writeWireEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeWireEvent(w http.ResponseWriter, event WireEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", event.Type, event.ID, payload)
	return err
}

// ServeBackfill serves /backfill?since_id=&limit= for gap repair.
func (s *FixtureStreamServer) ServeBackfill(w http.ResponseWriter, r *http.Request) {
	sinceID := r.URL.Query().Get("since_id")
	limit := 1000
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	startIndex := 0
	if sinceID != "" {
		for i, event := range s.events {
			if event.ID == sinceID {
				startIndex = i + 1
				break
			}
		}
	}

	var backfill []WireEvent
	for i := startIndex; i < len(s.events) && len(backfill) < limit; i++ {
		backfill = append(backfill, s.events[i])
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"events":   backfill,
		"since_id": sinceID,
		"count":    len(backfill),
		"total":    len(s.events),
		"has_more": startIndex+len(backfill) < len(s.events),
	}); err != nil {
		observ.LogError("fixture_stream_backfill_encode_failed", err, nil)
	}
}

// BroadcastEvent pushes event to every connected client's buffer,
// dropping it for any client whose channel is already full.
func (s *FixtureStreamServer) BroadcastEvent(event WireEvent) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for id, ch := range s.clients {
		select {
		case ch <- event:
		default:
			observ.Log("fixture_stream_client_buffer_full", map[string]any{"client": id})
		}
	}
}

func (s *FixtureStreamServer) ConnectedClients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

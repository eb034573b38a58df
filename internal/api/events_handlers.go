package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// handleEvents streams call events as server-sent events. The current
// status is sent first so a reconnecting client does not miss state it
// failed to observe while disconnected.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events, stop := s.ctrl.Subscribe()
	defer stop()

	writeSSE(w, "status", s.ctrl.Status())
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, string(ev.Kind), ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to encode sse payload", "event", event, "error", err)
		return
	}
	if _, err := w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n")); err != nil {
		slog.Debug("sse write failed", "error", err)
	}
}

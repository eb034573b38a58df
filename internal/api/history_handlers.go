package api

import (
	"net/http"
	"time"

	"github.com/peerline/peerline/internal/call"
	"github.com/peerline/peerline/internal/calllog"
)

// handleHistory returns persisted call attempts, newest first.
// Query params: limit, offset, participant, disposition, since (RFC 3339).
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "call history is not enabled")
		return
	}

	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	q := r.URL.Query()
	filter := calllog.Filter{
		Participant: q.Get("participant"),
		Disposition: call.Disposition(q.Get("disposition")),
		Limit:       pg.Limit,
		Offset:      pg.Offset,
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}

	recs, total, err := s.history.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing call history failed")
		return
	}
	if recs == nil {
		recs = []call.HistoryRecord{}
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  recs,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

type pushTokenRequest struct {
	ParticipantID string `json:"participant_id"`
	Token         string `json:"token"`
}

// handlePushToken registers a device push token for a participant.
func (s *Server) handlePushToken(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeError(w, http.StatusNotFound, "push notifications are not enabled")
		return
	}

	var req pushTokenRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.ParticipantID == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "participant_id and token are required")
		return
	}

	s.tokens.Register(req.ParticipantID, req.Token)
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

package api

import (
	"net/http"

	"github.com/peerline/peerline/internal/signal"
)

type startRequest struct {
	CalleeID string `json:"callee_id"`
	Kind     string `json:"kind"`
}

type answerRequest struct {
	SessionID      string `json:"session_id"`
	PartitionOwner string `json:"partition_owner"`
	Kind           string `json:"kind"`
}

type rejectRequest struct {
	SessionID      string `json:"session_id"`
	PartitionOwner string `json:"partition_owner"`
}

// handleCallStatus returns the current call state snapshot.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// handleCallStart places an outbound call. The handler returns once the
// offer is published; progress arrives on the event stream.
func (s *Server) handleCallStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.CalleeID == "" {
		writeError(w, http.StatusBadRequest, "callee_id is required")
		return
	}
	kind, msg := parseKind(req.Kind)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.ctrl.Start(r.Context(), req.CalleeID, kind); err != nil {
		writeError(w, http.StatusConflict, s.ctrl.Status().Error)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// handleCallAnswer accepts the ringing call named in the request.
func (s *Server) handleCallAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	ref, msg := s.resolveRef(req.SessionID, req.PartitionOwner)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	kind, msg := parseKind(req.Kind)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.ctrl.Answer(r.Context(), ref, kind); err != nil {
		writeError(w, http.StatusConflict, s.ctrl.Status().Error)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// handleCallReject declines the ringing call named in the request.
func (s *Server) handleCallReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	ref, msg := s.resolveRef(req.SessionID, req.PartitionOwner)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.ctrl.Reject(r.Context(), ref); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// handleCallEnd hangs up. Ending with no call in progress succeeds.
func (s *Server) handleCallEnd(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.End(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleCallMute(w http.ResponseWriter, r *http.Request) {
	muted, ok := s.ctrl.ToggleMute()
	writeJSON(w, http.StatusOK, map[string]bool{"muted": muted, "changed": ok})
}

func (s *Server) handleCallCamera(w http.ResponseWriter, r *http.Request) {
	off, ok := s.ctrl.ToggleCamera()
	writeJSON(w, http.StatusOK, map[string]bool{"camera_off": off, "changed": ok})
}

func (s *Server) handleClearError(w http.ResponseWriter, r *http.Request) {
	s.ctrl.ClearError()
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// resolveRef builds a session ref from the request, falling back to the
// currently surfaced call when fields are omitted.
func (s *Server) resolveRef(sessionID, partitionOwner string) (signal.Ref, string) {
	if sessionID == "" || partitionOwner == "" {
		st := s.ctrl.Status()
		if st.Session == nil {
			return signal.Ref{}, "session_id and partition_owner are required"
		}
		if sessionID == "" {
			sessionID = st.Session.ID
		}
		if partitionOwner == "" {
			partitionOwner = st.Session.PartitionOwner
		}
	}
	return signal.Ref{PartitionOwner: partitionOwner, SessionID: sessionID}, ""
}

// parseKind validates the media kind field; empty defaults to video.
func parseKind(raw string) (signal.MediaKind, string) {
	switch raw {
	case "", string(signal.MediaVideo):
		return signal.MediaVideo, ""
	case string(signal.MediaAudio):
		return signal.MediaAudio, ""
	default:
		return "", `kind must be "audio" or "video"`
	}
}

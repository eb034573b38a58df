// Package api exposes call control over HTTP for the local UI: placing,
// answering and ending calls, a server-sent event stream of state
// changes, and the call history.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/peerline/peerline/internal/api/middleware"
	"github.com/peerline/peerline/internal/call"
	"github.com/peerline/peerline/internal/calllog"
	"github.com/peerline/peerline/internal/signal"
)

// Controller is the call-control surface the server drives; implemented
// by *call.Manager.
type Controller interface {
	Start(ctx context.Context, calleeID string, kind signal.MediaKind) error
	Answer(ctx context.Context, ref signal.Ref, kind signal.MediaKind) error
	Reject(ctx context.Context, ref signal.Ref) error
	End(ctx context.Context) error
	ToggleMute() (muted, ok bool)
	ToggleCamera() (off, ok bool)
	Status() call.Status
	Subscribe() (<-chan call.Event, func())
	ClearError()
}

// History lists persisted call attempts; implemented by the calllog
// stores. Nil disables the history endpoint.
type History interface {
	List(ctx context.Context, filter calllog.Filter) ([]call.HistoryRecord, int, error)
}

// TokenRegistry accepts device push token registrations. Nil disables
// the endpoint.
type TokenRegistry interface {
	Register(participantID, token string)
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	ctrl    Controller
	history History
	tokens  TokenRegistry
	metrics http.Handler
}

// NewServer creates the HTTP handler with all routes mounted.
// corsOrigins follows middleware.CORS semantics; metrics, when non-nil,
// is mounted at /metrics.
func NewServer(ctrl Controller, history History, tokens TokenRegistry, metrics http.Handler, corsOrigins []string) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		ctrl:    ctrl,
		history: history,
		tokens:  tokens,
		metrics: metrics,
	}
	s.routes(corsOrigins)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes(corsOrigins []string) {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS(corsOrigins))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/call", func(r chi.Router) {
			r.Get("/", s.handleCallStatus)
			r.Post("/start", s.handleCallStart)
			r.Post("/answer", s.handleCallAnswer)
			r.Post("/reject", s.handleCallReject)
			r.Post("/end", s.handleCallEnd)
			r.Post("/mute", s.handleCallMute)
			r.Post("/camera", s.handleCallCamera)
			r.Post("/clear-error", s.handleClearError)
		})

		r.Get("/events", s.handleEvents)
		r.Get("/history", s.handleHistory)
		r.Post("/push-token", s.handlePushToken)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

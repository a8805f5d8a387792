package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/note-capture/note-capture/internal/application/capture"
	"github.com/note-capture/note-capture/internal/application/ingest"
	"github.com/note-capture/note-capture/internal/application/statemachine"
	"github.com/note-capture/note-capture/internal/domain/note"
	"github.com/note-capture/note-capture/internal/domain/state"
	"github.com/note-capture/note-capture/internal/infrastructure/sse"
)

// Machine is the part of the dispatcher the API drives.
type Machine interface {
	Emit(eventType string, data map[string]any) error
	CurrentState() state.BusinessState
	PreviousState() state.BusinessState
	Running() bool
	QueueLen() int
	Diagnostics() []statemachine.Diagnostic
}

// Ingester turns captured traffic into workflow events.
type Ingester interface {
	Ingest(ctx context.Context, p ingest.Packet) (*ingest.Result, error)
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	machine   Machine
	ingester  Ingester
	notes     note.Repository
	session   *capture.Session
	sseHub    *sse.Hub
	tokenHash string
	logger    zerolog.Logger
}

// NewServer wires the API. An empty tokenHash disables auth.
func NewServer(
	machine Machine,
	ingester Ingester,
	notes note.Repository,
	session *capture.Session,
	sseHub *sse.Hub,
	tokenHash string,
	logger zerolog.Logger,
) *Server {
	return &Server{
		machine:   machine,
		ingester:  ingester,
		notes:     notes,
		session:   session,
		sseHub:    sseHub,
		tokenHash: tokenHash,
		logger:    logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireToken)

		r.Get("/stream", s.stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/events", s.emitEvent)
			r.Post("/captures", s.ingestCapture)

			r.Get("/state", s.getState)
			r.Get("/diagnostics", s.listDiagnostics)

			r.Route("/notes", func(r chi.Router) {
				r.Get("/", s.listNotes)
				r.Get("/{noteId}", s.getNote)
			})
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"state":   s.machine.CurrentState(),
		"running": s.machine.Running(),
	})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

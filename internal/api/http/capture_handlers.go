package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/note-capture/note-capture/internal/application/capture"
	"github.com/note-capture/note-capture/internal/application/ingest"
	"github.com/note-capture/note-capture/internal/application/statemachine"
	"github.com/note-capture/note-capture/internal/domain/event"
	"github.com/note-capture/note-capture/internal/domain/state"
)

type emitEventRequest struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// captureRequest carries the response body either as embedded JSON or as a JSON string.
type captureRequest struct {
	URL    string          `json:"url"`
	Method string          `json:"method"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type stateResponse struct {
	Current  state.BusinessState      `json:"current"`
	Previous state.BusinessState      `json:"previous"`
	Allowed  []state.BusinessState    `json:"allowed"`
	Running  bool                     `json:"running"`
	Queued   int                      `json:"queued"`
	Session  *capture.SessionSnapshot `json:"session,omitempty"`
}

var broadcastOnly = map[string]struct{}{
	event.TypeStateChanged:  {},
	event.TypeNotesCaptured: {},
	event.WildcardTopic:     {},
}

func (s *Server) emitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitEventRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	req.Type = strings.TrimSpace(req.Type)
	if _, ok := broadcastOnly[req.Type]; ok {
		respondError(w, http.StatusBadRequest, "INVALID_EVENT", "event type cannot be queued")
		return
	}
	if err := s.machine.Emit(req.Type, req.Data); err != nil {
		if errors.Is(err, event.ErrEmptyType) {
			respondError(w, http.StatusBadRequest, "INVALID_EVENT", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"type":   req.Type,
		"queued": s.machine.QueueLen(),
	})
}

func (s *Server) ingestCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	body := []byte(req.Body)
	var text string
	if err := json.Unmarshal(req.Body, &text); err == nil {
		body = []byte(text)
	}

	res, err := s.ingester.Ingest(r.Context(), ingest.Packet{
		URL:    req.URL,
		Method: req.Method,
		Status: req.Status,
		Body:   body,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyURL) {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		respondError(w, http.StatusUnprocessableEntity, "PARSE_FAILED", err.Error())
		return
	}
	status := http.StatusAccepted
	if res.Kind == ingest.KindIgnored {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) snapshot() stateResponse {
	current := s.machine.CurrentState()
	resp := stateResponse{
		Current:  current,
		Previous: s.machine.PreviousState(),
		Allowed:  state.AllowedTargets(current),
		Running:  s.machine.Running(),
		Queued:   s.machine.QueueLen(),
	}
	if s.session != nil {
		snap := s.session.Snapshot()
		resp.Session = &snap
	}
	return resp
}

func (s *Server) listDiagnostics(w http.ResponseWriter, r *http.Request) {
	diags := s.machine.Diagnostics()
	if diags == nil {
		diags = []statemachine.Diagnostic{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": diags,
	})
}

func (s *Server) listNotes(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 50, 200)
	notes, err := s.notes.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list notes")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list notes")
		return
	}
	if notes == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"items": []interface{}{}, "limit": limit, "offset": offset})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":  notes,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) getNote(w http.ResponseWriter, r *http.Request) {
	noteID := strings.TrimSpace(chi.URLParam(r, "noteId"))
	if noteID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "noteId required")
		return
	}
	n, err := s.notes.GetByID(r.Context(), noteID)
	if err != nil {
		s.logger.Error().Err(err).Str("note_id", noteID).Msg("failed to get note")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to get note")
		return
	}
	if n == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "note not found")
		return
	}
	respondJSON(w, http.StatusOK, n)
}

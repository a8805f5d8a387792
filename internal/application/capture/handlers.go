package capture

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/note-capture/note-capture/internal/application/statemachine"
	"github.com/note-capture/note-capture/internal/domain/event"
	"github.com/note-capture/note-capture/internal/domain/note"
	"github.com/note-capture/note-capture/internal/domain/state"
)

// Source labels events published by the capture handlers.
const Source = "capture"

// base carries what every capture handler shares.
type base struct {
	statemachine.BaseHandler
	session *Session
	logger  zerolog.Logger
}

func newBase(session *Session, logger zerolog.Logger, s state.BusinessState) base {
	return base{
		session: session,
		logger:  logger.With().Str("handler", s.Name()).Logger(),
	}
}

// fail maps the error event to ERROR and records its message.
func (b *base) fail(ev event.Event) state.BusinessState {
	if ev.Type != event.TypeError {
		return state.None
	}
	b.session.setError(ev.String("message"))
	return state.Error
}

// CheckingLoginHandler waits for the login probe to report.
type CheckingLoginHandler struct{ base }

func (h *CheckingLoginHandler) ProcessEvent(ctx context.Context, ev event.Event, current state.BusinessState) (state.BusinessState, error) {
	switch ev.Type {
	case event.TypeLoginRequired:
		return state.LoginWait, nil
	case event.TypeLoginSuccess:
		return state.ListState, nil
	}
	return h.fail(ev), nil
}

// LoginWaitHandler waits for the user to finish logging in.
type LoginWaitHandler struct{ base }

func (h *LoginWaitHandler) ProcessEvent(ctx context.Context, ev event.Event, current state.BusinessState) (state.BusinessState, error) {
	switch ev.Type {
	case event.TypeLoginSuccess:
		return state.ListState, nil
	case event.TypeLoginExpired:
		return state.CheckingLogin, nil
	}
	return h.fail(ev), nil
}

// ListHandler is the idle state on the result list.
type ListHandler struct{ base }

func (h *ListHandler) ProcessEvent(ctx context.Context, ev event.Event, current state.BusinessState) (state.BusinessState, error) {
	switch ev.Type {
	case event.TypeSearch:
		h.session.setKeyword(ev.String("keyword"))
		return state.Searching, nil
	case event.TypeNoteSelect:
		h.session.setSelected(ev.String("note_id"))
		return state.Selecting, nil
	case event.TypeLoginExpired:
		return state.CheckingLogin, nil
	case event.TypeStop:
		return state.Stop, nil
	case event.TypeSearchResult:
		// Late or scroll-triggered results arrive while idle.
		h.logger.Debug().Msg("search result absorbed on list")
		return state.None, nil
	}
	return h.fail(ev), nil
}

// SearchingHandler stores the notes of a search response.
type SearchingHandler struct {
	base
	store *noteStore
}

func (h *SearchingHandler) OnEnter(ctx context.Context, from state.BusinessState) error {
	h.logger.Info().Str("keyword", h.session.Keyword()).Msg("search started")
	return nil
}

func (h *SearchingHandler) ProcessEvent(ctx context.Context, ev event.Event, current state.BusinessState) (state.BusinessState, error) {
	if ev.Type != event.TypeSearchResult {
		return h.fail(ev), nil
	}
	notes, err := notesFrom(ev)
	if err != nil {
		return state.None, err
	}
	ids := h.store.save(ctx, notes)
	h.session.addCaptured(len(ids))
	h.Publish(ctx, event.MustNew(event.TypeNotesCaptured, map[string]any{
		"keyword":  h.session.Keyword(),
		"count":    len(ids),
		"received": len(notes),
		"note_ids": ids,
	}, event.WithSource(Source)))
	return state.ListState, nil
}

// SelectingHandler waits for the selected card to open.
type SelectingHandler struct{ base }

func (h *SelectingHandler) ProcessEvent(ctx context.Context, ev event.Event, current state.BusinessState) (state.BusinessState, error) {
	switch ev.Type {
	case event.TypeNoteClicked:
		if id := ev.String("note_id"); id != "" {
			h.session.setSelected(id)
		}
		return state.DetailState, nil
	case event.TypeCancelSelect:
		h.session.setSelected("")
		return state.ListState, nil
	}
	return h.fail(ev), nil
}

// DetailHandler stores the opened note when it passes the filter and
// merges comment pages into it. Comments for the selected note that arrive
// before the note itself are held until it loads. All fields are owned by
// the dispatcher loop.
type DetailHandler struct {
	base
	store *noteStore

	opened    *note.Note
	pendingID string
	pending   []note.Comment
}

func (h *DetailHandler) OnExit(ctx context.Context, to state.BusinessState) error {
	h.opened = nil
	h.pendingID = ""
	h.pending = nil
	return nil
}

func (h *DetailHandler) ProcessEvent(ctx context.Context, ev event.Event, current state.BusinessState) (state.BusinessState, error) {
	switch ev.Type {
	case event.TypeDetailLoaded:
		notes, err := notesFrom(ev)
		if err != nil {
			return state.None, err
		}
		if len(notes) == 0 {
			h.logger.Debug().Str("note_id", ev.String("note_id")).Msg("detail loaded without payload")
			return state.None, nil
		}
		last := len(notes) - 1
		opened := normalize(notes[last])
		if h.opened != nil && h.opened.NoteID == opened.NoteID {
			opened = opened.WithComments(h.opened.Comments)
		}
		if h.pendingID != "" && h.pendingID == opened.NoteID {
			opened = opened.WithComments(h.pending)
		}
		h.pendingID, h.pending = "", nil
		notes[last] = opened
		h.opened = &opened

		ids := h.store.save(ctx, notes)
		h.session.addCaptured(len(ids))
		if len(ids) > 0 {
			h.Publish(ctx, event.MustNew(event.TypeNotesCaptured, map[string]any{
				"count":    len(ids),
				"received": len(notes),
				"note_ids": ids,
				"comments": len(opened.Comments),
			}, event.WithSource(Source)))
		}
		return state.None, nil
	case event.TypeCommentsLoaded:
		return state.None, h.mergeComments(ctx, ev)
	case event.TypeBackToList:
		h.session.setSelected("")
		return state.ListState, nil
	case event.TypeLoginExpired:
		return state.CheckingLogin, nil
	}
	return h.fail(ev), nil
}

func (h *DetailHandler) mergeComments(ctx context.Context, ev event.Event) error {
	comments, err := commentsFrom(ev)
	if err != nil {
		return err
	}
	noteID := ev.String("note_id")
	if noteID == "" {
		if h.opened != nil {
			noteID = h.opened.NoteID
		} else {
			noteID = h.session.SelectedNoteID()
		}
	}
	if noteID == "" || len(comments) == 0 {
		return nil
	}

	if h.opened == nil || h.opened.NoteID != noteID {
		if selected := h.session.SelectedNoteID(); selected != "" && selected != noteID {
			h.logger.Debug().Str("note_id", noteID).Str("selected", selected).Msg("comments for another note dropped")
			return nil
		}
		if h.pendingID != noteID {
			h.pendingID, h.pending = noteID, nil
		}
		h.pending = append(h.pending, comments...)
		h.logger.Debug().Str("note_id", noteID).Int("comments", len(h.pending)).Msg("holding comments until detail loads")
		return nil
	}

	merged := h.opened.WithComments(comments)
	h.opened = &merged
	ids := h.store.save(ctx, []note.Note{merged})
	if len(ids) > 0 {
		h.Publish(ctx, event.MustNew(event.TypeNotesCaptured, map[string]any{
			"count":    len(ids),
			"received": 1,
			"note_ids": ids,
			"comments": len(merged.Comments),
		}, event.WithSource(Source)))
	}
	return nil
}

// ErrorHandler holds the workflow until it is reset or stopped.
type ErrorHandler struct{ base }

func (h *ErrorHandler) OnEnter(ctx context.Context, from state.BusinessState) error {
	msg := h.session.LastError()
	h.logger.Error().Str("from", from.Name()).Str("message", msg).Msg("workflow entered error state")
	h.Publish(ctx, event.MustNew(event.TypeError, map[string]any{
		"message": msg,
		"from":    from.Name(),
	}, event.WithSource(Source)))
	return nil
}

func (h *ErrorHandler) ProcessEvent(ctx context.Context, ev event.Event, current state.BusinessState) (state.BusinessState, error) {
	switch ev.Type {
	case event.TypeLoginSuccess, event.TypeSystemInitialized:
		h.session.setError("")
		return state.CheckingLogin, nil
	case event.TypeStop:
		return state.Stop, nil
	case event.TypeError:
		h.session.setError(ev.String("message"))
	}
	return state.None, nil
}

// StopHandler runs the shutdown callback. STOP is terminal.
type StopHandler struct {
	base
	onStop func()
}

func (h *StopHandler) OnEnter(ctx context.Context, from state.BusinessState) error {
	h.logger.Info().Str("from", from.Name()).Msg("workflow stopped")
	if h.onStop != nil {
		h.onStop()
	}
	return nil
}

func (h *StopHandler) ProcessEvent(ctx context.Context, ev event.Event, current state.BusinessState) (state.BusinessState, error) {
	return state.None, nil
}

// noteStore applies the filter and persists what passes.
type noteStore struct {
	repo   note.Repository
	filter *Filter
	logger zerolog.Logger
}

// save returns the ids of the notes that were stored.
func (s *noteStore) save(ctx context.Context, notes []note.Note) []string {
	ids := make([]string, 0, len(notes))
	for _, n := range notes {
		if n.NoteID == "" {
			continue
		}
		n = normalize(n)
		ok, err := s.filter.Match(&n)
		if err != nil {
			s.logger.Warn().Err(err).Str("note_id", n.NoteID).Msg("capture filter failed")
			continue
		}
		if !ok {
			continue
		}
		if s.repo != nil {
			if err := s.repo.Save(ctx, &n); err != nil {
				s.logger.Error().Err(err).Str("note_id", n.NoteID).Msg("failed to store note")
				continue
			}
		}
		ids = append(ids, n.NoteID)
	}
	return ids
}

// normalize fills the fields a parser or client may leave empty.
func normalize(n note.Note) note.Note {
	if n.NoteURL == "" && n.NoteID != "" {
		n.NoteURL = note.URLFor(n.NoteID)
	}
	if n.CaptureTime.IsZero() {
		n.CaptureTime = time.Now().UTC()
	}
	if n.SourceType == "" {
		n.SourceType = note.SourceAPI
	}
	return n
}

// notesFrom reads the "notes" or "note" payload of ev into a fresh slice.
// Payloads posted over HTTP arrive as generic JSON and are decoded through
// encoding/json.
func notesFrom(ev event.Event) ([]note.Note, error) {
	raw, ok := ev.Get("notes")
	if !ok {
		raw, ok = ev.Get("note")
	}
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []note.Note:
		return append([]note.Note(nil), v...), nil
	case []*note.Note:
		out := make([]note.Note, 0, len(v))
		for _, n := range v {
			if n != nil {
				out = append(out, *n)
			}
		}
		return out, nil
	case note.Note:
		return []note.Note{v}, nil
	case *note.Note:
		return []note.Note{*v}, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var many []note.Note
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	var one note.Note
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []note.Note{one}, nil
}

// commentsFrom reads the "comments" payload of ev into a fresh slice.
func commentsFrom(ev event.Event) ([]note.Comment, error) {
	raw, ok := ev.Get("comments")
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []note.Comment:
		return append([]note.Comment(nil), v...), nil
	case []*note.Comment:
		out := make([]note.Comment, 0, len(v))
		for _, c := range v {
			if c != nil {
				out = append(out, *c)
			}
		}
		return out, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var out []note.Comment
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

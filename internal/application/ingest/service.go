package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/note-capture/note-capture/internal/domain/event"
	"github.com/note-capture/note-capture/internal/domain/note"
)

// Source labels events produced from captured traffic.
const Source = "network"

const (
	searchPath  = "/api/sns/web/v1/search/notes"
	feedPath    = "/api/sns/web/v1/feed"
	commentPath = "/api/sns/web/v2/comment/page"
)

// Kind classifies a captured response.
type Kind string

const (
	KindSearch   Kind = "search"
	KindDetail   Kind = "detail"
	KindComments Kind = "comments"
	KindIgnored  Kind = "ignored"
)

var ErrEmptyURL = errors.New("packet url is required")

// Packet is one captured HTTP exchange.
type Packet struct {
	URL    string `json:"url"`
	Method string `json:"method"`
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Result reports what Ingest did with a packet.
type Result struct {
	Kind     Kind   `json:"kind"`
	Notes    int    `json:"notes"`
	Comments int    `json:"comments,omitempty"`
	Event    string `json:"event,omitempty"`
}

// Emitter queues events for the workflow.
type Emitter interface {
	Enqueue(ev event.Event)
}

// Service turns captured API responses into workflow events.
type Service struct {
	emitter Emitter
	logger  zerolog.Logger
}

func NewService(emitter Emitter, logger zerolog.Logger) *Service {
	return &Service{
		emitter: emitter,
		logger:  logger.With().Str("service", "ingest").Logger(),
	}
}

// Classify maps a request URL to the response kind.
func Classify(url string) Kind {
	switch {
	case strings.Contains(url, searchPath):
		return KindSearch
	case strings.Contains(url, feedPath):
		return KindDetail
	case strings.Contains(url, commentPath):
		return KindComments
	default:
		return KindIgnored
	}
}

// Ingest parses p and queues the matching event. A body that cannot be
// parsed queues an error event and returns the parse error.
func (s *Service) Ingest(ctx context.Context, p Packet) (*Result, error) {
	if strings.TrimSpace(p.URL) == "" {
		return nil, ErrEmptyURL
	}
	kind := Classify(p.URL)
	if kind == KindIgnored {
		return &Result{Kind: kind}, nil
	}
	if p.Status != 0 && p.Status != http.StatusOK {
		s.logger.Debug().Str("url", p.URL).Int("status", p.Status).Msg("skipping non-OK response")
		return &Result{Kind: KindIgnored}, nil
	}

	switch kind {
	case KindSearch:
		notes, err := note.ParseSearchResponse(p.Body)
		if err != nil {
			return nil, s.fail(kind, err)
		}
		ev := event.MustNew(event.TypeSearchResult, map[string]any{
			"notes": notes,
			"count": len(notes),
		}, event.WithSource(Source))
		s.emitter.Enqueue(ev)
		s.logger.Info().Int("notes", len(notes)).Msg("search response captured")
		return &Result{Kind: kind, Notes: len(notes), Event: ev.Type}, nil
	case KindComments:
		page, err := note.ParseCommentResponse(p.Body)
		if err != nil {
			return nil, s.fail(kind, err)
		}
		noteID := page.NoteID
		if noteID == "" {
			noteID = noteIDFromURL(p.URL)
		}
		ev := event.MustNew(event.TypeCommentsLoaded, map[string]any{
			"note_id":  noteID,
			"comments": page.Comments,
			"cursor":   page.Cursor,
			"has_more": page.HasMore,
		}, event.WithSource(Source))
		s.emitter.Enqueue(ev)
		s.logger.Info().Str("note_id", noteID).Int("comments", len(page.Comments)).Msg("comment page captured")
		return &Result{Kind: kind, Comments: len(page.Comments), Event: ev.Type}, nil
	default:
		n, err := note.ParseDetailResponse(p.Body)
		if err != nil {
			return nil, s.fail(kind, err)
		}
		ev := event.MustNew(event.TypeDetailLoaded, map[string]any{
			"note_id": n.NoteID,
			"note":    n,
		}, event.WithSource(Source))
		s.emitter.Enqueue(ev)
		s.logger.Info().Str("note_id", n.NoteID).Msg("detail response captured")
		return &Result{Kind: kind, Notes: 1, Event: ev.Type}, nil
	}
}

// noteIDFromURL reads the note_id query parameter of a comment page request.
func noteIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("note_id")
}

func (s *Service) fail(kind Kind, err error) error {
	err = fmt.Errorf("parse %s response: %w", kind, err)
	s.logger.Warn().Err(err).Msg("failed to parse captured response")
	s.emitter.Enqueue(event.MustNew(event.TypeError, map[string]any{
		"message": err.Error(),
	}, event.WithSource(Source)))
	return err
}

package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types understood by the capture workflow.
const (
	TypeSystemInitialized = "system_initialized"
	TypeLoginRequired     = "login_required"
	TypeLoginSuccess      = "login_success"
	TypeSearch            = "search"
	TypeSearchResult      = "search_result"
	TypeNoteSelect        = "note_select"
	TypeNoteClicked       = "note_clicked"
	TypeCancelSelect      = "cancel_select"
	TypeDetailLoaded      = "detail_loaded"
	TypeCommentsLoaded    = "comments_loaded"
	TypeBackToList        = "back_to_list"
	TypeLoginExpired      = "login_expired"
	TypeError             = "error"
	TypeStop              = "stop"

	// Broadcast only, never queued to the dispatcher.
	TypeStateChanged  = "state_changed"
	TypeNotesCaptured = "notes_captured"
)

// WildcardTopic matches every event type on the bus.
const WildcardTopic = "*"

var ErrEmptyType = errors.New("event type is required")

// Event is an immutable typed message. Data is copied in and out.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Source    string         `json:"source,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Option configures an Event at construction.
type Option func(*Event)

// WithSource sets the producing component.
func WithSource(source string) Option {
	return func(e *Event) {
		e.Source = source
	}
}

// WithTimestamp pins the creation instant instead of using the clock.
func WithTimestamp(ts time.Time) Option {
	return func(e *Event) {
		e.Timestamp = ts
	}
}

// New creates an event. A nil data map becomes empty.
func New(eventType string, data map[string]any, opts ...Option) (Event, error) {
	if eventType == "" {
		return Event{}, ErrEmptyType
	}
	e := Event{
		ID:   uuid.New(),
		Type: eventType,
		Data: copyData(data),
	}
	for _, opt := range opts {
		opt(&e)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e, nil
}

// MustNew is New for types known to be valid.
func MustNew(eventType string, data map[string]any, opts ...Option) Event {
	e, err := New(eventType, data, opts...)
	if err != nil {
		panic(fmt.Sprintf("event: %v", err))
	}
	return e
}

// Get returns a payload value.
func (e Event) Get(key string) (any, bool) {
	v, ok := e.Data[key]
	return v, ok
}

// String returns a payload value as a string, or "" when missing or not a string.
func (e Event) String(key string) string {
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}

// Payload returns a copy of the data map.
func (e Event) Payload() map[string]any {
	return copyData(e.Data)
}

// Clone returns a copy that shares no map with e.
func (e Event) Clone() Event {
	c := e
	c.Data = copyData(e.Data)
	return c
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

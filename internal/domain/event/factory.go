package event

// FactorySource labels events built by the named constructors below.
const FactorySource = "factory"

func build(eventType string, data map[string]any) Event {
	return MustNew(eventType, data, WithSource(FactorySource))
}

// SystemInitialized triggers START -> CHECKING_LOGIN.
func SystemInitialized() Event { return build(TypeSystemInitialized, nil) }

// LoginRequired triggers CHECKING_LOGIN -> LOGIN_WAIT.
func LoginRequired() Event { return build(TypeLoginRequired, nil) }

// LoginSuccess triggers CHECKING_LOGIN/LOGIN_WAIT -> LIST_STATE.
func LoginSuccess() Event { return build(TypeLoginSuccess, nil) }

// Search triggers LIST_STATE -> SEARCHING.
func Search(keyword string) Event {
	return build(TypeSearch, map[string]any{"keyword": keyword})
}

// SearchResult triggers SEARCHING -> LIST_STATE. notes is an opaque parser payload.
func SearchResult(notes any) Event {
	return build(TypeSearchResult, map[string]any{"notes": notes})
}

// NoteSelect triggers LIST_STATE -> SELECTING.
func NoteSelect(noteID string) Event {
	return build(TypeNoteSelect, map[string]any{"note_id": noteID})
}

// NoteClicked triggers SELECTING -> DETAIL_STATE.
func NoteClicked(noteID string) Event {
	return build(TypeNoteClicked, map[string]any{"note_id": noteID})
}

// CancelSelect triggers SELECTING -> LIST_STATE.
func CancelSelect() Event { return build(TypeCancelSelect, nil) }

func DetailLoaded(noteID string) Event {
	return build(TypeDetailLoaded, map[string]any{"note_id": noteID})
}

// CommentsLoaded carries a parsed comment page for the note open in DETAIL_STATE.
func CommentsLoaded(noteID string, comments any) Event {
	return build(TypeCommentsLoaded, map[string]any{"note_id": noteID, "comments": comments})
}

// BackToList triggers DETAIL_STATE -> LIST_STATE.
func BackToList() Event { return build(TypeBackToList, nil) }

// LoginExpired triggers LIST_STATE/DETAIL_STATE -> CHECKING_LOGIN.
func LoginExpired() Event { return build(TypeLoginExpired, nil) }

// Failure reports an error from any state.
func Failure(message string) Event {
	return build(TypeError, map[string]any{"message": message})
}

func Stop() Event { return build(TypeStop, nil) }

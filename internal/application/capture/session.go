package capture

import "sync"

// Session is the workflow context shared by the capture handlers.
type Session struct {
	mu             sync.RWMutex
	keyword        string
	selectedNoteID string
	lastError      string
	captured       int
}

// SessionSnapshot is a point-in-time copy of a Session.
type SessionSnapshot struct {
	Keyword        string `json:"keyword,omitempty"`
	SelectedNoteID string `json:"selectedNoteId,omitempty"`
	LastError      string `json:"lastError,omitempty"`
	Captured       int    `json:"captured"`
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionSnapshot{
		Keyword:        s.keyword,
		SelectedNoteID: s.selectedNoteID,
		LastError:      s.lastError,
		Captured:       s.captured,
	}
}

func (s *Session) Keyword() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyword
}

func (s *Session) SelectedNoteID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedNoteID
}

func (s *Session) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

func (s *Session) setKeyword(k string) {
	s.mu.Lock()
	s.keyword = k
	s.mu.Unlock()
}

func (s *Session) setSelected(id string) {
	s.mu.Lock()
	s.selectedNoteID = id
	s.mu.Unlock()
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

func (s *Session) addCaptured(n int) {
	s.mu.Lock()
	s.captured += n
	s.mu.Unlock()
}

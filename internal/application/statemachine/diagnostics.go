package statemachine

import (
	"sync"
	"time"

	"github.com/note-capture/note-capture/internal/domain/state"
)

// DiagnosticKind classifies a non-fatal dispatch problem.
type DiagnosticKind string

const (
	KindNoHandler          DiagnosticKind = "no_handler"
	KindNoTargetHandler    DiagnosticKind = "no_target_handler"
	KindProcessFailed      DiagnosticKind = "process_failed"
	KindExitHookFailed     DiagnosticKind = "exit_hook_failed"
	KindEnterHookFailed    DiagnosticKind = "enter_hook_failed"
	KindTransitionRejected DiagnosticKind = "transition_rejected"
)

const defaultDiagnosticsLimit = 100

// Diagnostic records one handled failure inside the dispatch loop.
type Diagnostic struct {
	Kind      DiagnosticKind      `json:"kind"`
	State     state.BusinessState `json:"state"`
	Target    state.BusinessState `json:"target"`
	EventType string              `json:"eventType,omitempty"`
	Err       string              `json:"error,omitempty"`
	At        time.Time           `json:"at"`
}

// diagnosticLog keeps the most recent entries up to limit.
type diagnosticLog struct {
	mu      sync.Mutex
	limit   int
	entries []Diagnostic
}

func newDiagnosticLog(limit int) *diagnosticLog {
	if limit <= 0 {
		limit = defaultDiagnosticsLimit
	}
	return &diagnosticLog{limit: limit}
}

func (l *diagnosticLog) add(d Diagnostic) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, d)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append([]Diagnostic(nil), l.entries[over:]...)
	}
}

func (l *diagnosticLog) snapshot() []Diagnostic {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Diagnostic, len(l.entries))
	copy(out, l.entries)
	return out
}

package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BusinessState is one node of the capture workflow.
type BusinessState int

const (
	// None is the absent state. It is never current.
	None BusinessState = iota
	Start
	CheckingLogin
	LoginWait
	ListState
	Searching
	Selecting
	DetailState
	Error
	Stop
)

var ErrUnknownState = errors.New("unknown business state")

type metadata struct {
	name        string
	code        int
	displayName string
	description string
	shortName   string
}

var states = map[BusinessState]metadata{
	Start:         {"START", 0, "Starting", "system is initializing", "starting"},
	CheckingLogin: {"CHECKING_LOGIN", 1, "Checking login", "checking whether the site session is logged in", "checking"},
	LoginWait:     {"LOGIN_WAIT", 2, "Waiting for login", "not logged in, waiting for the user to scan the login code", "waiting"},
	ListState:     {"LIST_STATE", 3, "Browsing list", "on the note list page, can browse, search and select notes", "listing"},
	DetailState:   {"DETAIL_STATE", 4, "Viewing detail", "note detail is open with full content and comments", "detailing"},
	Searching:     {"SEARCHING", 5, "Searching", "search submitted, waiting for results", "searching"},
	Selecting:     {"SELECTING", 6, "Selecting note", "a note in the list was chosen and is about to open", "selecting"},
	Stop:          {"STOP", -1, "Stopped", "system is stopping and releasing resources", "stopped"},
	Error:         {"ERROR", -2, "Error", "system hit an error and is waiting to recover", "error"},
}

// transitions is the intended workflow graph. It is read-only.
var transitions = map[BusinessState][]BusinessState{
	Start:         {CheckingLogin},
	CheckingLogin: {LoginWait, ListState},
	LoginWait:     {ListState, CheckingLogin},
	ListState:     {Searching, Selecting, CheckingLogin, Stop},
	Searching:     {ListState},
	Selecting:     {DetailState, ListState},
	DetailState:   {ListState, CheckingLogin},
	Error:         {CheckingLogin, Stop},
	Stop:          {},
}

// All returns every state in declaration order.
func All() []BusinessState {
	return []BusinessState{Start, CheckingLogin, LoginWait, ListState, Searching, Selecting, DetailState, Error, Stop}
}

// AllowedTargets returns the states reachable from s in one step.
func AllowedTargets(s BusinessState) []BusinessState {
	targets := transitions[s]
	out := make([]BusinessState, len(targets))
	copy(out, targets)
	return out
}

// ParseState accepts either the upper-case name or the short name.
func ParseState(val string) (BusinessState, error) {
	v := strings.TrimSpace(val)
	for s, m := range states {
		if strings.EqualFold(v, m.name) || strings.EqualFold(v, m.shortName) {
			return s, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownState, val)
}

// Valid reports whether s is one of the declared states.
func (s BusinessState) Valid() bool {
	_, ok := states[s]
	return ok
}

// CanTransitionTo validates a move against the workflow graph.
func (s BusinessState) CanTransitionTo(target BusinessState) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal is true for states with no outgoing transitions.
func (s BusinessState) IsTerminal() bool {
	targets, ok := transitions[s]
	return ok && len(targets) == 0
}

func (s BusinessState) Name() string {
	if m, ok := states[s]; ok {
		return m.name
	}
	return "NONE"
}

// Code is an ordering and logging aid.
func (s BusinessState) Code() int {
	return states[s].code
}

func (s BusinessState) DisplayName() string {
	if m, ok := states[s]; ok {
		return m.displayName
	}
	return "None"
}

func (s BusinessState) Description() string {
	return states[s].description
}

func (s BusinessState) ShortName() string {
	return states[s].shortName
}

func (s BusinessState) String() string {
	return s.DisplayName()
}

func (s BusinessState) MarshalJSON() ([]byte, error) {
	if s == None {
		return []byte("null"), nil
	}
	return json.Marshal(s.Name())
}

func (s *BusinessState) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = None
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseState(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

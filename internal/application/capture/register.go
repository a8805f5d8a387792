package capture

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/note-capture/note-capture/internal/application/statemachine"
	"github.com/note-capture/note-capture/internal/domain/note"
	"github.com/note-capture/note-capture/internal/domain/state"
)

// Deps are the collaborators of the capture workflow.
type Deps struct {
	Notes  note.Repository
	Filter *Filter
	// OnStop runs when the workflow enters STOP.
	OnStop func()
	Logger zerolog.Logger
}

// Register binds a handler to every workflow state except START.
func Register(d *statemachine.Dispatcher, deps Deps) (*Session, error) {
	session := &Session{}
	logger := deps.Logger.With().Str("service", "capture").Logger()
	store := &noteStore{repo: deps.Notes, filter: deps.Filter, logger: logger}

	handlers := map[state.BusinessState]statemachine.StateHandler{
		state.CheckingLogin: &CheckingLoginHandler{base: newBase(session, logger, state.CheckingLogin)},
		state.LoginWait:     &LoginWaitHandler{base: newBase(session, logger, state.LoginWait)},
		state.ListState:     &ListHandler{base: newBase(session, logger, state.ListState)},
		state.Searching:     &SearchingHandler{base: newBase(session, logger, state.Searching), store: store},
		state.Selecting:     &SelectingHandler{base: newBase(session, logger, state.Selecting)},
		state.DetailState:   &DetailHandler{base: newBase(session, logger, state.DetailState), store: store},
		state.Error:         &ErrorHandler{base: newBase(session, logger, state.Error)},
		state.Stop:          &StopHandler{base: newBase(session, logger, state.Stop), onStop: deps.OnStop},
	}
	for s, h := range handlers {
		if err := d.Register(s, h); err != nil {
			return nil, fmt.Errorf("register %s: %w", s.Name(), err)
		}
	}
	return session, nil
}

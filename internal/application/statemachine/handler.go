package statemachine

import (
	"context"

	"github.com/note-capture/note-capture/internal/domain/event"
	"github.com/note-capture/note-capture/internal/domain/state"
	"github.com/note-capture/note-capture/internal/infrastructure/eventbus"
)

// StateHandler owns the behavior of exactly one BusinessState.
//
// ProcessEvent returns the requested target state, or state.None to stay.
// OnEnter receives the state being left and OnExit the state being entered.
// Hook errors are reported by the dispatcher and never abort a transition.
type StateHandler interface {
	ProcessEvent(ctx context.Context, ev event.Event, current state.BusinessState) (state.BusinessState, error)
	OnEnter(ctx context.Context, from state.BusinessState) error
	OnExit(ctx context.Context, to state.BusinessState) error
}

type busAttacher interface {
	AttachBus(bus *eventbus.Bus)
}

// BaseHandler gives embedding handlers no-op hooks and an outbound bus.
type BaseHandler struct {
	Bus *eventbus.Bus
}

// AttachBus sets the bus unless the handler already has one.
func (b *BaseHandler) AttachBus(bus *eventbus.Bus) {
	if b.Bus == nil {
		b.Bus = bus
	}
}

func (b *BaseHandler) OnEnter(ctx context.Context, from state.BusinessState) error { return nil }

func (b *BaseHandler) OnExit(ctx context.Context, to state.BusinessState) error { return nil }

// Publish broadcasts ev if a bus is attached.
func (b *BaseHandler) Publish(ctx context.Context, ev event.Event) {
	if b.Bus != nil {
		b.Bus.Publish(ctx, ev)
	}
}

// HandlerFunc adapts a function to a StateHandler without hooks.
type HandlerFunc func(ctx context.Context, ev event.Event, current state.BusinessState) (state.BusinessState, error)

func (f HandlerFunc) ProcessEvent(ctx context.Context, ev event.Event, current state.BusinessState) (state.BusinessState, error) {
	return f(ctx, ev, current)
}

func (f HandlerFunc) OnEnter(ctx context.Context, from state.BusinessState) error { return nil }

func (f HandlerFunc) OnExit(ctx context.Context, to state.BusinessState) error { return nil }

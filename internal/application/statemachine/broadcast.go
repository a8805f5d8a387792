package statemachine

import (
	"context"

	"github.com/note-capture/note-capture/internal/domain/event"
	"github.com/note-capture/note-capture/internal/domain/state"
	"github.com/note-capture/note-capture/internal/infrastructure/eventbus"
)

// PublishTransitions returns a StateChangeFunc that broadcasts a
// state_changed event for every committed transition. Publishing happens
// off the loop goroutine so slow observers never stall dispatch.
func PublishTransitions(ctx context.Context, bus *eventbus.Bus) StateChangeFunc {
	return func(from, to state.BusinessState) {
		ev := event.MustNew(event.TypeStateChanged, map[string]any{
			"from":     from.Name(),
			"to":       to.Name(),
			"fromCode": from.Code(),
			"toCode":   to.Code(),
		}, event.WithSource(DefaultSource))
		go bus.Publish(ctx, ev)
	}
}

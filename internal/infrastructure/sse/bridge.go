package sse

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/note-capture/note-capture/internal/domain/event"
	"github.com/note-capture/note-capture/internal/infrastructure/eventbus"
)

// Bridge forwards every bus event to the hub. Call the returned func to detach.
func Bridge(bus *eventbus.Bus, hub *Hub, logger zerolog.Logger) func() {
	logger = logger.With().Str("component", "sse_bridge").Logger()
	sub := bus.Subscribe(event.WildcardTopic, func(ctx context.Context, ev event.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", ev.Type, err)
		}
		msg := NewMessage(ev.Type, data)
		msg.ID = ev.ID.String()
		hub.Broadcast(msg)
		logger.Debug().Str("event_type", ev.Type).Int("clients", hub.GetClientCount()).Msg("event streamed")
		return nil
	})
	return func() {
		bus.Unsubscribe(event.WildcardTopic, sub)
	}
}

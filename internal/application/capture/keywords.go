package capture

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/note-capture/note-capture/internal/domain/event"
	"github.com/note-capture/note-capture/internal/domain/state"
	"github.com/note-capture/note-capture/internal/infrastructure/eventbus"
)

// Enqueuer accepts workflow events.
type Enqueuer interface {
	Enqueue(ev event.Event)
}

// KeywordScheduler queues one search per configured keyword, each time the
// workflow comes back to LIST_STATE.
type KeywordScheduler struct {
	mu       sync.Mutex
	pending  []string
	enqueuer Enqueuer
	logger   zerolog.Logger
}

// ScheduleKeywords subscribes a KeywordScheduler to state_changed events on bus.
func ScheduleKeywords(bus *eventbus.Bus, enqueuer Enqueuer, keywords []string, logger zerolog.Logger) *KeywordScheduler {
	ks := &KeywordScheduler{
		pending:  append([]string(nil), keywords...),
		enqueuer: enqueuer,
		logger:   logger.With().Str("component", "keyword_scheduler").Logger(),
	}
	if len(ks.pending) > 0 {
		bus.Subscribe(event.TypeStateChanged, ks.onStateChanged)
	}
	return ks
}

// Remaining returns the keywords not searched yet.
func (ks *KeywordScheduler) Remaining() []string {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return append([]string(nil), ks.pending...)
}

func (ks *KeywordScheduler) onStateChanged(ctx context.Context, ev event.Event) error {
	if ev.String("to") != state.ListState.Name() {
		return nil
	}
	ks.mu.Lock()
	if len(ks.pending) == 0 {
		ks.mu.Unlock()
		return nil
	}
	keyword := ks.pending[0]
	ks.pending = ks.pending[1:]
	left := len(ks.pending)
	ks.mu.Unlock()

	ks.logger.Info().Str("keyword", keyword).Int("remaining", left).Msg("scheduling search")
	ks.enqueuer.Enqueue(event.MustNew(event.TypeSearch, map[string]any{"keyword": keyword}, event.WithSource(Source)))
	return nil
}

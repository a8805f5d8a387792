package statemachine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/note-capture/note-capture/internal/domain/event"
	"github.com/note-capture/note-capture/internal/domain/state"
	"github.com/note-capture/note-capture/internal/infrastructure/eventbus"
)

// DefaultInitialState is where a capture session begins.
const DefaultInitialState = state.CheckingLogin

// DefaultSource labels events created by Emit.
const DefaultSource = "state_machine"

var ErrRunning = errors.New("dispatcher is running")

// Policy decides whether the workflow graph gates transitions.
type Policy string

const (
	// PolicyHandlerOnly commits any transition whose target has a handler.
	PolicyHandlerOnly Policy = "handler"
	// PolicyStrict also requires the target to be in state.AllowedTargets(current).
	PolicyStrict Policy = "strict"
)

// ParsePolicy maps a config value to a Policy. Empty means PolicyHandlerOnly.
func ParsePolicy(val string) (Policy, error) {
	switch Policy(val) {
	case "", PolicyHandlerOnly:
		return PolicyHandlerOnly, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown transition policy %q", val)
	}
}

// StateChangeFunc observes committed transitions. It runs on the loop goroutine.
type StateChangeFunc func(from, to state.BusinessState)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithPolicy(p Policy) Option {
	return func(d *Dispatcher) {
		d.policy = p
	}
}

// WithDiagnosticsLimit bounds how many diagnostics are retained.
func WithDiagnosticsLimit(n int) Option {
	return func(d *Dispatcher) {
		d.diagnostics = newDiagnosticLog(n)
	}
}

func WithStateChangeCallback(fn StateChangeFunc) Option {
	return func(d *Dispatcher) {
		d.onStateChange = fn
	}
}

// WithSource overrides the source label of emitted events.
func WithSource(source string) Option {
	return func(d *Dispatcher) {
		d.source = source
	}
}

// Dispatcher is the serialized state machine. One goroutine, the Run loop,
// consumes the queue and is the only writer of the current state.
type Dispatcher struct {
	mu       sync.RWMutex
	current  state.BusinessState
	previous state.BusinessState
	handlers map[state.BusinessState]StateHandler

	bus           *eventbus.Bus
	queue         *eventQueue
	lifeMu        sync.Mutex
	running       atomic.Bool
	active        atomic.Bool
	stopPending   bool
	policy        Policy
	source        string
	onStateChange StateChangeFunc
	diagnostics   *diagnosticLog
	logger        zerolog.Logger
}

// New creates a dispatcher. A nil bus gets a private one.
func New(initial state.BusinessState, bus *eventbus.Bus, logger zerolog.Logger, opts ...Option) *Dispatcher {
	if bus == nil {
		bus = eventbus.New("state_machine", logger)
	}
	d := &Dispatcher{
		current:     initial,
		handlers:    make(map[state.BusinessState]StateHandler),
		bus:         bus,
		queue:       newEventQueue(),
		policy:      PolicyHandlerOnly,
		source:      DefaultSource,
		diagnostics: newDiagnosticLog(defaultDiagnosticsLimit),
		logger:      logger.With().Str("component", "dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Bus returns the broadcast bus shared with handlers.
func (d *Dispatcher) Bus() *eventbus.Bus {
	return d.bus
}

// Register binds h to s, replacing any previous binding. Registration
// is only allowed before Run.
func (d *Dispatcher) Register(s state.BusinessState, h StateHandler) error {
	if d.active.Load() {
		return ErrRunning
	}
	if a, ok := h.(busAttacher); ok {
		a.AttachBus(d.bus)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[s] = h
	return nil
}

// Emit queues a new event. It never waits for processing.
func (d *Dispatcher) Emit(eventType string, data map[string]any) error {
	ev, err := event.New(eventType, data, event.WithSource(d.source))
	if err != nil {
		return err
	}
	d.queue.push(ev)
	return nil
}

// Enqueue queues a prebuilt event.
func (d *Dispatcher) Enqueue(ev event.Event) {
	d.queue.push(ev)
}

// Run consumes events until Stop is called or ctx is done. A call while
// the loop is already active returns nil immediately, as does the first
// Run after a Stop that found the dispatcher idle.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.lifeMu.Lock()
	if d.active.Load() {
		d.lifeMu.Unlock()
		return nil
	}
	if d.stopPending {
		d.stopPending = false
		d.lifeMu.Unlock()
		d.logger.Info().Msg("dispatcher stopped before start")
		return nil
	}
	d.active.Store(true)
	d.running.Store(true)
	d.lifeMu.Unlock()
	defer func() {
		d.lifeMu.Lock()
		d.running.Store(false)
		d.active.Store(false)
		d.lifeMu.Unlock()
	}()

	d.logger.Info().Str("state", d.CurrentState().Name()).Msg("dispatcher started")
	defer d.logger.Info().Str("state", d.CurrentState().Name()).Msg("dispatcher stopped")

	for d.running.Load() {
		ev, ok := d.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.queue.signal:
			}
			continue
		}
		d.dispatch(ctx, ev)
	}
	return nil
}

// Stop asks the loop to exit after the event it is processing, if any.
// On an idle dispatcher it makes the next Run return without consuming.
// A loop that is already exiting is left alone.
func (d *Dispatcher) Stop() {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	switch {
	case d.running.Load():
		d.running.Store(false)
		d.queue.wake()
	case !d.active.Load():
		d.stopPending = true
	}
}

func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

func (d *Dispatcher) CurrentState() state.BusinessState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// PreviousState is the state before the most recent transition, or state.None.
func (d *Dispatcher) PreviousState() state.BusinessState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.previous
}

// QueueLen returns the number of events waiting.
func (d *Dispatcher) QueueLen() int {
	return d.queue.len()
}

// Diagnostics returns the retained diagnostics, oldest first.
func (d *Dispatcher) Diagnostics() []Diagnostic {
	return d.diagnostics.snapshot()
}

func (d *Dispatcher) handler(s state.BusinessState) StateHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[s]
}

func (d *Dispatcher) dispatch(ctx context.Context, ev event.Event) {
	current := d.CurrentState()
	h := d.handler(current)
	if h == nil {
		d.report(Diagnostic{Kind: KindNoHandler, State: current, EventType: ev.Type})
		return
	}

	d.logger.Debug().Str("event_type", ev.Type).Str("state", current.Name()).Msg("processing event")

	target, err := d.process(ctx, h, ev, current)
	if err != nil {
		d.report(Diagnostic{Kind: KindProcessFailed, State: current, EventType: ev.Type, Err: err.Error()})
		return
	}
	if target == state.None || target == current {
		return
	}
	d.transition(ctx, h, current, target, ev.Type)
}

func (d *Dispatcher) process(ctx context.Context, h StateHandler, ev event.Event, current state.BusinessState) (target state.BusinessState, err error) {
	defer func() {
		if r := recover(); r != nil {
			target, err = state.None, fmt.Errorf("panic: %v", r)
		}
	}()
	return h.ProcessEvent(ctx, ev, current)
}

func (d *Dispatcher) transition(ctx context.Context, from StateHandler, current, target state.BusinessState, eventType string) {
	if d.policy == PolicyStrict && !current.CanTransitionTo(target) {
		d.report(Diagnostic{Kind: KindTransitionRejected, State: current, Target: target, EventType: eventType})
		return
	}
	to := d.handler(target)
	if to == nil {
		d.report(Diagnostic{Kind: KindNoTargetHandler, State: current, Target: target, EventType: eventType})
		return
	}

	if err := callHook(func() error { return from.OnExit(ctx, target) }); err != nil {
		d.report(Diagnostic{Kind: KindExitHookFailed, State: current, Target: target, EventType: eventType, Err: err.Error()})
	}

	d.mu.Lock()
	d.previous = current
	d.current = target
	d.mu.Unlock()

	if err := callHook(func() error { return to.OnEnter(ctx, current) }); err != nil {
		d.report(Diagnostic{Kind: KindEnterHookFailed, State: current, Target: target, EventType: eventType, Err: err.Error()})
	}

	d.logger.Info().
		Str("from", current.Name()).
		Str("to", target.Name()).
		Str("event_type", eventType).
		Msg("state transition")

	if d.onStateChange != nil {
		if err := callHook(func() error { d.onStateChange(current, target); return nil }); err != nil {
			d.logger.Warn().Err(err).Msg("state change callback failed")
		}
	}
}

func (d *Dispatcher) report(diag Diagnostic) {
	diag.At = time.Now().UTC()
	d.diagnostics.add(diag)
	d.logger.Warn().
		Str("kind", string(diag.Kind)).
		Str("state", diag.State.Name()).
		Str("target", diag.Target.Name()).
		Str("event_type", diag.EventType).
		Str("error", diag.Err).
		Msg("dispatch diagnostic")
}

func callHook(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

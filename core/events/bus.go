// Package events provides the event bus used for inter-module hooks and for
// driving the module lifecycle.
//
// Listeners for an event run strictly in registration order, each one
// finishing before the next starts. A listener that fails aborts the rest
// of that emission and the error is returned to the emitter.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Name identifies an event.
type Name string

// Lifecycle events emitted by the runtime.
const (
	ModulesInitialized   Name = "modules:initialized"
	ModulesSectionsReady Name = "modules:allSectionsReady"
	ModulesReadyTask     Name = "modules:readyTask"
	ModulesReady         Name = "modules:ready"
	RoutesCompiled       Name = "routes:compiled"
)

// Event is a published event.
type Event struct {
	// Name is the event name.
	Name Name

	// Module is the module that emitted the event, empty for the runtime.
	Module string

	// Data contains the event payload.
	Data map[string]any
}

// Handler processes an event.
type Handler func(ctx context.Context, event Event) error

// Registration is one listener on one event.
type Registration struct {
	// Event is the event listened to.
	Event Name

	// Name identifies the handler within its module. A later registration
	// with the same module and name replaces the earlier one in place.
	Name string

	// Module owns the handler.
	Module string

	Handler Handler
}

// Observer is told about every emission. It is used for metrics.
type Observer interface {
	ObserveEmit(event string, listeners int, err error)
}

// Bus is an ordered publish/subscribe bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Registration
	logger   zerolog.Logger
	observer Observer
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Name][]Registration),
		logger:   logger,
	}
}

// SetObserver installs an emission observer.
func (b *Bus) SetObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = o
}

// Subscribe appends a listener for reg.Event. If the owning module already
// registered a handler with the same name for that event, it is replaced
// without changing its position.
func (b *Bus) Subscribe(reg Registration) error {
	if reg.Handler == nil {
		return fmt.Errorf("event %q: handler %q of module %q is nil", reg.Event, reg.Name, reg.Module)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[reg.Event]
	if reg.Name != "" {
		for i, existing := range list {
			if existing.Module == reg.Module && existing.Name == reg.Name {
				list[i] = reg
				return nil
			}
		}
	}
	b.handlers[reg.Event] = append(list, reg)
	return nil
}

// On is shorthand for an anonymous runtime-owned subscription.
func (b *Bus) On(event Name, handler Handler) error {
	return b.Subscribe(Registration{Event: event, Handler: handler})
}

// Emit runs every listener of event in order. The first error stops the
// emission and is returned, annotated with the failing listener.
func (b *Bus) Emit(ctx context.Context, event Event) error {
	b.mu.RLock()
	listeners := make([]Registration, len(b.handlers[event.Name]))
	copy(listeners, b.handlers[event.Name])
	observer := b.observer
	b.mu.RUnlock()

	b.logger.Debug().
		Str("event", string(event.Name)).
		Str("module", event.Module).
		Int("listeners", len(listeners)).
		Msg("event emitted")

	var err error
	for _, reg := range listeners {
		if err = reg.Handler(ctx, event); err != nil {
			err = &HandlerError{Event: event.Name, Module: reg.Module, Handler: reg.Name, Err: err}
			b.logger.Error().
				Err(err).
				Str("event", string(event.Name)).
				Str("module", reg.Module).
				Str("handler", reg.Name).
				Msg("event handler failed")
			break
		}
	}

	if observer != nil {
		observer.ObserveEmit(string(event.Name), len(listeners), err)
	}
	return err
}

// Listeners returns the registrations for event in execution order.
func (b *Bus) Listeners(event Name) []Registration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Registration, len(b.handlers[event]))
	copy(out, b.handlers[event])
	return out
}

// HasSubscribers checks if any handlers are registered for an event.
func (b *Bus) HasSubscribers(event Name) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event]) > 0
}

// HandlerError reports which listener aborted an emission.
type HandlerError struct {
	Event   Name
	Module  string
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	who := e.Module
	if who == "" {
		who = "runtime"
	}
	if e.Handler != "" {
		who += "." + e.Handler
	}
	return fmt.Sprintf("event %q: handler %s: %v", e.Event, who, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

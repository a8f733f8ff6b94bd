package events

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

// testLogger returns a disabled logger for tests
func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func record(calls *[]string, label string) Handler {
	return func(ctx context.Context, event Event) error {
		*calls = append(*calls, label)
		return nil
	}
}

// TestNewBus verifies that NewBus creates a properly initialized Bus
func TestNewBus(t *testing.T) {
	bus := NewBus(testLogger())

	if bus == nil {
		t.Fatal("NewBus returned nil")
	}
	if bus.handlers == nil {
		t.Error("handlers map not initialized")
	}
	if bus.HasSubscribers(ModulesReady) {
		t.Error("new bus should have no subscribers")
	}
}

func TestEmit_RegistrationOrder(t *testing.T) {
	bus := NewBus(testLogger())
	var calls []string

	for _, label := range []string{"a", "b", "c"} {
		if err := bus.Subscribe(Registration{Event: "x", Name: label, Module: "m", Handler: record(&calls, label)}); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	if err := bus.Emit(context.Background(), Event{Name: "x"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	want := []string{"a", "b", "c"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestEmit_ErrorAbortsRemainingHandlers(t *testing.T) {
	bus := NewBus(testLogger())
	var calls []string
	boom := errors.New("boom")

	bus.Subscribe(Registration{Event: "x", Name: "first", Module: "m", Handler: record(&calls, "first")})
	bus.Subscribe(Registration{Event: "x", Name: "fails", Module: "m", Handler: func(ctx context.Context, e Event) error {
		calls = append(calls, "fails")
		return boom
	}})
	bus.Subscribe(Registration{Event: "x", Name: "never", Module: "m", Handler: record(&calls, "never")})

	err := bus.Emit(context.Background(), Event{Name: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("Emit error = %v, want wrapping %v", err, boom)
	}

	var herr *HandlerError
	if !errors.As(err, &herr) {
		t.Fatalf("error should be a *HandlerError, got %T", err)
	}
	if herr.Module != "m" || herr.Handler != "fails" {
		t.Errorf("HandlerError = %+v, want module m handler fails", herr)
	}

	if len(calls) != 2 {
		t.Errorf("calls = %v, want [first fails]", calls)
	}
}

func TestSubscribe_SameNameReplacesInPlace(t *testing.T) {
	bus := NewBus(testLogger())
	var calls []string

	bus.Subscribe(Registration{Event: "x", Name: "one", Module: "base", Handler: record(&calls, "one")})
	bus.Subscribe(Registration{Event: "x", Name: "two", Module: "base", Handler: record(&calls, "two")})
	bus.Subscribe(Registration{Event: "x", Name: "one", Module: "base", Handler: record(&calls, "one-override")})

	if n := len(bus.Listeners("x")); n != 2 {
		t.Fatalf("listeners = %d, want 2", n)
	}

	bus.Emit(context.Background(), Event{Name: "x"})

	if len(calls) != 2 || calls[0] != "one-override" || calls[1] != "two" {
		t.Errorf("calls = %v, want [one-override two]", calls)
	}
}

func TestSubscribe_SameNameDifferentModuleAppends(t *testing.T) {
	bus := NewBus(testLogger())
	var calls []string

	bus.Subscribe(Registration{Event: "x", Name: "save", Module: "a", Handler: record(&calls, "a")})
	bus.Subscribe(Registration{Event: "x", Name: "save", Module: "b", Handler: record(&calls, "b")})

	if n := len(bus.Listeners("x")); n != 2 {
		t.Errorf("listeners = %d, want 2", n)
	}
}

func TestSubscribe_NilHandler(t *testing.T) {
	bus := NewBus(testLogger())
	if err := bus.Subscribe(Registration{Event: "x", Name: "nil", Module: "m"}); err == nil {
		t.Error("Subscribe with nil handler should fail")
	}
}

func TestEmit_NoListeners(t *testing.T) {
	bus := NewBus(testLogger())
	if err := bus.Emit(context.Background(), Event{Name: "nobody"}); err != nil {
		t.Errorf("Emit with no listeners: %v", err)
	}
}

func TestEmit_PassesEvent(t *testing.T) {
	bus := NewBus(testLogger())

	var got Event
	bus.On("notes:afterSave", func(ctx context.Context, e Event) error {
		got = e
		return nil
	})

	bus.Emit(context.Background(), Event{Name: "notes:afterSave", Module: "notes", Data: map[string]any{"id": "n1"}})

	if got.Module != "notes" {
		t.Errorf("Module = %q, want %q", got.Module, "notes")
	}
	if got.Data["id"] != "n1" {
		t.Errorf("Data[id] = %v, want n1", got.Data["id"])
	}
}

type countingObserver struct {
	events []string
	errs   int
}

func (o *countingObserver) ObserveEmit(event string, listeners int, err error) {
	o.events = append(o.events, event)
	if err != nil {
		o.errs++
	}
}

func TestEmit_Observer(t *testing.T) {
	bus := NewBus(testLogger())
	obs := &countingObserver{}
	bus.SetObserver(obs)

	bus.On("ok", func(ctx context.Context, e Event) error { return nil })
	bus.On("bad", func(ctx context.Context, e Event) error { return errors.New("x") })

	bus.Emit(context.Background(), Event{Name: "ok"})
	bus.Emit(context.Background(), Event{Name: "bad"})

	if len(obs.events) != 2 {
		t.Errorf("observed %d emissions, want 2", len(obs.events))
	}
	if obs.errs != 1 {
		t.Errorf("observed %d errors, want 1", obs.errs)
	}
}

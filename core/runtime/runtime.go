// Package runtime drives the module lifecycle.
// It builds and registers modules, emits lifecycle events on the bus,
// publishes helpers and event handlers, compiles the route table and runs
// a startup task when one is requested.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/artpar/modhost/core/apierr"
	"github.com/artpar/modhost/core/events"
	"github.com/artpar/modhost/core/module"
	"github.com/artpar/modhost/core/registry"
	"github.com/artpar/modhost/core/respond"
	"github.com/artpar/modhost/core/routing"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is a lifecycle state. States only move forward.
type State int

const (
	StateNew State = iota
	StateConstructed
	StateInitialized
	StateAllSectionsReady
	StateReadyTaskExecuted
	StateModuleReady
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConstructed:
		return "constructed"
	case StateInitialized:
		return "initialized"
	case StateAllSectionsReady:
		return "allSectionsReady"
	case StateReadyTaskExecuted:
		return "readyTaskExecuted"
	case StateModuleReady:
		return "moduleReady"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TaskObserver is told about every startup task run.
type TaskObserver interface {
	ObserveTask(task string, duration time.Duration, err error)
}

// Config configures the runtime.
type Config struct {
	// Logger for the lifecycle, the bus and the route compiler.
	Logger zerolog.Logger

	// Wrapper wraps render and API terminals. If nil, a wrapper with the
	// default error taxonomy and no renderer is used.
	Wrapper *respond.Wrapper

	// Tasks observes startup tasks (optional).
	Tasks TaskObserver
}

// Runtime is the process-wide module host.
type Runtime struct {
	mu sync.RWMutex

	// registry holds modules in registration order
	registry *registry.Registry

	// events drives the lifecycle and inter-module hooks
	events *events.Bus

	// helpers is the live helper table
	helpers *HelperRegistry

	compiler *routing.Compiler
	table    *routing.Table
	state    State
	tasks    TaskObserver
	logger   zerolog.Logger
}

// New creates a runtime.
func New(config Config) *Runtime {
	wrapper := config.Wrapper
	if wrapper == nil {
		n := respond.NewNormalizer(apierr.DefaultKinds(), respond.ZerologLogger{L: config.Logger})
		wrapper = respond.NewWrapper(n, nil)
	}

	return &Runtime{
		registry: registry.New(),
		events:   events.NewBus(config.Logger),
		helpers:  NewHelperRegistry(),
		compiler: routing.NewCompiler(wrapper, config.Logger),
		tasks:    config.Tasks,
		logger:   config.Logger,
	}
}

// Outcome reports what Boot did with the startup command.
type Outcome struct {
	// Task is the "<module>:<task>" that ran, if any.
	Task string

	// SpanID identifies the task run in logs.
	SpanID string

	Duration time.Duration

	// Exit is true when the process must exit instead of serving.
	Exit bool
}

// Boot takes every definition chain through the lifecycle. command may
// name a startup task as "<module>:<task>", where module is a name or an
// alias; it is run with args before modules become ready. Any error
// aborts the boot and the process must not serve.
func (r *Runtime) Boot(ctx context.Context, chains [][]module.Definition, command string, args []string) (Outcome, error) {
	if s := r.State(); s != StateNew {
		return Outcome{}, fmt.Errorf("boot: runtime already in state %s", s)
	}

	// constructed
	for _, chain := range chains {
		m, err := module.Build(chain...)
		if err != nil {
			return Outcome{}, err
		}
		if err := r.registry.Register(m); err != nil {
			return Outcome{}, err
		}
		m.Attach(r)
		r.logger.Debug().
			Str("module", m.Name).
			Str("alias", m.Alias).
			Str("prefix", m.ActionPrefix).
			Int("layers", len(m.Chain())).
			Msg("module registered")
	}
	r.advance(StateConstructed)

	// initialized
	for _, m := range r.registry.List() {
		for _, fn := range m.Inits() {
			if err := fn(ctx, m); err != nil {
				return Outcome{}, fmt.Errorf("init module %q: %w", m.Name, err)
			}
		}
	}
	if err := r.Emit(ctx, events.ModulesInitialized, "", nil); err != nil {
		return Outcome{}, err
	}
	r.advance(StateInitialized)

	// allSectionsReady
	if err := r.registerSections(); err != nil {
		return Outcome{}, err
	}
	if err := r.Emit(ctx, events.ModulesSectionsReady, "", nil); err != nil {
		return Outcome{}, err
	}
	r.advance(StateAllSectionsReady)

	// readyTaskExecuted
	outcome, err := r.runTask(ctx, command, args)
	if err != nil {
		return outcome, err
	}
	if err := r.Emit(ctx, events.ModulesReadyTask, "", map[string]any{
		"task": outcome.Task,
		"exit": outcome.Exit,
	}); err != nil {
		return outcome, err
	}
	r.advance(StateReadyTaskExecuted)

	// moduleReady
	if err := r.Emit(ctx, events.ModulesReady, "", nil); err != nil {
		return outcome, err
	}
	r.advance(StateModuleReady)

	return outcome, nil
}

// registerSections publishes helpers and event handlers, then subscribes
// the route compiler last so it runs after every module's own
// allSectionsReady handlers.
func (r *Runtime) registerSections() error {
	for _, m := range r.registry.List() {
		r.helpers.Register(m.Name, m.Helpers())
		for _, h := range m.Handlers() {
			if err := r.events.Subscribe(events.Registration{
				Event:   h.Event,
				Name:    h.Name,
				Module:  m.Name,
				Handler: h.Handler,
			}); err != nil {
				return apierr.Configf(m.Name, "register handler: %v", err)
			}
		}
	}

	return r.events.Subscribe(events.Registration{
		Event:   events.ModulesSectionsReady,
		Name:    "compileRoutes",
		Handler: r.compileRoutes,
	})
}

func (r *Runtime) compileRoutes(ctx context.Context, _ events.Event) error {
	table, err := r.compiler.Compile(r.registry.List())
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.table = table
	r.mu.Unlock()

	return r.Emit(ctx, events.RoutesCompiled, "", map[string]any{"routes": table.Len()})
}

func (r *Runtime) runTask(ctx context.Context, command string, args []string) (Outcome, error) {
	if command == "" {
		return Outcome{}, nil
	}

	m, taskName, task, err := r.resolveTask(command)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{
		Task:   m.Name + ":" + taskName,
		SpanID: uuid.NewString(),
		Exit:   !task.KeepRunning,
	}
	log := r.logger.With().
		Str("span_id", outcome.SpanID).
		Str("task", outcome.Task).
		Logger()

	log.Info().Strs("args", args).Msg("task started")
	start := time.Now()
	err = task.Run(ctx, m, args)
	outcome.Duration = time.Since(start)

	if r.tasks != nil {
		r.tasks.ObserveTask(outcome.Task, outcome.Duration, err)
	}
	if err != nil {
		log.Error().Err(err).Dur("duration", outcome.Duration).Msg("task failed")
		return outcome, fmt.Errorf("task %s: %w", outcome.Task, err)
	}

	log.Info().
		Dur("duration", outcome.Duration).
		Bool("exit", outcome.Exit).
		Msg("task finished")
	return outcome, nil
}

// resolveTask finds the module and task named by "<module>:<task>".
func (r *Runtime) resolveTask(command string) (*module.Module, string, module.Task, error) {
	name, taskName, ok := strings.Cut(command, ":")
	if !ok || name == "" || taskName == "" {
		return nil, "", module.Task{}, fmt.Errorf("task %q: expected <module>:<task>", command)
	}

	m, ok := r.registry.Lookup(name)
	if !ok {
		return nil, "", module.Task{}, fmt.Errorf("task %q: no module named %q", command, name)
	}
	task, ok := m.Task(taskName)
	if !ok {
		return nil, "", module.Task{}, fmt.Errorf("task %q: module %q has no task %q", command, m.Name, taskName)
	}
	if task.Run == nil {
		return nil, "", module.Task{}, apierr.Configf(m.Name, "task %q has no Run function", taskName)
	}
	return m, taskName, task, nil
}

func (r *Runtime) advance(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()

	r.logger.Debug().Str("state", s.String()).Msg("lifecycle state")
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Table returns the compiled route table, or nil before compilation.
func (r *Runtime) Table() *routing.Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table
}

// Registry returns the module registry.
func (r *Runtime) Registry() *registry.Registry {
	return r.registry
}

// Events returns the event bus.
func (r *Runtime) Events() *events.Bus {
	return r.events
}

// Helpers returns the live helper table.
func (r *Runtime) Helpers() *HelperRegistry {
	return r.helpers
}

// Lookup finds a module by name or alias.
func (r *Runtime) Lookup(nameOrAlias string) (*module.Module, bool) {
	return r.registry.Lookup(nameOrAlias)
}

// Emit publishes an event on the bus.
func (r *Runtime) Emit(ctx context.Context, event events.Name, source string, data map[string]any) error {
	return r.events.Emit(ctx, events.Event{Name: event, Module: source, Data: data})
}

// Helper returns a helper registered by a module, by name or alias.
func (r *Runtime) Helper(moduleName, name string) (any, bool) {
	if m, ok := r.registry.Lookup(moduleName); ok {
		moduleName = m.Name
	}
	return r.helpers.Get(moduleName, name)
}

// Modules lists modules in registration order.
func (r *Runtime) Modules() []*module.Module {
	return r.registry.List()
}

var _ module.Host = (*Runtime)(nil)

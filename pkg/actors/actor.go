// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package actors runs assignments. One actor lives per live assignment: it
// binds, queues for its lock-set, expands its arguments, drives the
// implementation (single-shot or streaming), and terminates with exactly one
// terminal event. Control arrives asynchronously as cancel, interrupt,
// pause and resume; pauses are observed cooperatively at pausepoints.
package actors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/arkitektio/rekuest-go/pkg/definition"
	"github.com/arkitektio/rekuest-go/pkg/locks"
	"github.com/arkitektio/rekuest-go/pkg/messages"
	"github.com/arkitektio/rekuest-go/pkg/serialization"
	"github.com/arkitektio/rekuest-go/pkg/state"
)

// Emitter delivers one event into the outbound queue. It must block rather
// than drop: per-assignment event order is a protocol guarantee.
type Emitter func(ctx context.Context, ev messages.Event) error

// Config wires an actor to its runtime.
type Config struct {
	InstanceID string
	Serializer *serialization.Serializer
	Locks      *locks.Manager
	Contexts   *locks.Contexts
	States     map[string]*state.State
	Emit       Emitter
	Logger     *slog.Logger
}

// Actor executes one assignment.
type Actor struct {
	assign messages.Assign
	impl   Implementation
	cfg    Config
	logger *slog.Logger

	cancelMu   sync.Mutex
	cancelKind messages.EventKind
	cancelRun  context.CancelFunc

	pauseMu sync.Mutex
	pauseCh chan struct{}

	terminal sync.Once
	done     chan struct{}
}

// New returns an actor for assign. Run must be called exactly once.
func New(assign messages.Assign, impl Implementation, cfg Config) *Actor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Actor{
		assign: assign,
		impl:   impl,
		cfg:    cfg,
		logger: logger.With("assignment", assign.Assignment, "interface", impl.Interface),
		done:   make(chan struct{}),
	}
}

// Done is closed once the terminal event has been emitted and the actor's
// locks are released.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Assignment returns the assignment id this actor runs.
func (a *Actor) Assignment() string { return a.assign.Assignment }

// Cancel requests cooperative termination; the terminal event will be
// CANCELLED.
func (a *Actor) Cancel() { a.requestStop(messages.EventCancelled) }

// Interrupt requests termination without a resume path; the terminal event
// will be INTERRUPTED. Interrupt wins over an earlier Cancel.
func (a *Actor) Interrupt() { a.requestStop(messages.EventInterrupted) }

func (a *Actor) requestStop(kind messages.EventKind) {
	a.cancelMu.Lock()
	if a.cancelKind == "" || kind == messages.EventInterrupted {
		a.cancelKind = kind
	}
	cancel := a.cancelRun
	a.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *Actor) requested() messages.EventKind {
	a.cancelMu.Lock()
	defer a.cancelMu.Unlock()
	return a.cancelKind
}

// Pause suspends the assignment at its next pausepoint.
func (a *Actor) Pause() {
	a.pauseMu.Lock()
	if a.pauseCh == nil {
		a.pauseCh = make(chan struct{})
	}
	a.pauseMu.Unlock()
}

// Resume lifts a pause.
func (a *Actor) Resume() {
	a.pauseMu.Lock()
	if a.pauseCh != nil {
		close(a.pauseCh)
		a.pauseCh = nil
	}
	a.pauseMu.Unlock()
}

// Run drives the assignment to its terminal event. ctx is the agent's
// lifetime; cancellation of the assignment itself goes through Cancel and
// Interrupt.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.cancelMu.Lock()
	a.cancelRun = cancel
	early := a.cancelKind
	a.cancelMu.Unlock()
	if early != "" {
		cancel()
	}

	runCtx = withHelper(runCtx, &Helper{actor: a})

	if err := a.emitEvent(ctx, messages.Event{Kind: messages.EventBound}); err != nil {
		a.logger.Error("bound event failed", "error", err)
	}

	lockSet := a.lockSet()
	if len(lockSet) > 0 {
		if err := a.emitEvent(ctx, messages.Event{Kind: messages.EventQueued}); err != nil {
			a.logger.Error("queued event failed", "error", err)
		}
		if err := a.cfg.Locks.AcquireAll(runCtx, lockSet); err != nil {
			a.finish(ctx, a.stopEvent(fmt.Sprintf("stopped while queued: %v", err)))
			return
		}
		defer a.cfg.Locks.ReleaseAll(lockSet)
	}

	args, err := a.buildArgs(runCtx)
	if err != nil {
		a.finish(ctx, messages.Event{Kind: messages.EventCritical, Message: err.Error()})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("implementation panicked", "panic", r)
			a.finish(ctx, messages.Event{
				Kind:    messages.EventCritical,
				Message: fmt.Sprintf("implementation panicked: %v", r),
			})
		}
	}()

	switch a.impl.Definition.Kind {
	case definition.KindGenerator:
		a.runGenerator(ctx, runCtx, args)
	default:
		a.runFunction(ctx, runCtx, args)
	}
}

func (a *Actor) runFunction(ctx, runCtx context.Context, args reflect.Value) {
	results := a.impl.fn.Call([]reflect.Value{reflect.ValueOf(runCtx), args})

	errResult := results[len(results)-1]
	if !errResult.IsNil() {
		a.finish(ctx, a.errorEvent(errResult.Interface().(error)))
		return
	}

	values := make([]any, len(results)-1)
	for i := range values {
		values[i] = results[i].Interface()
	}
	returns, err := a.cfg.Serializer.ShrinkOutputs(ctx, a.impl.Definition, values)
	if err != nil {
		a.finish(ctx, messages.Event{Kind: messages.EventCritical, Message: err.Error()})
		return
	}
	a.finish(ctx, messages.Event{Kind: messages.EventDone, Returns: returns})
}

// runGenerator drives the returned sequence, shrinking and YIELDing every
// element. Pause and cancellation are observed between yields.
func (a *Actor) runGenerator(ctx, runCtx context.Context, args reflect.Value) {
	results := a.impl.fn.Call([]reflect.Value{reflect.ValueOf(runCtx), args})
	seq := results[0]

	var userErr, critErr error
	yieldType := seq.Type().In(0)
	yield := reflect.MakeFunc(yieldType, func(in []reflect.Value) []reflect.Value {
		stop := []reflect.Value{reflect.ValueOf(false)}
		if err := a.pausepoint(runCtx); err != nil {
			return stop
		}
		if !in[1].IsNil() {
			userErr = in[1].Interface().(error)
			return stop
		}
		returns, err := a.cfg.Serializer.ShrinkOutputs(ctx, a.impl.Definition, []any{in[0].Interface()})
		if err != nil {
			critErr = err
			return stop
		}
		if err := a.emitEvent(ctx, messages.Event{Kind: messages.EventYield, Returns: returns}); err != nil {
			critErr = err
			return stop
		}
		return []reflect.Value{reflect.ValueOf(true)}
	})
	seq.Call([]reflect.Value{yield})

	switch {
	case a.requested() != "":
		a.finish(ctx, a.stopEvent("stopped while streaming"))
	case critErr != nil:
		a.finish(ctx, messages.Event{Kind: messages.EventCritical, Message: critErr.Error()})
	case userErr != nil:
		a.finish(ctx, a.errorEvent(userErr))
	default:
		a.finish(ctx, messages.Event{Kind: messages.EventDone})
	}
}

// errorEvent classifies an implementation error: AssignmentError is the
// recoverable ERROR, a requested stop becomes its terminal kind, everything
// else is CRITICAL.
func (a *Actor) errorEvent(err error) messages.Event {
	if kind := a.requested(); kind != "" && errors.Is(err, context.Canceled) {
		return messages.Event{Kind: kind, Message: "stopped"}
	}
	var ae *AssignmentError
	if errors.As(err, &ae) {
		return messages.Event{Kind: messages.EventError, Message: ae.Error()}
	}
	return messages.Event{Kind: messages.EventCritical, Message: err.Error()}
}

// stopEvent is the terminal for a requested stop; defaults to CANCELLED if
// the run context ended for another reason.
func (a *Actor) stopEvent(message string) messages.Event {
	kind := a.requested()
	if kind == "" {
		kind = messages.EventCancelled
	}
	return messages.Event{Kind: kind, Message: message}
}

func (a *Actor) finish(ctx context.Context, ev messages.Event) {
	a.terminal.Do(func() {
		if err := a.emitEvent(ctx, ev); err != nil {
			a.logger.Error("terminal event failed", "kind", ev.Kind, "error", err)
		}
		a.logger.Debug("assignment finished", "kind", ev.Kind)
	})
}

func (a *Actor) emitEvent(ctx context.Context, ev messages.Event) error {
	ev.Type = messages.KindEvent
	ev.Assignment = a.assign.Assignment
	return a.cfg.Emit(ctx, ev)
}

func (a *Actor) pausepoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.pauseMu.Lock()
	ch := a.pauseCh
	a.pauseMu.Unlock()
	if ch == nil {
		return nil
	}
	if err := a.emitEvent(ctx, messages.Event{Kind: messages.EventPaused}); err != nil {
		return err
	}
	select {
	case <-ch:
		return a.emitEvent(ctx, messages.Event{Kind: messages.EventResumed})
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) flushState(ctx context.Context, name string) error {
	st, ok := a.cfg.States[name]
	if !ok {
		return fmt.Errorf("actors: no state named %q", name)
	}
	return st.Flush(ctx)
}

// lockSet is the union of the locks protecting the injected contexts plus
// one implicit lock per writable state.
func (a *Actor) lockSet() []string {
	var contextNames []string
	for _, cb := range a.impl.Bindings.Contexts {
		contextNames = append(contextNames, cb.Name)
	}
	names := a.cfg.Contexts.LockSet(contextNames)
	for _, sb := range a.impl.Bindings.States {
		if !sb.ReadOnly {
			names = append(names, sb.Name)
		}
	}
	return names
}

// buildArgs expands the wire args and injects contexts and state handles
// into a fresh args struct.
func (a *Actor) buildArgs(ctx context.Context) (reflect.Value, error) {
	argsType := a.impl.fn.Type().In(1)
	argsVal := reflect.New(argsType).Elem()

	expanded, err := a.cfg.Serializer.ExpandInputs(ctx, a.impl.Definition, a.assign.Args)
	if err != nil {
		return reflect.Value{}, err
	}
	for key, idx := range a.impl.Bindings.WirePorts {
		if err := assignField(argsVal.Field(idx), expanded[key]); err != nil {
			return reflect.Value{}, fmt.Errorf("arg %q: %w", key, err)
		}
	}

	for _, cb := range a.impl.Bindings.Contexts {
		entry, ok := a.cfg.Contexts.Get(cb.Name)
		if !ok {
			return reflect.Value{}, fmt.Errorf("no context named %q", cb.Name)
		}
		if err := assignField(argsVal.Field(cb.Field), entry.Value); err != nil {
			return reflect.Value{}, fmt.Errorf("context %q: %w", cb.Name, err)
		}
	}

	for _, sb := range a.impl.Bindings.States {
		st, ok := a.cfg.States[sb.Name]
		if !ok {
			return reflect.Value{}, fmt.Errorf("no state named %q", sb.Name)
		}
		if err := assignField(argsVal.Field(sb.Field), st.Handle(!sb.ReadOnly)); err != nil {
			return reflect.Value{}, fmt.Errorf("state %q: %w", sb.Name, err)
		}
	}
	return argsVal, nil
}

// assignField sets an expanded value into a struct field, recursing through
// pointers, slices and maps since expansion produces []any and
// map[string]any containers.
func assignField(field reflect.Value, value any) error {
	if value == nil {
		return nil
	}
	ft := field.Type()

	if ft.Kind() == reflect.Pointer {
		elem := reflect.New(ft.Elem())
		if err := assignField(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(ft) {
		field.Set(rv)
		return nil
	}
	if rv.Type().ConvertibleTo(ft) && isScalarKind(ft.Kind()) && isScalarKind(rv.Kind()) {
		field.Set(rv.Convert(ft))
		return nil
	}

	switch ft.Kind() {
	case reflect.Slice:
		if rv.Kind() != reflect.Slice {
			return fmt.Errorf("cannot assign %T to %s", value, ft)
		}
		out := reflect.MakeSlice(ft, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if err := assignField(out.Index(i), rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		field.Set(out)
		return nil
	case reflect.Map:
		if rv.Kind() != reflect.Map {
			return fmt.Errorf("cannot assign %T to %s", value, ft)
		}
		out := reflect.MakeMapWithSize(ft, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			elem := reflect.New(ft.Elem()).Elem()
			if err := assignField(elem, iter.Value().Interface()); err != nil {
				return err
			}
			out.SetMapIndex(iter.Key().Convert(ft.Key()), elem)
		}
		field.Set(out)
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, ft)
}

func isScalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String, reflect.Bool:
		return true
	}
	return false
}

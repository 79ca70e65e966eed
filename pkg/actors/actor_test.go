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

package actors

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkitektio/rekuest-go/pkg/definition"
	"github.com/arkitektio/rekuest-go/pkg/locks"
	"github.com/arkitektio/rekuest-go/pkg/messages"
	"github.com/arkitektio/rekuest-go/pkg/serialization"
	"github.com/arkitektio/rekuest-go/pkg/state"
	"github.com/arkitektio/rekuest-go/pkg/structures"
)

// collector gathers emitted events in order.
type collector struct {
	mu     sync.Mutex
	events []messages.Event
}

func (c *collector) emit(_ context.Context, ev messages.Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *collector) kinds() []messages.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]messages.EventKind, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Kind
	}
	return out
}

func (c *collector) last() messages.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

type rig struct {
	registry *Registry
	contexts *locks.Contexts
	locks    *locks.Manager
	states   map[string]*state.State
	events   *collector
}

func newRig(t *testing.T) *rig {
	t.Helper()
	structs := structures.NewRegistry()
	return &rig{
		registry: NewRegistry(definition.NewBuilder(structs)),
		contexts: locks.NewContexts(),
		locks:    locks.NewManager(),
		states:   map[string]*state.State{},
		events:   &collector{},
	}
}

func (r *rig) run(t *testing.T, iface string, args map[string]any) *Actor {
	t.Helper()
	impl, ok := r.registry.Get(iface)
	require.True(t, ok)
	actor := New(messages.Assign{Assignment: "a1", Implementation: iface, Args: args}, impl, Config{
		Serializer: serialization.New(structures.NewRegistry()),
		Locks:      r.locks,
		Contexts:   r.contexts,
		States:     r.states,
		Emit:       r.events.emit,
	})
	actor.Run(context.Background())
	return actor
}

func TestFunctionDone(t *testing.T) {
	r := newRig(t)
	type args struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	require.NoError(t, r.registry.Register("add", func(ctx context.Context, a args) (int, error) {
		return a.A + a.B, nil
	}))

	r.run(t, "add", map[string]any{"a": 2.0, "b": 3.0})

	assert.Equal(t, []messages.EventKind{messages.EventBound, messages.EventDone}, r.events.kinds())
	assert.Equal(t, map[string]any{"return0": 5}, r.events.last().Returns)
}

func TestGeneratorYields(t *testing.T) {
	r := newRig(t)
	type args struct {
		Limit int `json:"limit"`
	}
	require.NoError(t, r.registry.Register("count", func(ctx context.Context, a args) iter.Seq2[int, error] {
		return func(yield func(int, error) bool) {
			for i := 0; i < a.Limit; i++ {
				if !yield(i, nil) {
					return
				}
			}
		}
	}))

	r.run(t, "count", map[string]any{"limit": 2})

	assert.Equal(t, []messages.EventKind{
		messages.EventBound, messages.EventYield, messages.EventYield, messages.EventDone,
	}, r.events.kinds())
}

func TestAssignmentErrorIsError(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.registry.Register("fail", func(ctx context.Context, a struct{}) error {
		return Errorf("no samples left")
	}))

	r.run(t, "fail", nil)

	assert.Equal(t, []messages.EventKind{messages.EventBound, messages.EventError}, r.events.kinds())
	assert.Contains(t, r.events.last().Message, "no samples left")
}

func TestUnknownErrorIsCritical(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.registry.Register("boom", func(ctx context.Context, a struct{}) error {
		return errors.New("disk on fire")
	}))

	r.run(t, "boom", nil)
	assert.Equal(t, []messages.EventKind{messages.EventBound, messages.EventCritical}, r.events.kinds())
}

func TestPanicIsCritical(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.registry.Register("panic", func(ctx context.Context, a struct{}) error {
		panic("unexpected nil")
	}))

	r.run(t, "panic", nil)
	assert.Equal(t, []messages.EventKind{messages.EventBound, messages.EventCritical}, r.events.kinds())
	assert.Contains(t, r.events.last().Message, "panicked")
}

func TestExpansionFailureIsCritical(t *testing.T) {
	r := newRig(t)
	type args struct {
		Needed int `json:"needed"`
	}
	require.NoError(t, r.registry.Register("strict", func(ctx context.Context, a args) error {
		return nil
	}))

	r.run(t, "strict", nil)
	assert.Equal(t, []messages.EventKind{messages.EventBound, messages.EventCritical}, r.events.kinds())
	assert.Contains(t, r.events.last().Message, "required")
}

func TestCancelDuringRun(t *testing.T) {
	r := newRig(t)
	running := make(chan struct{})
	require.NoError(t, r.registry.Register("wait", func(ctx context.Context, a struct{}) error {
		close(running)
		<-ctx.Done()
		return ctx.Err()
	}))

	impl, _ := r.registry.Get("wait")
	actor := New(messages.Assign{Assignment: "a1"}, impl, Config{
		Serializer: serialization.New(structures.NewRegistry()),
		Locks:      r.locks,
		Contexts:   r.contexts,
		States:     r.states,
		Emit:       r.events.emit,
	})
	go actor.Run(context.Background())

	<-running
	actor.Cancel()
	<-actor.Done()

	assert.Equal(t, []messages.EventKind{messages.EventBound, messages.EventCancelled}, r.events.kinds())
}

func TestInterruptWinsOverCancel(t *testing.T) {
	r := newRig(t)
	running := make(chan struct{})
	require.NoError(t, r.registry.Register("wait", func(ctx context.Context, a struct{}) error {
		close(running)
		<-ctx.Done()
		return ctx.Err()
	}))

	impl, _ := r.registry.Get("wait")
	actor := New(messages.Assign{Assignment: "a1"}, impl, Config{
		Serializer: serialization.New(structures.NewRegistry()),
		Locks:      r.locks,
		Contexts:   r.contexts,
		States:     r.states,
		Emit:       r.events.emit,
	})
	go actor.Run(context.Background())

	<-running
	actor.Cancel()
	actor.Interrupt()
	<-actor.Done()

	assert.Equal(t, messages.EventInterrupted, r.events.last().Kind)
}

func TestPauseResumeAtPausepoint(t *testing.T) {
	r := newRig(t)
	entered := make(chan struct{})
	require.NoError(t, r.registry.Register("pausable", func(ctx context.Context, a struct{}) error {
		helper, _ := FromContext(ctx)
		close(entered)
		// First pausepoint blocks until resumed.
		if err := helper.Pausepoint(ctx); err != nil {
			return err
		}
		return nil
	}))

	impl, _ := r.registry.Get("pausable")
	actor := New(messages.Assign{Assignment: "a1"}, impl, Config{
		Serializer: serialization.New(structures.NewRegistry()),
		Locks:      r.locks,
		Contexts:   r.contexts,
		States:     r.states,
		Emit:       r.events.emit,
	})
	actor.Pause()
	go actor.Run(context.Background())

	<-entered
	time.Sleep(50 * time.Millisecond)
	actor.Resume()
	<-actor.Done()

	assert.Equal(t, []messages.EventKind{
		messages.EventBound, messages.EventPaused, messages.EventResumed, messages.EventDone,
	}, r.events.kinds())
}

func TestHelperLogAndProgress(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.registry.Register("chatty", func(ctx context.Context, a struct{}) error {
		helper, ok := FromContext(ctx)
		if !ok {
			return errors.New("no helper")
		}
		if err := helper.Log(ctx, messages.LogInfo, "starting"); err != nil {
			return err
		}
		return helper.Progress(ctx, 150)
	}))

	r.run(t, "chatty", nil)

	kinds := r.events.kinds()
	assert.Equal(t, []messages.EventKind{
		messages.EventBound, messages.EventLog, messages.EventProgress, messages.EventDone,
	}, kinds)

	progress := r.events.events[2]
	require.NotNil(t, progress.Percentage)
	assert.Equal(t, 100, *progress.Percentage)
}

func TestContextInjectionAndQueueing(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.contexts.Register("microscope", "SCOPE-1", "stage"))

	type args struct {
		Scope any `rekuest:"context=microscope"`
	}
	var got any
	require.NoError(t, r.registry.Register("use_scope", func(ctx context.Context, a args) error {
		got = a.Scope
		return nil
	}))

	r.run(t, "use_scope", nil)

	assert.Equal(t, "SCOPE-1", got)
	// A lock-set means the actor reports QUEUED before running.
	assert.Equal(t, []messages.EventKind{
		messages.EventBound, messages.EventQueued, messages.EventDone,
	}, r.events.kinds())
	assert.False(t, r.locks.Held("stage"))
}

func TestStateInjection(t *testing.T) {
	r := newRig(t)
	type Progress struct {
		Percent int `json:"percent"`
	}
	st, err := state.New(context.Background(), "progress", Progress{}, structures.NewRegistry())
	require.NoError(t, err)
	r.states["progress"] = st

	type args struct {
		Progress *state.Handle `rekuest:"state=progress"`
		Readonly *state.Handle `rekuest:"state=progress,readonly"`
	}
	require.NoError(t, r.registry.Register("track", func(ctx context.Context, a args) error {
		if err := a.Progress.Set("/percent", 10); err != nil {
			return err
		}
		if err := a.Readonly.Set("/percent", 20); err == nil {
			return errors.New("read-only handle accepted a write")
		}
		return nil
	}))

	r.run(t, "track", nil)
	assert.Equal(t, messages.EventDone, r.events.last().Kind)

	got, err := st.Get("/percent")
	require.NoError(t, err)
	assert.Equal(t, 10, got)
}

func TestGeneratorCancelMidStream(t *testing.T) {
	r := newRig(t)
	started := make(chan struct{})
	var once sync.Once
	require.NoError(t, r.registry.Register("stream", func(ctx context.Context, a struct{}) iter.Seq2[int, error] {
		return func(yield func(int, error) bool) {
			for i := 0; ; i++ {
				once.Do(func() { close(started) })
				if !yield(i, nil) {
					return
				}
				select {
				case <-ctx.Done():
				case <-time.After(10 * time.Millisecond):
				}
			}
		}
	}))

	impl, _ := r.registry.Get("stream")
	actor := New(messages.Assign{Assignment: "a1"}, impl, Config{
		Serializer: serialization.New(structures.NewRegistry()),
		Locks:      r.locks,
		Contexts:   r.contexts,
		States:     r.states,
		Emit:       r.events.emit,
	})
	go actor.Run(context.Background())

	<-started
	actor.Cancel()
	<-actor.Done()

	kinds := r.events.kinds()
	assert.Equal(t, messages.EventCancelled, kinds[len(kinds)-1])
}

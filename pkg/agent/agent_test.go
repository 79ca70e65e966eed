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

package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkitektio/rekuest-go/pkg/actors"
	"github.com/arkitektio/rekuest-go/pkg/definition"
	"github.com/arkitektio/rekuest-go/pkg/messages"
	"github.com/arkitektio/rekuest-go/pkg/state"
	"github.com/arkitektio/rekuest-go/pkg/structures"
	"github.com/arkitektio/rekuest-go/pkg/transport"
)

// await reads frames until one of type T arrives.
func await[T messages.Message](t *testing.T, conn transport.Connection) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		m, err := conn.Receive(ctx)
		require.NoError(t, err)
		if v, ok := m.(T); ok {
			return v
		}
	}
}

// awaitEvent reads frames until an event of the wanted kind arrives.
func awaitEvent(t *testing.T, conn transport.Connection, kind messages.EventKind) messages.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		m, err := conn.Receive(ctx)
		require.NoError(t, err)
		if ev, ok := m.(messages.Event); ok && ev.Kind == kind {
			return ev
		}
	}
}

func newTestRegistry(t *testing.T) *actors.Registry {
	t.Helper()
	return actors.NewRegistry(definition.NewBuilder(structures.NewRegistry()))
}

type harness struct {
	agent  *Agent
	server transport.Connection
	dialer *transport.PairDialer
	cancel context.CancelFunc
	done   chan error
}

// start runs an agent against the server end of an in-memory pair.
func start(t *testing.T, cfg Config) *harness {
	t.Helper()
	client, server := transport.Pair()
	dialer := transport.NewPairDialer(client)
	cfg.Dialer = dialer

	agent, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx); close(done) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("agent did not stop")
		}
	})
	return &harness{agent: agent, server: server, dialer: dialer, cancel: cancel, done: done}
}

func TestInitAnnouncesImplementationsAndStates(t *testing.T) {
	registry := newTestRegistry(t)
	type args struct {
		A int `json:"a"`
	}
	require.NoError(t, registry.Register("double", func(ctx context.Context, a args) (int, error) {
		return a.A * 2, nil
	}))

	type Dash struct {
		Progress int `json:"progress"`
	}
	st, err := state.New(context.Background(), "dashboard", Dash{}, structures.NewRegistry())
	require.NoError(t, err)

	h := start(t, Config{
		InstanceID: "node-1",
		Registry:   registry,
		States:     map[string]*state.State{"dashboard": st},
	})

	init := await[messages.Init](t, h.server)
	assert.Equal(t, "node-1", init.InstanceID)
	require.Len(t, init.Implementations, 1)
	assert.Equal(t, "double", init.Implementations[0].Interface)
	assert.NotEmpty(t, init.Implementations[0].Hash)
	require.Len(t, init.States, 1)
	assert.Equal(t, "dashboard", init.States[0].Name)
	assert.Equal(t, uint64(0), init.States[0].Rev)
}

func TestAssignRunsToDone(t *testing.T) {
	registry := newTestRegistry(t)
	type args struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	require.NoError(t, registry.Register("add", func(ctx context.Context, a args) (int, error) {
		return a.A + a.B, nil
	}))

	h := start(t, Config{Registry: registry})
	await[messages.Init](t, h.server)

	assign := messages.Assign{
		Meta:           messages.NewMeta(),
		Assignment:     "a1",
		Implementation: "add",
		Args:           map[string]any{"a": 2, "b": 3},
	}
	require.NoError(t, h.server.Send(context.Background(), assign))

	ack := await[messages.Ack](t, h.server)
	assert.Equal(t, assign.ID, ack.MessageID)

	done := awaitEvent(t, h.server, messages.EventDone)
	assert.Equal(t, "a1", done.Assignment)
	assert.Equal(t, map[string]any{"return0": float64(5)}, done.Returns)
}

func TestUnknownImplementationIsCritical(t *testing.T) {
	h := start(t, Config{Registry: newTestRegistry(t)})
	await[messages.Init](t, h.server)

	require.NoError(t, h.server.Send(context.Background(), messages.Assign{
		Assignment:     "a1",
		Implementation: "missing",
	}))

	crit := awaitEvent(t, h.server, messages.EventCritical)
	assert.Contains(t, crit.Message, "missing")
}

func TestPingPong(t *testing.T) {
	h := start(t, Config{Registry: newTestRegistry(t)})
	await[messages.Init](t, h.server)

	require.NoError(t, h.server.Send(context.Background(), messages.Ping{}))
	await[messages.Pong](t, h.server)
}

func TestCancelRoutesToActor(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.Register("wait", func(ctx context.Context, a struct{}) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	h := start(t, Config{Registry: registry})
	await[messages.Init](t, h.server)

	require.NoError(t, h.server.Send(context.Background(), messages.Assign{
		Assignment:     "a1",
		Implementation: "wait",
	}))
	awaitEvent(t, h.server, messages.EventBound)

	require.NoError(t, h.server.Send(context.Background(), messages.Cancel{Assignment: "a1"}))
	cancelled := awaitEvent(t, h.server, messages.EventCancelled)
	assert.Equal(t, "a1", cancelled.Assignment)
}

func TestPauseResumeRoutesToActor(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.Register("pausable", func(ctx context.Context, a struct{}) error {
		helper, _ := actors.FromContext(ctx)
		for i := 0; i < 20; i++ {
			if err := helper.Pausepoint(ctx); err != nil {
				return err
			}
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	}))

	h := start(t, Config{Registry: registry})
	await[messages.Init](t, h.server)

	require.NoError(t, h.server.Send(context.Background(), messages.Assign{
		Assignment:     "a1",
		Implementation: "pausable",
	}))
	awaitEvent(t, h.server, messages.EventBound)

	require.NoError(t, h.server.Send(context.Background(), messages.Pause{Assignment: "a1"}))
	awaitEvent(t, h.server, messages.EventPaused)

	require.NoError(t, h.server.Send(context.Background(), messages.Resume{Assignment: "a1"}))
	awaitEvent(t, h.server, messages.EventResumed)
	awaitEvent(t, h.server, messages.EventDone)
}

func TestReconnectReplaysTerminalEvents(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.Register("noop", func(ctx context.Context, a struct{}) error {
		return nil
	}))

	h := start(t, Config{Registry: registry, BackoffInitial: 10 * time.Millisecond})
	await[messages.Init](t, h.server)

	require.NoError(t, h.server.Send(context.Background(), messages.Assign{
		Assignment:     "a1",
		Implementation: "noop",
	}))
	first := awaitEvent(t, h.server, messages.EventDone)

	// Kill the session; the agent redials onto a fresh pair.
	client2, server2 := transport.Pair()
	h.dialer.Push(client2)
	require.NoError(t, h.server.Close())

	await[messages.Init](t, server2)
	replayed := awaitEvent(t, server2, messages.EventDone)
	assert.Equal(t, first.ID, replayed.ID)
	assert.Equal(t, "a1", replayed.Assignment)
}

func TestActorSurvivesReconnect(t *testing.T) {
	registry := newTestRegistry(t)
	release := make(chan struct{})
	require.NoError(t, registry.Register("slow", func(ctx context.Context, a struct{}) (int, error) {
		select {
		case <-release:
			return 42, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}))

	h := start(t, Config{Registry: registry, BackoffInitial: 10 * time.Millisecond})
	await[messages.Init](t, h.server)

	require.NoError(t, h.server.Send(context.Background(), messages.Assign{
		Assignment:     "a1",
		Implementation: "slow",
	}))
	awaitEvent(t, h.server, messages.EventBound)

	client2, server2 := transport.Pair()
	h.dialer.Push(client2)
	require.NoError(t, h.server.Close())
	await[messages.Init](t, server2)

	close(release)
	done := awaitEvent(t, server2, messages.EventDone)
	assert.Equal(t, "a1", done.Assignment)
}

func TestCatchupSendsFullSnapshot(t *testing.T) {
	type Dash struct {
		Progress int `json:"progress"`
	}
	st, err := state.New(context.Background(), "dashboard", Dash{}, structures.NewRegistry())
	require.NoError(t, err)

	h := start(t, Config{
		Registry: newTestRegistry(t),
		States:   map[string]*state.State{"dashboard": st},
	})
	await[messages.Init](t, h.server)

	require.NoError(t, h.server.Send(context.Background(), messages.Catchup{
		StateName: "dashboard",
		FromRev:   7,
	}))

	env := await[messages.Envelope](t, h.server)
	assert.Equal(t, "dashboard", env.StateName)
	assert.Equal(t, uint64(0), env.Rev)
	assert.Equal(t, uint64(7), env.BaseRev)
	require.Len(t, env.Patches, 1)
	assert.Equal(t, messages.OpReplace, env.Patches[0].Op)
	assert.Equal(t, "", env.Patches[0].Path)
}

func TestCatchupAtCurrentRevIsSilent(t *testing.T) {
	type Dash struct {
		Progress int `json:"progress"`
	}
	st, err := state.New(context.Background(), "dashboard", Dash{}, structures.NewRegistry())
	require.NoError(t, err)

	h := start(t, Config{
		Registry: newTestRegistry(t),
		States:   map[string]*state.State{"dashboard": st},
	})
	await[messages.Init](t, h.server)

	require.NoError(t, h.server.Send(context.Background(), messages.Catchup{
		StateName: "dashboard",
		FromRev:   0,
	}))
	require.NoError(t, h.server.Send(context.Background(), messages.Ping{}))

	// The pong arriving first proves no envelope was queued for the catchup.
	m := await[messages.Pong](t, h.server)
	assert.Equal(t, messages.KindPong, m.MessageKind())
}

func TestStateEnvelopeFanIn(t *testing.T) {
	type Dash struct {
		Progress int `json:"progress"`
	}
	st, err := state.New(context.Background(), "dashboard", Dash{}, structures.NewRegistry())
	require.NoError(t, err)

	h := start(t, Config{
		Registry:        newTestRegistry(t),
		States:          map[string]*state.State{"dashboard": st},
		PublishInterval: 10 * time.Millisecond,
	})
	await[messages.Init](t, h.server)

	require.NoError(t, st.Handle(true).Set("/progress", 40))

	env := await[messages.Envelope](t, h.server)
	assert.Equal(t, "dashboard", env.StateName)
	assert.Equal(t, uint64(1), env.Rev)
	assert.Equal(t, uint64(0), env.BaseRev)
}

func TestGracefulStopCancelsActors(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.Register("wait", func(ctx context.Context, a struct{}) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	h := start(t, Config{Registry: registry, GracePeriod: 2 * time.Second})
	await[messages.Init](t, h.server)

	require.NoError(t, h.server.Send(context.Background(), messages.Assign{
		Assignment:     "a1",
		Implementation: "wait",
	}))
	awaitEvent(t, h.server, messages.EventBound)

	h.cancel()
	cancelled := awaitEvent(t, h.server, messages.EventCancelled)
	assert.Equal(t, "a1", cancelled.Assignment)

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestProvideCallsExtension(t *testing.T) {
	provided := make(chan string, 1)
	h := start(t, Config{
		Registry:  newTestRegistry(t),
		Extension: extensionFunc{onProvide: func(impl string) { provided <- impl }},
	})
	await[messages.Init](t, h.server)

	msg := messages.Provide{Meta: messages.NewMeta(), Implementation: "dyn"}
	require.NoError(t, h.server.Send(context.Background(), msg))

	ack := await[messages.Ack](t, h.server)
	assert.Equal(t, msg.ID, ack.MessageID)

	select {
	case impl := <-provided:
		assert.Equal(t, "dyn", impl)
	case <-time.After(time.Second):
		t.Fatal("extension was not called")
	}
}

type extensionFunc struct {
	onProvide func(string)
}

func (e extensionFunc) OnProvide(_ context.Context, impl string) error {
	if e.onProvide != nil {
		e.onProvide(impl)
	}
	return nil
}

func (e extensionFunc) OnUnprovide(_ context.Context, _ string) error { return nil }

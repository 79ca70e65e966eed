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

// Package agent owns the control-plane session. One agent holds one
// websocket to the server, announces its implementations and states with
// INIT, dispatches inbound lifecycle frames to per-assignment actors, and
// funnels every outbound frame through a single bounded FIFO. When the
// session dies the agent redials with exponential backoff; running actors
// are not disturbed by reconnects.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/arkitektio/rekuest-go/pkg/actors"
	"github.com/arkitektio/rekuest-go/pkg/locks"
	"github.com/arkitektio/rekuest-go/pkg/messages"
	"github.com/arkitektio/rekuest-go/pkg/observability"
	"github.com/arkitektio/rekuest-go/pkg/serialization"
	"github.com/arkitektio/rekuest-go/pkg/state"
	"github.com/arkitektio/rekuest-go/pkg/structures"
	"github.com/arkitektio/rekuest-go/pkg/transport"
)

const (
	// DefaultGracePeriod is how long a stopping agent waits for cancelled
	// actors to reach their terminal event.
	DefaultGracePeriod = 10 * time.Second

	// DefaultBackoffInitial seeds the reconnect schedule.
	DefaultBackoffInitial = 500 * time.Millisecond

	// DefaultBackoffMax caps the reconnect schedule.
	DefaultBackoffMax = 30 * time.Second
)

// Extension receives PROVIDE and UNPROVIDE callbacks for dynamically
// hosted implementations.
type Extension interface {
	OnProvide(ctx context.Context, implementation string) error
	OnUnprovide(ctx context.Context, implementation string) error
}

// Config wires an Agent. Dialer and Registry are required; everything else
// has a working default.
type Config struct {
	InstanceID string
	Dialer     transport.Dialer
	Registry   *actors.Registry

	Serializer *serialization.Serializer
	Contexts   *locks.Contexts
	Locks      *locks.Manager
	States     map[string]*state.State
	Extension  Extension
	Metrics    *observability.Metrics
	Logger     *slog.Logger

	// PublishInterval is the state worker debounce window.
	PublishInterval time.Duration

	OutboundQueueBytes int
	ReplayBufferSize   int
	ReplayTTL          time.Duration
	GracePeriod        time.Duration
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
}

// Agent runs the client side of the fabric.
type Agent struct {
	cfg    Config
	logger *slog.Logger

	outbound *queue
	replay   *replayBuffer

	actorMu sync.Mutex
	running map[string]*actors.Actor

	bindMu  sync.Mutex
	implIDs map[string]string
	stateID map[string]string

	// runCtx outlives individual sessions; actors and the outbound queue
	// hang off it so a reconnect never tears them down.
	runCtx context.Context

	sessions int
}

// New validates cfg and returns an agent ready to Run.
func New(cfg Config) (*Agent, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("agent: a dialer is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("agent: an implementation registry is required")
	}
	if cfg.Serializer == nil {
		cfg.Serializer = serialization.New(structures.NewRegistry())
	}
	if cfg.Contexts == nil {
		cfg.Contexts = locks.NewContexts()
	}
	if cfg.Locks == nil {
		cfg.Locks = locks.NewManager()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = "default"
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = state.DefaultDebounce
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = DefaultBackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}

	return &Agent{
		cfg:      cfg,
		logger:   cfg.Logger.With("instance", cfg.InstanceID),
		outbound: newQueue(cfg.OutboundQueueBytes),
		replay:   newReplayBuffer(cfg.ReplayBufferSize, cfg.ReplayTTL),
		running:  map[string]*actors.Actor{},
		implIDs:  map[string]string{},
		stateID:  map[string]string{},
	}, nil
}

// Run connects and serves until ctx is cancelled, then stops gracefully:
// every running actor gets a cancel, the agent waits up to the grace period
// for terminal events, and the transport is closed.
func (a *Agent) Run(ctx context.Context) error {
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	a.runCtx = runCtx

	g, gctx := errgroup.WithContext(runCtx)

	for name, st := range a.cfg.States {
		worker := state.NewWorker(st, a.publishEnvelope,
			state.WithDebounce(a.cfg.PublishInterval),
			state.WithPressure(a.outbound.Loaded),
			state.WithLogger(a.logger),
		)
		a.logger.Debug("state worker starting", "state", name)
		g.Go(func() error { return worker.Run(gctx) })
	}

	g.Go(func() error { return a.sessionLoop(gctx) })

	g.Go(func() error {
		select {
		case <-ctx.Done():
			a.gracefulStop()
			stop()
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	err := g.Wait()
	a.outbound.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sessionLoop dials, serves one session, and redials until ctx ends.
func (a *Agent) sessionLoop(ctx context.Context) error {
	for {
		conn, err := a.dial(ctx)
		if err != nil {
			return err
		}
		if a.sessions > 0 {
			a.cfg.Metrics.Reconnected()
		}
		a.sessions++

		a.serveSession(ctx, conn)

		if err := ctx.Err(); err != nil {
			return err
		}
		a.logger.Warn("session lost, redialing")
	}
}

// dial retries with exponential backoff until a session comes up or ctx
// ends. The schedule is jittered and capped so a flapping server does not
// see synchronized reconnect storms.
func (a *Agent) dial(ctx context.Context) (transport.Connection, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.BackoffInitial
	b.MaxInterval = a.cfg.BackoffMax
	b.MaxElapsedTime = 0

	var conn transport.Connection
	op := func() error {
		c, err := a.cfg.Dialer.Dial(ctx)
		if err != nil {
			a.logger.Warn("dial failed", "error", err)
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

// serveSession runs one connection to exhaustion: INIT, replay, then a
// writer pump draining the outbound queue and a reader loop dispatching
// inbound frames. Any transport error ends the session.
func (a *Agent) serveSession(ctx context.Context, conn transport.Connection) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	if err := conn.Send(sctx, a.initFrame()); err != nil {
		a.logger.Error("init failed", "error", err)
		return
	}
	a.replayTerminals(sctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			m, err := a.outbound.Peek(sctx)
			if err != nil {
				return
			}
			if err := conn.Send(sctx, m); err != nil {
				a.logger.Warn("send failed", "error", err)
				cancel()
				return
			}
			a.outbound.Pop()
			a.cfg.Metrics.QueueBytes(a.outbound.Bytes())
		}
	}()

	for {
		m, err := conn.Receive(sctx)
		if err != nil {
			if sctx.Err() == nil {
				a.logger.Warn("receive failed", "error", err)
			}
			cancel()
			break
		}
		a.dispatch(sctx, m)
	}
	wg.Wait()
}

// initFrame announces every registered implementation and the current
// revisioned snapshot of every state.
func (a *Agent) initFrame() messages.Init {
	states := make([]messages.StateInit, 0, len(a.cfg.States))
	for _, st := range a.cfg.States {
		states = append(states, st.Init())
	}
	return messages.Init{
		InstanceID:      a.cfg.InstanceID,
		Implementations: a.cfg.Registry.Inits(),
		States:          states,
	}
}

// replayTerminals re-enqueues buffered terminal events after a (re)INIT.
// The server deduplicates on frame id; replayed events keep the id they
// were first sent with.
func (a *Agent) replayTerminals(ctx context.Context) {
	events := a.replay.Events()
	if len(events) == 0 {
		return
	}
	if a.replay.Overflowed() {
		a.logger.Warn("replay buffer overflowed, server must reconcile")
	}
	a.logger.Info("replaying terminal events", "count", len(events))
	for _, ev := range events {
		if err := a.outbound.Put(ctx, ev); err != nil {
			return
		}
	}
}

// dispatch routes one inbound frame. Lifecycle commands are acknowledged
// by frame id before they take effect.
func (a *Agent) dispatch(ctx context.Context, m messages.Message) {
	a.cfg.Metrics.FrameReceived(string(m.MessageKind()))

	switch msg := m.(type) {
	case messages.Hello:
		a.logger.Info("server hello", "frame", msg.ID)

	case messages.Ping:
		a.enqueue(ctx, messages.Pong{})

	case messages.Assign:
		a.ack(ctx, msg.ID)
		a.spawn(msg)

	case messages.Cancel:
		a.ack(ctx, msg.ID)
		if actor, ok := a.actor(msg.Assignment); ok {
			actor.Cancel()
		} else {
			a.logger.Warn("cancel for unknown assignment", "assignment", msg.Assignment)
		}

	case messages.Interrupt:
		a.ack(ctx, msg.ID)
		if actor, ok := a.actor(msg.Assignment); ok {
			actor.Interrupt()
		} else {
			a.logger.Warn("interrupt for unknown assignment", "assignment", msg.Assignment)
		}

	case messages.Pause:
		a.ack(ctx, msg.ID)
		if actor, ok := a.actor(msg.Assignment); ok {
			actor.Pause()
		}

	case messages.Resume:
		a.ack(ctx, msg.ID)
		if actor, ok := a.actor(msg.Assignment); ok {
			actor.Resume()
		}

	case messages.Provide:
		a.ack(ctx, msg.ID)
		if a.cfg.Extension != nil {
			if err := a.cfg.Extension.OnProvide(ctx, msg.Implementation); err != nil {
				a.logger.Error("provide failed", "implementation", msg.Implementation, "error", err)
			}
		}

	case messages.Unprovide:
		a.ack(ctx, msg.ID)
		if a.cfg.Extension != nil {
			if err := a.cfg.Extension.OnUnprovide(ctx, msg.Implementation); err != nil {
				a.logger.Error("unprovide failed", "implementation", msg.Implementation, "error", err)
			}
		}

	case messages.InitReply:
		a.bind(msg)
		if msg.Reconcile {
			a.replayTerminals(ctx)
			a.replay.Reset()
		}

	case messages.Catchup:
		a.catchup(ctx, msg)

	default:
		a.logger.Warn("unhandled frame", "type", m.MessageKind())
	}
}

// spawn starts one actor for an assignment. A duplicate assignment id is a
// server bug; the agent refuses it with a CRITICAL event rather than
// running the work twice.
func (a *Agent) spawn(msg messages.Assign) {
	impl, ok := a.cfg.Registry.Get(msg.Implementation)
	if !ok {
		a.emitEvent(messages.Event{
			Assignment: msg.Assignment,
			Kind:       messages.EventCritical,
			Message:    fmt.Sprintf("no implementation named %q", msg.Implementation),
		})
		return
	}

	actor := actors.New(msg, impl, actors.Config{
		InstanceID: a.cfg.InstanceID,
		Serializer: a.cfg.Serializer,
		Locks:      a.cfg.Locks,
		Contexts:   a.cfg.Contexts,
		States:     a.cfg.States,
		Emit:       a.emit,
		Logger:     a.logger,
	})

	a.actorMu.Lock()
	if _, exists := a.running[msg.Assignment]; exists {
		a.actorMu.Unlock()
		a.emitEvent(messages.Event{
			Assignment: msg.Assignment,
			Kind:       messages.EventCritical,
			Message:    fmt.Sprintf("assignment %q is already running", msg.Assignment),
		})
		return
	}
	a.running[msg.Assignment] = actor
	a.actorMu.Unlock()

	a.cfg.Metrics.ActorStarted()
	go func() {
		defer a.cfg.Metrics.ActorFinished()
		actor.Run(a.runCtx)
		a.actorMu.Lock()
		delete(a.running, msg.Assignment)
		a.actorMu.Unlock()
	}()
}

func (a *Agent) actor(assignment string) (*actors.Actor, bool) {
	a.actorMu.Lock()
	defer a.actorMu.Unlock()
	actor, ok := a.running[assignment]
	return actor, ok
}

// emit is the actors' emitter: it stamps the frame id up front so a replay
// after reconnect reuses it, buffers terminal events, and blocks on the
// outbound queue.
func (a *Agent) emit(ctx context.Context, ev messages.Event) error {
	if ev.ID == "" {
		ev.Meta = messages.NewMeta()
	}
	if ev.Kind.IsTerminal() {
		for i := a.replay.Add(ev); i > 0; i-- {
			a.cfg.Metrics.ReplayDropped()
		}
	}
	a.cfg.Metrics.EventSent(string(ev.Kind))
	return a.outbound.Put(ctx, ev)
}

// emitEvent is emit for agent-originated events, on the agent's lifetime.
func (a *Agent) emitEvent(ev messages.Event) {
	ctx := a.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	ev.Type = messages.KindEvent
	if err := a.emit(ctx, ev); err != nil {
		a.logger.Error("event dropped", "assignment", ev.Assignment, "error", err)
	}
}

// publishEnvelope is the state workers' publisher.
func (a *Agent) publishEnvelope(ctx context.Context, env messages.Envelope) error {
	a.cfg.Metrics.EnvelopePublished()
	return a.outbound.Put(ctx, env)
}

func (a *Agent) enqueue(ctx context.Context, m messages.Message) {
	if err := a.outbound.Put(ctx, m); err != nil {
		a.logger.Warn("frame dropped", "type", m.MessageKind(), "error", err)
	}
}

func (a *Agent) ack(ctx context.Context, frameID string) {
	a.enqueue(ctx, messages.Ack{MessageID: frameID})
}

// bind records the server-assigned ids from an INIT_REPLY.
func (a *Agent) bind(msg messages.InitReply) {
	a.bindMu.Lock()
	defer a.bindMu.Unlock()
	for iface, id := range msg.Implementations {
		a.implIDs[iface] = id
	}
	for name, id := range msg.States {
		a.stateID[name] = id
	}
	a.logger.Info("session bound",
		"implementations", len(msg.Implementations), "states", len(msg.States))
}

// ImplementationID returns the server id bound to an interface name.
func (a *Agent) ImplementationID(iface string) (string, bool) {
	a.bindMu.Lock()
	defer a.bindMu.Unlock()
	id, ok := a.implIDs[iface]
	return id, ok
}

// catchup answers a CATCHUP with a full-snapshot envelope. Patch history
// below the current revision is not retained, so any revision gap resolves
// to one replace of the whole document.
func (a *Agent) catchup(ctx context.Context, msg messages.Catchup) {
	st, ok := a.cfg.States[msg.StateName]
	if !ok {
		a.logger.Warn("catchup for unknown state", "state", msg.StateName)
		return
	}
	rev, snapshot := st.Revision()
	if msg.FromRev == rev {
		return
	}
	a.enqueue(ctx, messages.Envelope{
		StateName: msg.StateName,
		Rev:       rev,
		BaseRev:   msg.FromRev,
		Patches: []messages.Patch{
			{Op: messages.OpReplace, Path: "", Value: snapshot},
		},
	})
}

// gracefulStop cancels every running actor and waits up to the grace
// period for their terminal events.
func (a *Agent) gracefulStop() {
	a.actorMu.Lock()
	running := make([]*actors.Actor, 0, len(a.running))
	for _, actor := range a.running {
		running = append(running, actor)
	}
	a.actorMu.Unlock()

	if len(running) == 0 {
		return
	}
	a.logger.Info("stopping, cancelling assignments", "count", len(running))
	for _, actor := range running {
		actor.Cancel()
	}

	deadline := time.After(a.cfg.GracePeriod)
	for _, actor := range running {
		select {
		case <-actor.Done():
		case <-deadline:
			a.logger.Warn("grace period expired", "assignment", actor.Assignment())
			return
		}
	}

	// Let the writer pump flush the terminal events before the transport
	// goes down. The queue only empties once frames are actually sent.
	drained := time.After(a.cfg.GracePeriod)
	for a.outbound.Bytes() > 0 {
		select {
		case <-drained:
			a.logger.Warn("outbound queue not drained before stop")
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

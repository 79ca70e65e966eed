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

// Package messages defines the control-plane message vocabulary spoken
// between an agent and the arkitekt server.
//
// The transport is a single websocket carrying JSON frames. Every frame has
// an "id", a "type" discriminator, and a "ts" timestamp; the remaining fields
// are flat on the frame. Inbound frames (server to agent) drive assignment
// lifecycle and session management; outbound frames (agent to server) carry
// assignment events and state envelopes.
package messages

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates wire frames.
type Kind string

// Inbound frame kinds (server -> agent).
const (
	KindHello     Kind = "HELLO"
	KindAssign    Kind = "ASSIGN"
	KindCancel    Kind = "CANCEL"
	KindInterrupt Kind = "INTERRUPT"
	KindPause     Kind = "PAUSE"
	KindResume    Kind = "RESUME"
	KindProvide   Kind = "PROVIDE"
	KindUnprovide Kind = "UNPROVIDE"
	KindPing      Kind = "PING"
	KindInitReply Kind = "INIT_REPLY"
	KindCatchup   Kind = "CATCHUP"
)

// Outbound frame kinds (agent -> server).
const (
	KindInit     Kind = "INIT"
	KindEvent    Kind = "EVENT"
	KindEnvelope Kind = "ENVELOPE"
	KindPong     Kind = "PONG"
	KindAck      Kind = "ACK"
)

// EventKind is the lifecycle kind of an assignment event.
type EventKind string

const (
	EventBound       EventKind = "BOUND"
	EventQueued      EventKind = "QUEUED"
	EventProgress    EventKind = "PROGRESS"
	EventLog         EventKind = "LOG"
	EventYield       EventKind = "YIELD"
	EventDone        EventKind = "DONE"
	EventError       EventKind = "ERROR"
	EventCritical    EventKind = "CRITICAL"
	EventCancelled   EventKind = "CANCELLED"
	EventInterrupted EventKind = "INTERRUPTED"
	EventPaused      EventKind = "PAUSED"
	EventResumed     EventKind = "RESUMED"
)

// IsTerminal reports whether this event kind ends an assignment.
func (k EventKind) IsTerminal() bool {
	switch k {
	case EventDone, EventError, EventCritical, EventCancelled, EventInterrupted:
		return true
	}
	return false
}

// LogLevel classifies LOG events.
type LogLevel string

const (
	LogDebug    LogLevel = "DEBUG"
	LogInfo     LogLevel = "INFO"
	LogWarning  LogLevel = "WARNING"
	LogError    LogLevel = "ERROR"
	LogCritical LogLevel = "CRITICAL"
)

// Meta carries the frame id and timestamp shared by every message.
type Meta struct {
	ID string    `json:"id"`
	Ts time.Time `json:"ts"`
}

// NewMeta stamps a fresh frame id and the current time.
func NewMeta() Meta {
	return Meta{ID: uuid.New().String(), Ts: time.Now().UTC()}
}

// Message is implemented by every wire frame.
type Message interface {
	MessageKind() Kind
}

// ============================================================================
// INBOUND - server to agent
// ============================================================================

// Hello is the server greeting after the socket is accepted.
type Hello struct {
	Meta
	Type Kind `json:"type"`
}

func (Hello) MessageKind() Kind { return KindHello }

// Assign requests execution of a registered implementation.
type Assign struct {
	Meta
	Type           Kind           `json:"type"`
	Assignment     string         `json:"assignment"`
	Implementation string         `json:"implementation"`
	Args           map[string]any `json:"args,omitempty"`
	Reference      string         `json:"reference,omitempty"`
	Parent         string         `json:"parent,omitempty"`
	User           string         `json:"user,omitempty"`
}

func (Assign) MessageKind() Kind { return KindAssign }

// Cancel asks a running assignment to stop cooperatively.
type Cancel struct {
	Meta
	Type       Kind   `json:"type"`
	Assignment string `json:"assignment"`
}

func (Cancel) MessageKind() Kind { return KindCancel }

// Interrupt stops an assignment without a resume path.
type Interrupt struct {
	Meta
	Type       Kind   `json:"type"`
	Assignment string `json:"assignment"`
}

func (Interrupt) MessageKind() Kind { return KindInterrupt }

// Pause suspends an assignment at its next pausepoint.
type Pause struct {
	Meta
	Type       Kind   `json:"type"`
	Assignment string `json:"assignment"`
}

func (Pause) MessageKind() Kind { return KindPause }

// Resume lifts a previous Pause.
type Resume struct {
	Meta
	Type       Kind   `json:"type"`
	Assignment string `json:"assignment"`
}

func (Resume) MessageKind() Kind { return KindResume }

// Provide brings an extension implementation up.
type Provide struct {
	Meta
	Type           Kind   `json:"type"`
	Implementation string `json:"implementation"`
}

func (Provide) MessageKind() Kind { return KindProvide }

// Unprovide tears an extension implementation down.
type Unprovide struct {
	Meta
	Type           Kind   `json:"type"`
	Implementation string `json:"implementation"`
}

func (Unprovide) MessageKind() Kind { return KindUnprovide }

// Ping is a liveness probe; the agent answers with Pong.
type Ping struct {
	Meta
	Type Kind `json:"type"`
}

func (Ping) MessageKind() Kind { return KindPing }

// InitReply binds the agent's registrations to server-side ids.
type InitReply struct {
	Meta
	Type Kind `json:"type"`

	// Implementations maps interface name to the stable server id.
	Implementations map[string]string `json:"implementations,omitempty"`

	// States maps state name to the stable server id.
	States map[string]string `json:"states,omitempty"`

	// Reconcile is set when the server could not accept the agent's replay
	// buffer and wants terminal events re-listed out of band.
	Reconcile bool `json:"reconcile,omitempty"`
}

func (InitReply) MessageKind() Kind { return KindInitReply }

// Catchup asks for state history from a revision, or a full re-snapshot
// when FromRev is zero.
type Catchup struct {
	Meta
	Type      Kind   `json:"type"`
	StateName string `json:"state_name"`
	FromRev   uint64 `json:"from_rev"`
}

func (Catchup) MessageKind() Kind { return KindCatchup }

// ============================================================================
// OUTBOUND - agent to server
// ============================================================================

// ImplementationInit advertises one registered implementation during INIT.
type ImplementationInit struct {
	Interface  string         `json:"interface"`
	Hash       string         `json:"hash"`
	Definition map[string]any `json:"definition,omitempty"`
	Extension  string         `json:"extension,omitempty"`
	Dynamic    bool           `json:"dynamic,omitempty"`
}

// StateInit advertises one registered state during INIT.
type StateInit struct {
	Name     string         `json:"name"`
	Schema   map[string]any `json:"schema"`
	Rev      uint64         `json:"rev"`
	Snapshot map[string]any `json:"snapshot"`
}

// Init opens (or reopens) a session.
type Init struct {
	Meta
	Type            Kind                 `json:"type"`
	InstanceID      string               `json:"instance_id"`
	Implementations []ImplementationInit `json:"implementations"`
	States          []StateInit          `json:"states"`
}

func (Init) MessageKind() Kind { return KindInit }

// Event reports assignment progress and termination. Per-assignment event
// order is FIFO end to end.
type Event struct {
	Meta
	Type       Kind           `json:"type"`
	Assignment string         `json:"assignment_id"`
	Kind       EventKind      `json:"kind"`
	Level      LogLevel       `json:"level,omitempty"`
	Returns    map[string]any `json:"returns,omitempty"`
	Message    string         `json:"message,omitempty"`
	Percentage *int           `json:"percentage,omitempty"`
}

func (Event) MessageKind() Kind { return KindEvent }

// PatchOp is the RFC 6902 subset used by state envelopes.
type PatchOp string

const (
	OpAdd     PatchOp = "add"
	OpReplace PatchOp = "replace"
	OpRemove  PatchOp = "remove"
)

// Patch is a single RFC 6902 operation. Paths are RFC 6901 JSON Pointers;
// "/-" appends to a list.
type Patch struct {
	Op       PatchOp `json:"op"`
	Path     string  `json:"path"`
	Value    any     `json:"value,omitempty"`
	OldValue any     `json:"old_value,omitempty"`
}

// Envelope is a revisioned batch of state patches. BaseRev of envelope N
// equals Rev of envelope N-1, so a consumer can detect gaps.
type Envelope struct {
	Meta
	Type      Kind    `json:"type"`
	StateName string  `json:"state_name"`
	Rev       uint64  `json:"rev"`
	BaseRev   uint64  `json:"base_rev"`
	Patches   []Patch `json:"patches"`
}

func (Envelope) MessageKind() Kind { return KindEnvelope }

// Pong answers a Ping.
type Pong struct {
	Meta
	Type Kind `json:"type"`
}

func (Pong) MessageKind() Kind { return KindPong }

// Ack confirms receipt of a server frame by id.
type Ack struct {
	Meta
	Type      Kind   `json:"type"`
	MessageID string `json:"message_id"`
}

func (Ack) MessageKind() Kind { return KindAck }

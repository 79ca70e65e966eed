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

package messages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeStampsMetaAndType(t *testing.T) {
	data, err := Encode(Assign{Assignment: "a1", Implementation: "add"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "ASSIGN", raw["type"])
	assert.NotEmpty(t, raw["id"])
	assert.NotEmpty(t, raw["ts"])
}

func TestEncodeKeepsExistingMeta(t *testing.T) {
	meta := NewMeta()
	data, err := Encode(Event{Meta: meta, Assignment: "a1", Kind: EventDone})
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, meta.ID, decoded.(Event).ID)
}

func TestDecodeRoundTrip(t *testing.T) {
	percentage := 40
	frames := []Message{
		Hello{},
		Assign{Assignment: "a1", Implementation: "add", Args: map[string]any{"a": 1.0}},
		Cancel{Assignment: "a1"},
		Interrupt{Assignment: "a1"},
		Pause{Assignment: "a1"},
		Resume{Assignment: "a1"},
		Provide{Implementation: "dyn"},
		Unprovide{Implementation: "dyn"},
		Ping{},
		Pong{},
		Ack{MessageID: "m1"},
		InitReply{Implementations: map[string]string{"add": "impl-1"}, Reconcile: true},
		Catchup{StateName: "dashboard", FromRev: 3},
		Event{Assignment: "a1", Kind: EventProgress, Percentage: &percentage},
		Envelope{StateName: "dashboard", Rev: 2, BaseRev: 1, Patches: []Patch{
			{Op: OpReplace, Path: "/progress", Value: 40.0},
		}},
	}

	for _, frame := range frames {
		data, err := Encode(frame)
		require.NoError(t, err)

		decoded, err := Decode(data)
		require.NoError(t, err, "frame %s", frame.MessageKind())
		assert.Equal(t, frame.MessageKind(), decoded.MessageKind())
	}
}

func TestDecodeEventFields(t *testing.T) {
	data, err := Encode(Event{
		Assignment: "a1",
		Kind:       EventDone,
		Returns:    map[string]any{"return0": 5.0},
	})
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	ev := decoded.(Event)
	assert.Equal(t, "a1", ev.Assignment)
	assert.Equal(t, EventDone, ev.Kind)
	assert.Equal(t, map[string]any{"return0": 5.0}, ev.Returns)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"TELEPORT"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEPORT")
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestTerminalKinds(t *testing.T) {
	terminal := []EventKind{EventDone, EventError, EventCritical, EventCancelled, EventInterrupted}
	for _, k := range terminal {
		assert.True(t, k.IsTerminal(), string(k))
	}
	nonTerminal := []EventKind{EventBound, EventQueued, EventProgress, EventLog, EventYield, EventPaused, EventResumed}
	for _, k := range nonTerminal {
		assert.False(t, k.IsTerminal(), string(k))
	}
}

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
	"fmt"
)

// Encode marshals a frame, stamping Meta and the type discriminator when the
// caller left them zero.
func Encode(m Message) ([]byte, error) {
	m = stamp(m)
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", m.MessageKind(), err)
	}
	return data, nil
}

// Decode unmarshals a frame into its concrete type based on the "type" field.
func Decode(data []byte) (Message, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}

	var (
		msg Message
		err error
	)
	switch probe.Type {
	case KindHello:
		msg, err = decodeInto[Hello](data)
	case KindAssign:
		msg, err = decodeInto[Assign](data)
	case KindCancel:
		msg, err = decodeInto[Cancel](data)
	case KindInterrupt:
		msg, err = decodeInto[Interrupt](data)
	case KindPause:
		msg, err = decodeInto[Pause](data)
	case KindResume:
		msg, err = decodeInto[Resume](data)
	case KindProvide:
		msg, err = decodeInto[Provide](data)
	case KindUnprovide:
		msg, err = decodeInto[Unprovide](data)
	case KindPing:
		msg, err = decodeInto[Ping](data)
	case KindInitReply:
		msg, err = decodeInto[InitReply](data)
	case KindCatchup:
		msg, err = decodeInto[Catchup](data)
	case KindInit:
		msg, err = decodeInto[Init](data)
	case KindEvent:
		msg, err = decodeInto[Event](data)
	case KindEnvelope:
		msg, err = decodeInto[Envelope](data)
	case KindPong:
		msg, err = decodeInto[Pong](data)
	case KindAck:
		msg, err = decodeInto[Ack](data)
	default:
		return nil, fmt.Errorf("unknown frame type %q", probe.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s frame: %w", probe.Type, err)
	}
	return msg, nil
}

func decodeInto[T Message](data []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// stamp fills Meta and the discriminator without mutating the caller's value.
func stamp(m Message) Message {
	switch v := m.(type) {
	case Hello:
		v.Type, v.Meta = KindHello, ensureMeta(v.Meta)
		return v
	case Assign:
		v.Type, v.Meta = KindAssign, ensureMeta(v.Meta)
		return v
	case Cancel:
		v.Type, v.Meta = KindCancel, ensureMeta(v.Meta)
		return v
	case Interrupt:
		v.Type, v.Meta = KindInterrupt, ensureMeta(v.Meta)
		return v
	case Pause:
		v.Type, v.Meta = KindPause, ensureMeta(v.Meta)
		return v
	case Resume:
		v.Type, v.Meta = KindResume, ensureMeta(v.Meta)
		return v
	case Provide:
		v.Type, v.Meta = KindProvide, ensureMeta(v.Meta)
		return v
	case Unprovide:
		v.Type, v.Meta = KindUnprovide, ensureMeta(v.Meta)
		return v
	case Ping:
		v.Type, v.Meta = KindPing, ensureMeta(v.Meta)
		return v
	case InitReply:
		v.Type, v.Meta = KindInitReply, ensureMeta(v.Meta)
		return v
	case Catchup:
		v.Type, v.Meta = KindCatchup, ensureMeta(v.Meta)
		return v
	case Init:
		v.Type, v.Meta = KindInit, ensureMeta(v.Meta)
		return v
	case Event:
		v.Type, v.Meta = KindEvent, ensureMeta(v.Meta)
		return v
	case Envelope:
		v.Type, v.Meta = KindEnvelope, ensureMeta(v.Meta)
		return v
	case Pong:
		v.Type, v.Meta = KindPong, ensureMeta(v.Meta)
		return v
	case Ack:
		v.Type, v.Meta = KindAck, ensureMeta(v.Meta)
		return v
	}
	return m
}

func ensureMeta(m Meta) Meta {
	if m.ID == "" {
		return NewMeta()
	}
	return m
}

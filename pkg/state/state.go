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

// Package state replicates named process state to the server. Mutations go
// through handles that record RFC 6901-pathed patches; a worker per state
// debounces, squashes and shrinks them into revisioned envelopes.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/arkitektio/rekuest-go/pkg/definition"
	"github.com/arkitektio/rekuest-go/pkg/locks"
	"github.com/arkitektio/rekuest-go/pkg/messages"
	"github.com/arkitektio/rekuest-go/pkg/serialization"
	"github.com/arkitektio/rekuest-go/pkg/structures"
)

const inboxSize = 1024

// State is one named replicated state: a schema derived from a struct
// prototype, the live values, and the shrunk snapshot the server last saw.
type State struct {
	name       string
	ports      []definition.Port
	serializer *serialization.Serializer

	mu       sync.Mutex
	live     map[string]any
	snapshot map[string]any
	rev      uint64

	// sendMu keeps live-apply and inbox send atomic so patches arrive in
	// mutation order.
	sendMu sync.Mutex
	inbox  chan messages.Patch
	flush  chan chan error
}

// New derives the schema from prototype's exported fields, shrinks the
// initial values into the rev-0 snapshot, and returns the state.
func New(ctx context.Context, name string, prototype any, registry *structures.Registry) (*State, error) {
	if name == "" {
		return nil, fmt.Errorf("state: state needs a name")
	}
	rv := reflect.ValueOf(prototype)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("state: prototype for %q must be a struct, got %T", name, prototype)
	}

	s := &State{
		name:       name,
		serializer: serialization.New(registry),
		live:       map[string]any{},
		snapshot:   map[string]any{},
		inbox:      make(chan messages.Patch, inboxSize),
		flush:      make(chan chan error, 1),
	}

	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		key, rest, _ := strings.Cut(field.Tag.Get("json"), ",")
		if key == "-" {
			continue
		}
		if key == "" {
			key = strings.ToLower(field.Name)
		}
		port, err := registry.PortForType(field.Type, key, definition.PortHints{
			Nullable: strings.Contains(rest, "omitempty"),
		})
		if err != nil {
			return nil, fmt.Errorf("state %q field %q: %w", name, key, err)
		}
		s.ports = append(s.ports, port)
		s.live[key] = normalizeLive(rv.Field(i).Interface())
	}
	if len(s.ports) == 0 {
		return nil, fmt.Errorf("state %q has no exported fields", name)
	}

	for _, port := range s.ports {
		shrunk, err := s.serializer.Shrink(ctx, port, s.live[port.Key])
		if err != nil {
			return nil, fmt.Errorf("state %q initial shrink: %w", name, err)
		}
		s.snapshot[port.Key] = shrunk
	}
	return s, nil
}

// Name returns the state's registered name.
func (s *State) Name() string { return s.name }

// Ports returns the schema's top-level ports.
func (s *State) Ports() []definition.Port { return s.ports }

// Revision returns the current revision and a deep copy of the snapshot,
// consistent with each other.
func (s *State) Revision() (uint64, map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev, deepCopy(s.snapshot)
}

// Init returns the registration payload for a session INIT.
func (s *State) Init() messages.StateInit {
	portMaps := make([]any, len(s.ports))
	for i, p := range s.ports {
		portMaps[i] = p.AsMap()
	}
	rev, snapshot := s.Revision()
	return messages.StateInit{
		Name:     s.name,
		Schema:   map[string]any{"ports": portMaps},
		Rev:      rev,
		Snapshot: snapshot,
	}
}

// Handle returns a view for one assignment. Read-only handles reject every
// mutation with a LockViolationError.
func (s *State) Handle(writable bool) *Handle {
	return &Handle{state: s, writable: writable}
}

func (s *State) mutate(op messages.PatchOp, path string, value any, writable bool) error {
	if !writable {
		return &locks.LockViolationError{Name: s.name,
			Message: "state mutated through a read-only handle"}
	}
	tokens, err := SplitPath(path)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return fmt.Errorf("state: cannot %s the state root", op)
	}
	if _, err := PortForPath(s.ports, path); err != nil {
		return err
	}

	value = normalizeLive(value)

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	oldValue, err := s.applyLive(op, tokens, value)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.inbox <- messages.Patch{Op: op, Path: path, Value: value, OldValue: oldValue}
	return nil
}

// applyLive mutates the live tree. Containers inside the tree are always
// map[string]any and []any; normalizeLive guarantees that for inserted
// values.
func (s *State) applyLive(op messages.PatchOp, tokens []string, value any) (any, error) {
	parent, err := s.navigate(tokens[:len(tokens)-1])
	if err != nil {
		return nil, err
	}
	last := tokens[len(tokens)-1]

	switch container := parent.(type) {
	case map[string]any:
		old := container[last]
		switch op {
		case messages.OpAdd, messages.OpReplace:
			container[last] = value
		case messages.OpRemove:
			delete(container, last)
		}
		return old, nil

	case *[]any:
		switch op {
		case messages.OpAdd:
			if last == "-" {
				*container = append(*container, value)
				return nil, nil
			}
			i, err := sliceIndex(last, len(*container), true)
			if err != nil {
				return nil, err
			}
			*container = append(*container, nil)
			copy((*container)[i+1:], (*container)[i:])
			(*container)[i] = value
			return nil, nil
		case messages.OpReplace:
			i, err := sliceIndex(last, len(*container), false)
			if err != nil {
				return nil, err
			}
			old := (*container)[i]
			(*container)[i] = value
			return old, nil
		case messages.OpRemove:
			i, err := sliceIndex(last, len(*container), false)
			if err != nil {
				return nil, err
			}
			old := (*container)[i]
			*container = append((*container)[:i], (*container)[i+1:]...)
			return old, nil
		}
	}
	return nil, fmt.Errorf("state: cannot %s at %q", op, JoinPath(tokens...))
}

// navigate returns the container at tokens: the top-level map, a nested
// map[string]any, or a *[]any so list mutations can reslice in place.
func (s *State) navigate(tokens []string) (any, error) {
	var current any = s.live
	for i, tok := range tokens {
		switch c := current.(type) {
		case map[string]any:
			next, ok := c[tok]
			if !ok {
				return nil, fmt.Errorf("state: nothing at %q", JoinPath(tokens[:i+1]...))
			}
			if list, isList := next.([]any); isList {
				// Hand out a pointer so mutations write back through the
				// parent map.
				boxed := list
				c[tok] = &boxed
				next = &boxed
			}
			current = next
		case *[]any:
			idx, err := sliceIndex(tok, len(*c), false)
			if err != nil {
				return nil, err
			}
			next := (*c)[idx]
			if list, isList := next.([]any); isList {
				boxed := list
				(*c)[idx] = &boxed
				next = &boxed
			}
			current = next
		default:
			return nil, fmt.Errorf("state: cannot descend into %T at %q", current, JoinPath(tokens[:i+1]...))
		}
	}
	return current, nil
}

// Get returns the live value at path.
func (s *State) Get(path string) (any, error) {
	tokens, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	container, err := s.navigate(tokens)
	if err != nil {
		return nil, err
	}
	return unbox(container), nil
}

// unbox strips the list pointers navigate introduces, returning plain
// containers to callers.
func unbox(value any) any {
	switch v := value.(type) {
	case *[]any:
		out := make([]any, len(*v))
		for i, item := range *v {
			out[i] = unbox(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = unbox(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = unbox(item)
		}
		return out
	}
	return value
}

// commit applies already-shrunk patches to the snapshot and bumps the
// revision. Returns the new revision and its base.
func (s *State) commit(patches []messages.Patch) (rev, baseRev uint64, err error) {
	doc, err := json.Marshal(s.snapshotLocked())
	if err != nil {
		return 0, 0, fmt.Errorf("state %q: snapshot not serializable: %w", s.name, err)
	}
	patched, err := applyJSONPatch(doc, patches)
	if err != nil {
		return 0, 0, fmt.Errorf("state %q: %w", s.name, err)
	}
	var next map[string]any
	if err := json.Unmarshal(patched, &next); err != nil {
		return 0, 0, fmt.Errorf("state %q: patched snapshot invalid: %w", s.name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	baseRev = s.rev
	s.rev++
	s.snapshot = next
	return s.rev, baseRev, nil
}

func (s *State) snapshotLocked() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopy(s.snapshot)
}

func sliceIndex(token string, length int, allowEnd bool) (int, error) {
	i, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("state: %q is not a list index", token)
	}
	limit := length
	if allowEnd {
		limit = length + 1
	}
	if i < 0 || i >= limit {
		return 0, fmt.Errorf("state: index %d out of range (len %d)", i, length)
	}
	return i, nil
}

// normalizeLive rewrites container types to map[string]any and []any so the
// live tree stays navigable. Leaves (scalars, structures, models) pass
// through untouched.
func normalizeLive(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeLive(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalizeLive(item)
		}
		return out
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalizeLive(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			out := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				out[iter.Key().String()] = normalizeLive(iter.Value().Interface())
			}
			return out
		}
	}
	return value
}

func deepCopy(m map[string]any) map[string]any {
	data, err := json.Marshal(m)
	if err != nil {
		// Snapshots only ever hold wire values.
		panic(fmt.Sprintf("state: snapshot not serializable: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}

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

package structures

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/arkitektio/rekuest-go/pkg/definition"
)

// WireTimeLayout is the ISO-8601 encoding dates travel in. UTC values print
// a +00:00 offset, never Z.
const WireTimeLayout = "2006-01-02T15:04:05.999999-07:00"

var timeType = reflect.TypeOf(time.Time{})

// Registry maps identifiers and Go types to fulfilled structures. Safe for
// concurrent use; registration usually happens at startup but hooks may
// fulfill lazily during port construction.
type Registry struct {
	mu           sync.RWMutex
	byIdentifier map[string]FullFilled
	byType       map[reflect.Type]string

	hooks             []Hook
	allowOverwrites   bool
	allowAutoRegister bool
}

// RegistryOption configures a Registry at construction.
type RegistryOption func(*Registry)

// WithShelver appends the local catch-all hook backed by s.
func WithShelver(s Shelver) RegistryOption {
	return func(r *Registry) { r.hooks = append(r.hooks, LocalHook{Shelver: s}) }
}

// WithHooks replaces the hook chain entirely.
func WithHooks(hooks ...Hook) RegistryOption {
	return func(r *Registry) { r.hooks = hooks }
}

// WithAllowOverwrites permits re-registering an identifier with a different
// type.
func WithAllowOverwrites() RegistryOption {
	return func(r *Registry) { r.allowOverwrites = true }
}

// WithoutAutoRegister disables lazy hook fulfillment: unregistered types
// become errors at port-construction time.
func WithoutAutoRegister() RegistryOption {
	return func(r *Registry) { r.allowAutoRegister = false }
}

// NewRegistry returns a registry with the default hook chain (enums, then
// global structures) and auto-registration enabled. Add WithShelver to
// accept local-scope values.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byIdentifier:      map[string]FullFilled{},
		byType:            map[reflect.Type]string{},
		hooks:             []Hook{EnumHook{}, GlobalHook{}},
		allowAutoRegister: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fulfill registers an entry. Registering the same identifier for the same
// type again is a no-op; a different type is rejected unless overwrites are
// allowed.
func (r *Registry) Fulfill(entry FullFilled) error {
	if entry.Identifier == "" {
		return &Error{Message: "entry has no identifier"}
	}
	if entry.Type == nil {
		return &Error{Identifier: entry.Identifier, Message: "entry has no type"}
	}
	if entry.Predicate == nil {
		entry.Predicate = typePredicate(entry.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byIdentifier[entry.Identifier]; ok {
		if prev.Type == entry.Type {
			return nil
		}
		if !r.allowOverwrites {
			return &Error{Identifier: entry.Identifier, Message: fmt.Sprintf(
				"already registered for %s, refusing %s", prev.Type, entry.Type)}
		}
		delete(r.byType, prev.Type)
	}
	r.byIdentifier[entry.Identifier] = entry
	r.byType[entry.Type] = entry.Identifier
	return nil
}

// RegisterModel registers prototype's struct type as a MODEL: it crosses the
// wire as a map of its fields rather than as an id.
func (r *Registry) RegisterModel(identifier string, prototype any) error {
	t := reflect.TypeOf(prototype)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return &Error{Identifier: identifier, Message: fmt.Sprintf("model prototype must be a struct, got %T", prototype)}
	}
	return r.Fulfill(FullFilled{
		Identifier: identifier,
		Scope:      ScopeGlobal,
		Kind:       definition.KindModel,
		Type:       t,
		Predicate:  typePredicate(t),
	})
}

// Get returns the entry registered under identifier.
func (r *Registry) Get(identifier string) (FullFilled, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byIdentifier[identifier]
	return entry, ok
}

// ForType returns the entry registered for t.
func (r *Registry) ForType(t reflect.Type) (FullFilled, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byType[t]
	if !ok {
		return FullFilled{}, false
	}
	return r.byIdentifier[id], true
}

// ExpanderFor returns the expander registered under identifier.
func (r *Registry) ExpanderFor(identifier string) (Expander, error) {
	entry, ok := r.Get(identifier)
	if !ok || entry.Expand == nil {
		return nil, &Error{Identifier: identifier, Message: "no expander registered"}
	}
	return entry.Expand, nil
}

// ShrinkerFor returns the shrinker registered under identifier.
func (r *Registry) ShrinkerFor(identifier string) (Shrinker, error) {
	entry, ok := r.Get(identifier)
	if !ok || entry.Shrink == nil {
		return nil, &Error{Identifier: identifier, Message: "no shrinker registered"}
	}
	return entry.Shrink, nil
}

// PredicateFor returns the membership predicate registered under identifier.
func (r *Registry) PredicateFor(identifier string) (Predicate, error) {
	entry, ok := r.Get(identifier)
	if !ok || entry.Predicate == nil {
		return nil, &Error{Identifier: identifier, Message: "no predicate registered"}
	}
	return entry.Predicate, nil
}

// PortForType resolves a Go type to a port. Pointers become nullable unless
// the pointer type itself is the registered structure. Resolution order:
// time.Time, registered entries, the hook chain, then structural mapping of
// scalars, slices and string-keyed maps.
func (r *Registry) PortForType(t reflect.Type, key string, hints definition.PortHints) (definition.Port, error) {
	if t == nil {
		return definition.Port{}, &Error{Message: fmt.Sprintf("port %q has no type", key)}
	}

	if t.Kind() == reflect.Pointer {
		if _, registered := r.ForType(t); !registered && !t.Implements(globalType) {
			hints.Nullable = true
			t = t.Elem()
		}
	}

	if t == timeType {
		return r.datePort(key, hints)
	}

	if entry, ok := r.ForType(t); ok {
		return r.portForEntry(entry, key, hints)
	}

	for _, hook := range r.hooks {
		if !hook.Applicable(t) {
			continue
		}
		if !r.allowAutoRegister {
			return definition.Port{}, &Error{Message: fmt.Sprintf(
				"type %s is not registered and auto registration is disabled", t)}
		}
		entry, err := hook.Fulfill(t)
		if err != nil {
			return definition.Port{}, err
		}
		if err := r.Fulfill(entry); err != nil {
			return definition.Port{}, err
		}
		return r.portForEntry(entry, key, hints)
	}

	return r.structuralPort(t, key, hints)
}

func (r *Registry) structuralPort(t reflect.Type, key string, hints definition.PortHints) (definition.Port, error) {
	port := basePort(key, hints)

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		port.Kind = definition.KindInt
	case reflect.Float32, reflect.Float64:
		port.Kind = definition.KindFloat
	case reflect.String:
		port.Kind = definition.KindString
	case reflect.Bool:
		port.Kind = definition.KindBool
	case reflect.Slice, reflect.Array:
		child, err := r.PortForType(t.Elem(), key, definition.PortHints{})
		if err != nil {
			return definition.Port{}, err
		}
		port.Kind = definition.KindList
		port.Children = []definition.Port{child}
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return definition.Port{}, &Error{Message: fmt.Sprintf(
				"port %q: map key must be a string, got %s", key, t.Key())}
		}
		child, err := r.PortForType(t.Elem(), key, definition.PortHints{})
		if err != nil {
			return definition.Port{}, err
		}
		port.Kind = definition.KindDict
		port.Children = []definition.Port{child}
	default:
		return definition.Port{}, &Error{Message: fmt.Sprintf(
			"port %q: no mapping for type %s", key, t)}
	}
	return port, nil
}

func (r *Registry) portForEntry(entry FullFilled, key string, hints definition.PortHints) (definition.Port, error) {
	port := basePort(key, hints)
	port.Kind = entry.Kind
	port.Identifier = entry.Identifier
	port.Choices = entry.Members
	if port.Description == "" {
		port.Description = entry.Description
	}

	if entry.Kind == definition.KindModel {
		children, err := r.modelChildren(entry)
		if err != nil {
			return definition.Port{}, err
		}
		port.Children = children
	}

	if hints.Default != nil && entry.ConvertDefault != nil {
		converted, err := entry.ConvertDefault(hints.Default)
		if err != nil {
			return definition.Port{}, &Error{Identifier: entry.Identifier,
				Message: fmt.Sprintf("port %q: default not convertible", key), Cause: err}
		}
		port.Default = converted
	}
	return port, nil
}

// modelChildren mirrors the model struct's exported fields as child ports.
func (r *Registry) modelChildren(entry FullFilled) ([]definition.Port, error) {
	t := entry.Type
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	var children []definition.Port
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, rest, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		child, err := r.PortForType(field.Type, name, definition.PortHints{
			Nullable: strings.Contains(rest, "omitempty"),
		})
		if err != nil {
			return nil, &Error{Identifier: entry.Identifier,
				Message: fmt.Sprintf("model field %q", name), Cause: err}
		}
		children = append(children, child)
	}
	if len(children) == 0 {
		return nil, &Error{Identifier: entry.Identifier, Message: "model has no exported fields"}
	}
	return children, nil
}

func (r *Registry) datePort(key string, hints definition.PortHints) (definition.Port, error) {
	port := basePort(key, hints)
	port.Kind = definition.KindDate
	if ts, ok := hints.Default.(time.Time); ok {
		port.Default = ts.UTC().Format(WireTimeLayout)
	}
	return port, nil
}

func basePort(key string, hints definition.PortHints) definition.Port {
	return definition.Port{
		Key:          key,
		Nullable:     hints.Nullable,
		Label:        hints.Label,
		Description:  hints.Description,
		Default:      hints.Default,
		Validators:   hints.Validators,
		Effects:      hints.Effects,
		AssignWidget: hints.AssignWidget,
		ReturnWidget: hints.ReturnWidget,
	}
}

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

package definition

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// PortHints carries the metadata accumulated for one port before it is
// resolved against the structure registry.
type PortHints struct {
	Nullable     bool
	Label        string
	Description  string
	Default      any
	Validators   []Validator
	Effects      []any
	AssignWidget map[string]any
	ReturnWidget map[string]any
}

// PortResolver turns a Go type into a port. Implemented by the structure
// registry; the builder stays decoupled from it.
type PortResolver interface {
	PortForType(t reflect.Type, key string, hints PortHints) (Port, error)
}

// ContextBinding records an args field injected with a named context object.
type ContextBinding struct {
	Field int
	Name  string
}

// StateBinding records an args field injected with a registered state.
type StateBinding struct {
	Field    int
	Name     string
	ReadOnly bool
}

// Bindings is the sidecar produced next to a Definition: which args fields
// are injected rather than transported, and under which names.
type Bindings struct {
	Contexts []ContextBinding
	States   []StateBinding

	// WirePorts maps arg port keys to their field index in the args struct.
	WirePorts map[string]int
}

// Builder derives definitions from typed Go functions.
//
// The accepted shapes are
//
//	func(ctx context.Context, args A) (R1, ..., error)   FUNCTION
//	func(ctx context.Context, args A) error              FUNCTION, no returns
//	func(ctx context.Context, args A) iter.Seq2[R, error] GENERATOR
//
// where A is a struct. Fields tagged `rekuest:"context=name"` or
// `rekuest:"state=name"` are injected by the agent and never cross the wire;
// everything else becomes an arg port in declaration order.
type Builder struct {
	Resolver PortResolver
}

// NewBuilder returns a builder resolving ports through r.
func NewBuilder(r PortResolver) *Builder {
	return &Builder{Resolver: r}
}

// Option adjusts a definition under construction.
type Option func(*buildState)

type buildState struct {
	name        string
	description string
	interfaces  []string
	portGroups  []PortGroup
	isTestFor   []string
	collections []string

	argHints    map[string]PortHints
	returnHints map[int]PortHints
	portOverrides map[string]Port
}

// WithName overrides the definition name (defaults to the interface name the
// implementation is registered under).
func WithName(name string) Option { return func(s *buildState) { s.name = name } }

// WithDescription sets the definition description.
func WithDescription(d string) Option { return func(s *buildState) { s.description = d } }

// WithInterfaces tags the definition with fabric interfaces.
func WithInterfaces(ifaces ...string) Option {
	return func(s *buildState) { s.interfaces = append(s.interfaces, ifaces...) }
}

// WithPortGroups attaches presentation groups.
func WithPortGroups(groups ...PortGroup) Option {
	return func(s *buildState) { s.portGroups = append(s.portGroups, groups...) }
}

// WithIsTestFor marks the definition as a test for other implementations.
func WithIsTestFor(interfaces ...string) Option {
	return func(s *buildState) { s.isTestFor = append(s.isTestFor, interfaces...) }
}

// WithCollections assigns the definition to collections.
func WithCollections(cols ...string) Option {
	return func(s *buildState) { s.collections = append(s.collections, cols...) }
}

// WithDefault sets the default for the named arg port. The value is converted
// through the structure's default converter when one is registered.
func WithDefault(key string, value any) Option {
	return func(s *buildState) {
		h := s.argHints[key]
		h.Default = value
		h.Nullable = true
		s.argHints[key] = h
	}
}

// WithValidator attaches a validator to the named arg port.
func WithValidator(key string, v Validator) Option {
	return func(s *buildState) {
		h := s.argHints[key]
		h.Validators = append(h.Validators, v)
		s.argHints[key] = h
	}
}

// WithArgLabel sets a display label for the named arg port.
func WithArgLabel(key, label string) Option {
	return func(s *buildState) {
		h := s.argHints[key]
		h.Label = label
		s.argHints[key] = h
	}
}

// WithArgDescription sets a description for the named arg port.
func WithArgDescription(key, description string) Option {
	return func(s *buildState) {
		h := s.argHints[key]
		h.Description = description
		s.argHints[key] = h
	}
}

// WithAssignWidget attaches an opaque widget payload to the named arg port.
func WithAssignWidget(key string, widget map[string]any) Option {
	return func(s *buildState) {
		h := s.argHints[key]
		h.AssignWidget = widget
		s.argHints[key] = h
	}
}

// WithEffects attaches opaque effect payloads to the named arg port.
func WithEffects(key string, effects ...any) Option {
	return func(s *buildState) {
		h := s.argHints[key]
		h.Effects = append(h.Effects, effects...)
		s.argHints[key] = h
	}
}

// WithReturnWidget attaches an opaque widget payload to the i-th return port.
func WithReturnWidget(i int, widget map[string]any) Option {
	return func(s *buildState) {
		h := s.returnHints[i]
		h.ReturnWidget = widget
		s.returnHints[i] = h
	}
}

// WithPort replaces the derived port for the named arg entirely. This is the
// escape hatch for shapes reflection cannot express, such as unions.
func WithPort(key string, port Port) Option {
	return func(s *buildState) { s.portOverrides[key] = port }
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Build introspects fn and produces its Definition plus the injection
// sidecar. Violations of the signature or validator contracts are returned
// as *Error.
func (b *Builder) Build(name string, fn any, opts ...Option) (Definition, *Bindings, error) {
	st := &buildState{
		name:          name,
		argHints:      map[string]PortHints{},
		returnHints:   map[int]PortHints{},
		portOverrides: map[string]Port{},
	}
	for _, opt := range opts {
		opt(st)
	}

	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return Definition{}, nil, &Error{Message: fmt.Sprintf("%q is not a function", st.name)}
	}
	if t.NumIn() != 2 || !t.In(0).Implements(contextType) || t.In(1).Kind() != reflect.Struct {
		return Definition{}, nil, &Error{Message: fmt.Sprintf(
			"%q must take (context.Context, ArgsStruct), got %s", st.name, t)}
	}

	kind, returnTypes, err := splitReturns(st.name, t)
	if err != nil {
		return Definition{}, nil, err
	}

	args, bindings, err := b.buildArgs(st, t.In(1))
	if err != nil {
		return Definition{}, nil, err
	}

	returns := make([]Port, 0, len(returnTypes))
	for i, rt := range returnTypes {
		key := fmt.Sprintf("return%d", i)
		port, err := b.resolve(rt, key, st.returnHints[i])
		if err != nil {
			return Definition{}, nil, &Error{Message: fmt.Sprintf("%q return %d", st.name, i), Cause: err}
		}
		returns = append(returns, port)
	}

	def := Definition{
		Name:        st.name,
		Description: st.description,
		Kind:        kind,
		Args:        args,
		Returns:     returns,
		Interfaces:  st.interfaces,
		PortGroups:  st.portGroups,
		IsTestFor:   st.isTestFor,
		Collections: st.collections,
	}
	if err := def.Validate(); err != nil {
		return Definition{}, nil, err
	}
	return def, bindings, nil
}

// splitReturns classifies fn's outputs: a trailing error with zero or more
// results is a FUNCTION; a single iter.Seq2[R, error] is a GENERATOR.
func splitReturns(name string, t reflect.Type) (Kind, []reflect.Type, error) {
	if t.NumOut() == 1 && isYieldSeq(t.Out(0)) {
		return KindGenerator, []reflect.Type{t.Out(0).In(0).In(0)}, nil
	}
	if t.NumOut() < 1 || t.Out(t.NumOut()-1) != errorType {
		return "", nil, &Error{Message: fmt.Sprintf(
			"%q must return a trailing error or an iter.Seq2[R, error]", name)}
	}
	outs := make([]reflect.Type, 0, t.NumOut()-1)
	for i := 0; i < t.NumOut()-1; i++ {
		outs = append(outs, t.Out(i))
	}
	return KindFunction, outs, nil
}

// isYieldSeq reports whether t has the shape func(func(R, error) bool),
// i.e. iter.Seq2[R, error].
func isYieldSeq(t reflect.Type) bool {
	if t.Kind() != reflect.Func || t.NumIn() != 1 || t.NumOut() != 0 {
		return false
	}
	y := t.In(0)
	return y.Kind() == reflect.Func && y.NumIn() == 2 && y.NumOut() == 1 &&
		y.In(1) == errorType && y.Out(0).Kind() == reflect.Bool
}

func (b *Builder) buildArgs(st *buildState, argsType reflect.Type) ([]Port, *Bindings, error) {
	bindings := &Bindings{WirePorts: map[string]int{}}
	var ports []Port

	for i := 0; i < argsType.NumField(); i++ {
		field := argsType.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := parseRekuestTag(field.Tag.Get("rekuest"))
		if name, ok := tag["context"]; ok {
			bindings.Contexts = append(bindings.Contexts, ContextBinding{Field: i, Name: name})
			continue
		}
		if name, ok := tag["state"]; ok {
			_, readonly := tag["readonly"]
			bindings.States = append(bindings.States, StateBinding{Field: i, Name: name, ReadOnly: readonly})
			continue
		}

		key, nullable := jsonKey(field)
		if key == "-" {
			continue
		}

		if override, ok := st.portOverrides[key]; ok {
			bindings.WirePorts[key] = i
			ports = append(ports, override)
			continue
		}

		hints := st.argHints[key]
		hints.Nullable = hints.Nullable || nullable
		if label, ok := tag["label"]; ok && hints.Label == "" {
			hints.Label = label
		}
		if desc, ok := tag["description"]; ok && hints.Description == "" {
			hints.Description = desc
		}

		port, err := b.resolve(field.Type, key, hints)
		if err != nil {
			return nil, nil, &Error{Message: fmt.Sprintf("arg %q", key), Cause: err}
		}
		bindings.WirePorts[key] = i
		ports = append(ports, port)
	}
	return ports, bindings, nil
}

func (b *Builder) resolve(t reflect.Type, key string, hints PortHints) (Port, error) {
	if b.Resolver == nil {
		return Port{}, &Error{Message: "builder has no port resolver"}
	}
	return b.Resolver.PortForType(t, key, hints)
}

// jsonKey derives the wire key and nullability from the json tag, falling
// back to the lowercased field name.
func jsonKey(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("json")
	name, rest, _ := strings.Cut(tag, ",")
	nullable := strings.Contains(rest, "omitempty") || field.Type.Kind() == reflect.Pointer
	if name == "" {
		name = strings.ToLower(field.Name)
	}
	return name, nullable
}

func parseRekuestTag(tag string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		out[k] = v
	}
	return out
}

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
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/arkitektio/rekuest-go/pkg/definition"
)

// Hook resolves a type the registry has no entry for. Hooks are consulted in
// order; the first applicable one wins.
type Hook interface {
	Applicable(t reflect.Type) bool
	Fulfill(t reflect.Type) (FullFilled, error)
}

var (
	enumType   = reflect.TypeOf((*Enum)(nil)).Elem()
	globalType = reflect.TypeOf((*GlobalStructure)(nil)).Elem()
	loaderType = reflect.TypeOf((*StructureLoader)(nil)).Elem()
)

// EnumHook fulfills named types that implement Enum.
type EnumHook struct{}

func (EnumHook) Applicable(t reflect.Type) bool {
	return t.Implements(enumType)
}

func (EnumHook) Fulfill(t reflect.Type) (FullFilled, error) {
	members := append([]definition.Choice(nil), reflect.Zero(t).Interface().(Enum).EnumMembers()...)
	if len(members) == 0 {
		return FullFilled{}, &Error{Message: fmt.Sprintf("enum %s has no members", t)}
	}
	for i := range members {
		if members[i].Value == nil {
			// Bare member tables default the value to the name, typed as t
			// when the underlying kind allows it.
			if t.Kind() == reflect.String {
				members[i].Value = reflect.ValueOf(members[i].Name).Convert(t).Interface()
			} else {
				members[i].Value = members[i].Name
			}
		}
	}
	entry := FullFilled{
		Identifier: "enum/" + typeName(t),
		Scope:      ScopeGlobal,
		Kind:       definition.KindEnum,
		Type:       t,
		Members:    members,
		Predicate:  typePredicate(t),
	}
	entry.Shrink = func(ctx context.Context, value any) (string, error) {
		for _, m := range members {
			if reflect.DeepEqual(m.Value, value) || m.Name == fmt.Sprint(value) {
				return m.Name, nil
			}
		}
		return "", &Error{Identifier: entry.Identifier,
			Message: fmt.Sprintf("%v is not a member", value)}
	}
	entry.Expand = func(ctx context.Context, id string) (any, error) {
		for _, m := range members {
			if m.Name == id {
				return m.Value, nil
			}
		}
		return nil, &Error{Identifier: entry.Identifier,
			Message: fmt.Sprintf("%q is not a member", id)}
	}
	entry.ConvertDefault = func(value any) (any, error) {
		return entry.Shrink(context.Background(), value)
	}
	return entry, nil
}

// GlobalHook fulfills types addressable across the fabric: the value exposes
// its identifier and id, the pointer can load itself from an id.
type GlobalHook struct{}

func (GlobalHook) Applicable(t reflect.Type) bool {
	base := t
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	return (t.Implements(globalType) || reflect.PointerTo(base).Implements(globalType)) &&
		reflect.PointerTo(base).Implements(loaderType)
}

func (GlobalHook) Fulfill(t reflect.Type) (FullFilled, error) {
	base := t
	wantPointer := false
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
		wantPointer = true
	}

	identifier := identifierOf(t, base)
	if identifier == "" {
		return FullFilled{}, &Error{Message: fmt.Sprintf("global structure %s has an empty identifier", t)}
	}

	entry := FullFilled{
		Identifier: identifier,
		Scope:      ScopeGlobal,
		Kind:       definition.KindStructure,
		Type:       t,
		Predicate:  typePredicate(t),
	}
	entry.Shrink = func(ctx context.Context, value any) (string, error) {
		gs, ok := value.(GlobalStructure)
		if !ok {
			rv := reflect.ValueOf(value)
			if rv.Kind() != reflect.Pointer && rv.CanAddr() {
				rv = rv.Addr()
			} else if rv.Kind() != reflect.Pointer {
				p := reflect.New(rv.Type())
				p.Elem().Set(rv)
				rv = p
			}
			gs, ok = rv.Interface().(GlobalStructure)
			if !ok {
				return "", &Error{Identifier: identifier,
					Message: fmt.Sprintf("%T does not expose a structure id", value)}
			}
		}
		return gs.StructureID(), nil
	}
	entry.Expand = func(ctx context.Context, id string) (any, error) {
		p := reflect.New(base)
		if err := p.Interface().(StructureLoader).LoadStructureID(ctx, id); err != nil {
			return nil, &Error{Identifier: identifier, Message: "load failed", Cause: err}
		}
		if wantPointer {
			return p.Interface(), nil
		}
		return p.Elem().Interface(), nil
	}
	entry.ConvertDefault = func(value any) (any, error) {
		return entry.Shrink(context.Background(), value)
	}
	return entry, nil
}

// LocalHook is the catch-all: values with no wire representation are shelved
// in process memory and travel as opaque keys.
type LocalHook struct {
	Shelver Shelver
}

func (LocalHook) Applicable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Struct, reflect.Pointer, reflect.Interface, reflect.Chan, reflect.Func:
		return true
	}
	return false
}

func (h LocalHook) Fulfill(t reflect.Type) (FullFilled, error) {
	if h.Shelver == nil {
		return FullFilled{}, &Error{Message: fmt.Sprintf("no shelver available for local structure %s", t)}
	}
	return FullFilled{
		Identifier: "local/" + typeName(t),
		Scope:      ScopeLocal,
		Kind:       definition.KindMemoryStructure,
		Type:       t,
		Predicate:  typePredicate(t),
		Shrink: func(ctx context.Context, value any) (string, error) {
			return h.Shelver.Put(ctx, value)
		},
		Expand: func(ctx context.Context, id string) (any, error) {
			return h.Shelver.Get(ctx, id)
		},
	}, nil
}

// identifierOf calls StructureIdentifier on a zero value, trying the value
// receiver first and the pointer receiver second.
func identifierOf(t, base reflect.Type) string {
	if t.Implements(globalType) {
		if t.Kind() == reflect.Pointer {
			return reflect.New(base).Interface().(GlobalStructure).StructureIdentifier()
		}
		return reflect.Zero(t).Interface().(GlobalStructure).StructureIdentifier()
	}
	return reflect.New(base).Interface().(GlobalStructure).StructureIdentifier()
}

func typePredicate(t reflect.Type) Predicate {
	return func(value any) bool {
		if value == nil {
			return false
		}
		return reflect.TypeOf(value).AssignableTo(t)
	}
}

func typeName(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return strings.ToLower(t.Name())
	}
	return strings.ToLower(t.String())
}

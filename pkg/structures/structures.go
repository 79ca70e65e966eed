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

// Package structures maps Go types to fabric port kinds. The registry holds
// one fulfilled entry per identifier and resolves unregistered types through
// an ordered hook chain: enums, global structures, then the local catch-all
// that shelves values in process memory.
package structures

import (
	"context"
	"reflect"

	"github.com/arkitektio/rekuest-go/pkg/definition"
)

// Scope tells whether a structure's id is resolvable across the fabric or
// only inside this process.
type Scope string

const (
	ScopeGlobal Scope = "GLOBAL"
	ScopeLocal  Scope = "LOCAL"
)

// Shrinker reduces a live value to its wire id.
type Shrinker func(ctx context.Context, value any) (string, error)

// Expander resurrects a live value from its wire id.
type Expander func(ctx context.Context, id string) (any, error)

// Predicate reports whether a value belongs to the structure; used to pick
// the matching variant when shrinking unions.
type Predicate func(value any) bool

// DefaultConverter turns a Go default value into its wire form.
type DefaultConverter func(value any) (any, error)

// FullFilled is one registered structure: the callbacks the serializer needs
// plus the port metadata the builder needs.
type FullFilled struct {
	Identifier     string
	Scope          Scope
	Kind           definition.PortKind
	Type           reflect.Type
	Description    string
	Shrink         Shrinker
	Expand         Expander
	Predicate      Predicate
	ConvertDefault DefaultConverter

	// Members is set for ENUM entries only.
	Members []definition.Choice
}

// GlobalStructure is implemented by types addressable across the fabric.
// StructureIdentifier must work on the zero value.
type GlobalStructure interface {
	StructureIdentifier() string
	StructureID() string
}

// StructureLoader fills a global structure from its fabric id. Implemented
// on the pointer receiver so the registry can expand into a fresh value.
type StructureLoader interface {
	LoadStructureID(ctx context.Context, id string) error
}

// Enum is implemented by named types that enumerate their members.
// EnumMembers must work on the zero value and return members in ordinal
// order.
type Enum interface {
	EnumMembers() []definition.Choice
}

// Shelver stores local-scope values for the lifetime of the process.
// Implemented by pkg/shelve.
type Shelver interface {
	Put(ctx context.Context, value any) (string, error)
	Get(ctx context.Context, key string) (any, error)
	Drop(ctx context.Context, key string) error
}

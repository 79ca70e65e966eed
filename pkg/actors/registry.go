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

package actors

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/arkitektio/rekuest-go/pkg/definition"
	"github.com/arkitektio/rekuest-go/pkg/messages"
)

// Implementation is one registered callable: its schema, its injection
// sidecar, and the function itself.
type Implementation struct {
	Interface  string
	Definition definition.Definition
	Bindings   *definition.Bindings

	fn reflect.Value
}

// Init returns the registration payload advertised during a session INIT.
func (i Implementation) Init() messages.ImplementationInit {
	return messages.ImplementationInit{
		Interface:  i.Interface,
		Hash:       i.Definition.Hash(),
		Definition: i.Definition.AsMap(),
	}
}

// Registry maps interface names to implementations. Registration is usually
// a startup concern; lookups happen per assignment.
type Registry struct {
	builder *definition.Builder

	mu    sync.RWMutex
	impls map[string]Implementation
	order []string
}

// NewRegistry returns an implementation registry building definitions
// through builder.
func NewRegistry(builder *definition.Builder) *Registry {
	return &Registry{builder: builder, impls: map[string]Implementation{}}
}

// Register derives fn's definition and stores it under the interface name.
// The definition name defaults to the interface name; a failed build rejects
// this implementation only.
func (r *Registry) Register(iface string, fn any, opts ...definition.Option) error {
	def, bindings, err := r.builder.Build(iface, fn, opts...)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.impls[iface]; ok {
		return fmt.Errorf("actors: interface %q already registered", iface)
	}
	r.impls[iface] = Implementation{
		Interface:  iface,
		Definition: def,
		Bindings:   bindings,
		fn:         reflect.ValueOf(fn),
	}
	r.order = append(r.order, iface)
	return nil
}

// Get returns the implementation registered under iface.
func (r *Registry) Get(iface string) (Implementation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[iface]
	return impl, ok
}

// Inits lists the registration payloads in registration order.
func (r *Registry) Inits() []messages.ImplementationInit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]messages.ImplementationInit, 0, len(r.order))
	for _, iface := range r.order {
		out = append(out, r.impls[iface].Init())
	}
	return out
}

// Len reports the number of registered implementations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.impls)
}

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

package state

import (
	"fmt"

	"github.com/arkitektio/rekuest-go/pkg/messages"
)

// Handle is an assignment's view of one state. Writable handles are issued
// while the assignment holds the state's lock-set; read-only handles observe
// but reject mutation.
type Handle struct {
	state    *State
	writable bool
}

// Name returns the underlying state's name.
func (h *Handle) Name() string { return h.state.name }

// Writable reports whether mutations are permitted.
func (h *Handle) Writable() bool { return h.writable }

// Get returns the live value at path.
func (h *Handle) Get(path string) (any, error) {
	return h.state.Get(path)
}

// Set replaces the value at path.
func (h *Handle) Set(path string, value any) error {
	return h.state.mutate(messages.OpReplace, path, value, h.writable)
}

// Add inserts value at path: a list index or "-" to append, or a dict key.
func (h *Handle) Add(path string, value any) error {
	return h.state.mutate(messages.OpAdd, path, value, h.writable)
}

// Remove deletes the value at path.
func (h *Handle) Remove(path string) error {
	return h.state.mutate(messages.OpRemove, path, nil, h.writable)
}

// List returns a list view rooted at path.
func (h *Handle) List(path string) *List {
	return &List{handle: h, path: path}
}

// Dict returns a dict view rooted at path.
func (h *Handle) Dict(path string) *Dict {
	return &Dict{handle: h, path: path}
}

// List is a typed view over a LIST-kinded location.
type List struct {
	handle *Handle
	path   string
}

// Append adds value at the end of the list.
func (l *List) Append(value any) error {
	return l.handle.Add(l.path+"/-", value)
}

// Insert adds value at index i, shifting later elements.
func (l *List) Insert(i int, value any) error {
	return l.handle.Add(fmt.Sprintf("%s/%d", l.path, i), value)
}

// Set replaces the element at index i.
func (l *List) Set(i int, value any) error {
	return l.handle.Set(fmt.Sprintf("%s/%d", l.path, i), value)
}

// Remove deletes the element at index i.
func (l *List) Remove(i int) error {
	return l.handle.Remove(fmt.Sprintf("%s/%d", l.path, i))
}

// Get returns the element at index i.
func (l *List) Get(i int) (any, error) {
	return l.handle.Get(fmt.Sprintf("%s/%d", l.path, i))
}

// Len returns the current length.
func (l *List) Len() (int, error) {
	value, err := l.handle.Get(l.path)
	if err != nil {
		return 0, err
	}
	items, ok := value.([]any)
	if !ok {
		return 0, fmt.Errorf("state: %q is not a list", l.path)
	}
	return len(items), nil
}

// Dict is a typed view over a DICT-kinded location.
type Dict struct {
	handle *Handle
	path   string
}

// Set stores value under key, inserting or replacing.
func (d *Dict) Set(key string, value any) error {
	return d.handle.Add(d.path+"/"+EscapeToken(key), value)
}

// Delete removes key.
func (d *Dict) Delete(key string) error {
	return d.handle.Remove(d.path + "/" + EscapeToken(key))
}

// Get returns the value under key.
func (d *Dict) Get(key string) (any, error) {
	return d.handle.Get(d.path + "/" + EscapeToken(key))
}

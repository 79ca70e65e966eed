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

package locks

import (
	"fmt"
	"regexp"
	"sync"
)

var contextNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ContextEntry is one injectable context object plus the locks an assignment
// must hold while using it.
type ContextEntry struct {
	Name  string
	Value any
	Locks []string
}

// Contexts maps snake-case names to injectable context objects. Safe for
// concurrent use.
type Contexts struct {
	mu      sync.RWMutex
	entries map[string]ContextEntry
}

// NewContexts returns an empty context registry.
func NewContexts() *Contexts {
	return &Contexts{entries: map[string]ContextEntry{}}
}

// Register adds value under name with its protecting lock-set. Names must be
// snake-case; registering a name twice is an error.
func (c *Contexts) Register(name string, value any, lockNames ...string) error {
	if !contextNameRe.MatchString(name) {
		return fmt.Errorf("locks: context name %q is not snake_case", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; ok {
		return fmt.Errorf("locks: context %q already registered", name)
	}
	c.entries[name] = ContextEntry{Name: name, Value: value, Locks: sortedUnique(lockNames)}
	return nil
}

// Get returns the entry registered under name.
func (c *Contexts) Get(name string) (ContextEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[name]
	return entry, ok
}

// LockSet returns the union of locks protecting the named contexts.
func (c *Contexts) LockSet(names []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var all []string
	for _, name := range names {
		if entry, ok := c.entries[name]; ok {
			all = append(all, entry.Locks...)
		}
	}
	return sortedUnique(all)
}

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

// Package shelve keeps local-scope values alive for the duration of the
// process. Values never cross the wire; only their keys do.
package shelve

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Shelve is an in-memory store of live values keyed by opaque ids. Safe for
// concurrent use.
type Shelve struct {
	mu      sync.RWMutex
	entries map[string]any
}

// New returns an empty shelve.
func New() *Shelve {
	return &Shelve{entries: map[string]any{}}
}

// Put stores value and returns its key. The key stays valid until Drop.
func (s *Shelve) Put(_ context.Context, value any) (string, error) {
	key := uuid.NewString()
	s.mu.Lock()
	s.entries[key] = value
	s.mu.Unlock()
	return key, nil
}

// Get returns the value stored under key.
func (s *Shelve) Get(_ context.Context, key string) (any, error) {
	s.mu.RLock()
	value, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("shelve: no value under %q", key)
	}
	return value, nil
}

// Drop forgets the value stored under key. Dropping an unknown key is a
// no-op.
func (s *Shelve) Drop(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len reports the number of shelved values.
func (s *Shelve) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

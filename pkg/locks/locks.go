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

// Package locks serializes access to shared context objects. Locks are
// named, exclusive, and fair: waiters are granted in arrival order. Lock
// sets are always acquired in sorted name order so overlapping sets cannot
// deadlock each other.
package locks

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// LockViolationError reports a mutation attempted without holding the
// required lock.
type LockViolationError struct {
	Name    string
	Message string
}

func (e *LockViolationError) Error() string {
	return fmt.Sprintf("locks: %s (lock %q)", e.Message, e.Name)
}

// Manager hands out named exclusive locks. The zero value is not usable;
// construct with NewManager.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*fifoLock
}

type fifoLock struct {
	held    bool
	waiters []chan struct{}
}

// NewManager returns an empty lock manager. Locks spring into existence on
// first acquisition.
func NewManager() *Manager {
	return &Manager{locks: map[string]*fifoLock{}}
}

// Acquire blocks until the named lock is held by the caller or ctx ends.
func (m *Manager) Acquire(ctx context.Context, name string) error {
	m.mu.Lock()
	l, ok := m.locks[name]
	if !ok {
		l = &fifoLock{}
		m.locks[name] = l
	}
	if !l.held {
		l.held = true
		m.mu.Unlock()
		return nil
	}
	grant := make(chan struct{})
	l.waiters = append(l.waiters, grant)
	m.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, w := range l.waiters {
			if w == grant {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				m.mu.Unlock()
				return ctx.Err()
			}
		}
		// The grant raced the cancellation; we own the lock now and must
		// hand it on.
		m.releaseLocked(l)
		m.mu.Unlock()
		return ctx.Err()
	}
}

// Release hands the named lock to the oldest waiter, or frees it.
func (m *Manager) Release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	if !ok || !l.held {
		return
	}
	m.releaseLocked(l)
}

func (m *Manager) releaseLocked(l *fifoLock) {
	if len(l.waiters) == 0 {
		l.held = false
		return
	}
	grant := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(grant)
}

// AcquireAll takes every named lock, deduplicated and in sorted order. On
// failure every lock taken so far is released.
func (m *Manager) AcquireAll(ctx context.Context, names []string) error {
	ordered := sortedUnique(names)
	for i, name := range ordered {
		if err := m.Acquire(ctx, name); err != nil {
			for j := i - 1; j >= 0; j-- {
				m.Release(ordered[j])
			}
			return err
		}
	}
	return nil
}

// ReleaseAll releases every named lock, deduplicated.
func (m *Manager) ReleaseAll(names []string) {
	for _, name := range sortedUnique(names) {
		m.Release(name)
	}
}

// Held reports whether the named lock is currently taken.
func (m *Manager) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	return ok && l.held
}

func sortedUnique(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	n := 0
	for i, name := range out {
		if i == 0 || name != out[i-1] {
			out[n] = name
			n++
		}
	}
	return out[:n]
}

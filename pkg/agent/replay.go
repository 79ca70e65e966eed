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

package agent

import (
	"sync"
	"time"

	"github.com/arkitektio/rekuest-go/pkg/messages"
)

const (
	// DefaultReplaySize caps how many terminal events are kept for replay.
	DefaultReplaySize = 256

	// DefaultReplayTTL is how long a terminal event stays replayable.
	DefaultReplayTTL = 5 * time.Minute
)

type replayEntry struct {
	event messages.Event
	at    time.Time
}

// replayBuffer keeps recent terminal events so they can be re-sent after a
// reconnect. A terminal event lost between socket death and re-INIT would
// otherwise leave the assignment dangling server-side forever.
type replayBuffer struct {
	mu      sync.Mutex
	entries []replayEntry
	size    int
	ttl     time.Duration
	dropped bool
	now     func() time.Time
}

func newReplayBuffer(size int, ttl time.Duration) *replayBuffer {
	if size <= 0 {
		size = DefaultReplaySize
	}
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}
	return &replayBuffer{size: size, ttl: ttl, now: time.Now}
}

// Add records a terminal event, evicting the oldest entry when full.
// Returns the number of entries evicted.
func (b *replayBuffer) Add(ev messages.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()

	evicted := 0
	for len(b.entries) >= b.size {
		b.entries = b.entries[1:]
		b.dropped = true
		evicted++
	}
	b.entries = append(b.entries, replayEntry{event: ev, at: b.now()})
	return evicted
}

// Events lists the replayable events in arrival order.
func (b *replayBuffer) Events() []messages.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()

	out := make([]messages.Event, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.event
	}
	return out
}

// Overflowed reports whether any entry was evicted before a replay, meaning
// the buffer no longer tells the whole story and the server must reconcile.
func (b *replayBuffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Reset clears eviction tracking after a successful reconciliation.
func (b *replayBuffer) Reset() {
	b.mu.Lock()
	b.entries = nil
	b.dropped = false
	b.mu.Unlock()
}

func (b *replayBuffer) expireLocked() {
	cutoff := b.now().Add(-b.ttl)
	for len(b.entries) > 0 && b.entries[0].at.Before(cutoff) {
		b.entries = b.entries[1:]
	}
}

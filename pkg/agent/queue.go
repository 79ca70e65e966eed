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
	"context"
	"errors"
	"sync"

	"github.com/arkitektio/rekuest-go/pkg/messages"
)

// DefaultQueueBytes bounds the outbound queue at 8 MiB.
const DefaultQueueBytes = 8 << 20

var errQueueClosed = errors.New("outbound queue closed")

type queueItem struct {
	msg  messages.Message
	size int
}

// queue is the single outbound FIFO. It is bounded by encoded bytes, not
// frame count; producers block when it is full. Frames are never dropped,
// per-assignment event order is a protocol guarantee.
type queue struct {
	mu       sync.Mutex
	items    []queueItem
	bytes    int
	maxBytes int
	closed   bool

	notEmpty chan struct{}
	notFull  chan struct{}
	done     chan struct{}
}

func newQueue(maxBytes int) *queue {
	if maxBytes <= 0 {
		maxBytes = DefaultQueueBytes
	}
	return &queue{
		maxBytes: maxBytes,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Put appends one frame, blocking while the queue is over its byte bound.
// An empty queue always accepts, even an oversized frame.
func (q *queue) Put(ctx context.Context, m messages.Message) error {
	data, err := messages.Encode(m)
	if err != nil {
		return err
	}
	size := len(data)

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return errQueueClosed
		}
		if len(q.items) == 0 || q.bytes+size <= q.maxBytes {
			q.items = append(q.items, queueItem{msg: m, size: size})
			q.bytes += size
			spare := q.bytes < q.maxBytes
			q.mu.Unlock()
			signal(q.notEmpty)
			if spare {
				signal(q.notFull)
			}
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.notFull:
		case <-q.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Peek blocks for the oldest frame without removing it. The writer pump
// pops only after a successful send, so a frame in flight when the session
// dies is retransmitted by the next session.
func (q *queue) Peek(ctx context.Context) (messages.Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0].msg
			q.mu.Unlock()
			return m, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, errQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notEmpty:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Pop removes the head frame after it was sent.
func (q *queue) Pop() {
	q.mu.Lock()
	if len(q.items) > 0 {
		q.bytes -= q.items[0].size
		q.items = q.items[1:]
	}
	q.mu.Unlock()
	signal(q.notFull)
}

// Bytes reports the queued byte total.
func (q *queue) Bytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// Loaded reports whether the queue is past half its bound. The state
// workers widen their debounce window while it is.
func (q *queue) Loaded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes > q.maxBytes/2
}

// Close wakes all blocked producers and consumers with errQueueClosed.
func (q *queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

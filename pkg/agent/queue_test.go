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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkitektio/rekuest-go/pkg/messages"
)

func event(assignment string) messages.Event {
	return messages.Event{
		Meta:       messages.NewMeta(),
		Assignment: assignment,
		Kind:       messages.EventDone,
	}
}

func TestQueueFIFO(t *testing.T) {
	q := newQueue(DefaultQueueBytes)
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, event("a")))
	require.NoError(t, q.Put(ctx, event("b")))

	m, err := q.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", m.(messages.Event).Assignment)
	q.Pop()

	m, err = q.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", m.(messages.Event).Assignment)
	q.Pop()

	assert.Equal(t, 0, q.Bytes())
}

func TestQueueBlocksWhenFull(t *testing.T) {
	// Small enough that the second frame does not fit.
	q := newQueue(200)
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, event("a")))

	blocked := make(chan error, 1)
	go func() { blocked <- q.Put(context.Background(), event("b")) }()

	select {
	case <-blocked:
		t.Fatal("put should have blocked on a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Pop()

	select {
	case err := <-blocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("put did not unblock after a pop")
	}
}

func TestQueuePutHonorsContext(t *testing.T) {
	q := newQueue(200)
	require.NoError(t, q.Put(context.Background(), event("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Put(ctx, event("b"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueEmptyAcceptsOversizedFrame(t *testing.T) {
	q := newQueue(1)
	require.NoError(t, q.Put(context.Background(), event("a")))
}

func TestQueuePeekKeepsHeadUntilPop(t *testing.T) {
	q := newQueue(DefaultQueueBytes)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, event("a")))

	m1, err := q.Peek(ctx)
	require.NoError(t, err)
	m2, err := q.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, m1.(messages.Event).ID, m2.(messages.Event).ID)
	assert.Greater(t, q.Bytes(), 0)
}

func TestQueueCloseUnblocks(t *testing.T) {
	q := newQueue(DefaultQueueBytes)

	got := make(chan error, 1)
	go func() {
		_, err := q.Peek(context.Background())
		got <- err
	}()

	q.Close()

	select {
	case err := <-got:
		assert.ErrorIs(t, err, errQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("peek did not unblock on close")
	}
	assert.ErrorIs(t, q.Put(context.Background(), event("a")), errQueueClosed)
}

func TestReplayBufferEvictsOldest(t *testing.T) {
	b := newReplayBuffer(2, time.Minute)

	assert.Equal(t, 0, b.Add(event("a")))
	assert.Equal(t, 0, b.Add(event("b")))
	assert.Equal(t, 1, b.Add(event("c")))

	events := b.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].Assignment)
	assert.Equal(t, "c", events[1].Assignment)
	assert.True(t, b.Overflowed())
}

func TestReplayBufferExpiresByTTL(t *testing.T) {
	b := newReplayBuffer(8, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Add(event("a"))
	now = now.Add(2 * time.Minute)
	b.Add(event("b"))

	events := b.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].Assignment)
	assert.False(t, b.Overflowed())
}

func TestReplayBufferReset(t *testing.T) {
	b := newReplayBuffer(1, time.Minute)
	b.Add(event("a"))
	b.Add(event("b"))
	require.True(t, b.Overflowed())

	b.Reset()
	assert.Empty(t, b.Events())
	assert.False(t, b.Overflowed())
}

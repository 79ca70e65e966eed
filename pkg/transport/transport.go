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

// Package transport moves wire frames between the agent and the server. The
// production transport is a websocket; tests use an in-memory pair. A
// Connection is a single session: when it errors the agent drops it and
// dials a new one.
package transport

import (
	"context"
	"fmt"

	"github.com/arkitektio/rekuest-go/pkg/messages"
)

// Connection is one live session with the server.
type Connection interface {
	// Send writes one frame. Safe for concurrent use.
	Send(ctx context.Context, m messages.Message) error

	// Receive blocks for the next frame. Only one reader may call it.
	Receive(ctx context.Context) (messages.Message, error)

	// Close tears the session down; in-flight calls return errors.
	Close() error
}

// Dialer opens connections. The agent redials through it after every
// session loss.
type Dialer interface {
	Dial(ctx context.Context) (Connection, error)
}

// Error wraps a transport failure with the operation that hit it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TimeoutError reports a deadline hit. Recoverable timeouts are retried by
// the session loop; unrecoverable ones surface to the caller.
type TimeoutError struct {
	Op          string
	Recoverable bool
}

func (e *TimeoutError) Error() string {
	if e.Recoverable {
		return fmt.Sprintf("transport: %s timed out (will retry)", e.Op)
	}
	return fmt.Sprintf("transport: %s timed out", e.Op)
}

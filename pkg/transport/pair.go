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

package transport

import (
	"context"
	"sync"

	"github.com/arkitektio/rekuest-go/pkg/messages"
)

// Pair returns two connected in-memory endpoints. Frames go through the
// codec so tests exercise the real wire encoding.
func Pair() (Connection, Connection) {
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)
	closed := make(chan struct{})
	var once sync.Once
	closeBoth := func() { once.Do(func() { close(closed) }) }

	a := &pairConn{out: a2b, in: b2a, closed: closed, close: closeBoth}
	b := &pairConn{out: b2a, in: a2b, closed: closed, close: closeBoth}
	return a, b
}

// PairDialer hands out the client side of a fixed pair once, then fails.
// Tests that exercise reconnection swap in a fresh pair per dial.
type PairDialer struct {
	mu    sync.Mutex
	conns []Connection
}

// NewPairDialer returns a dialer yielding the given connections in order.
func NewPairDialer(conns ...Connection) *PairDialer {
	return &PairDialer{conns: conns}
}

// Push appends another connection for a later dial.
func (d *PairDialer) Push(conn Connection) {
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
}

func (d *PairDialer) Dial(ctx context.Context) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil, &Error{Op: "dial", Err: context.DeadlineExceeded}
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

type pairConn struct {
	out    chan []byte
	in     chan []byte
	closed chan struct{}
	close  func()
}

func (c *pairConn) Send(ctx context.Context, m messages.Message) error {
	data, err := messages.Encode(m)
	if err != nil {
		return &Error{Op: "encode", Err: err}
	}
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return &Error{Op: "send", Err: errClosed}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pairConn) Receive(ctx context.Context) (messages.Message, error) {
	select {
	case data := <-c.in:
		m, err := messages.Decode(data)
		if err != nil {
			return nil, &Error{Op: "decode", Err: err}
		}
		return m, nil
	case <-c.closed:
		return nil, &Error{Op: "receive", Err: errClosed}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *pairConn) Close() error {
	c.close()
	return nil
}

var errClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "connection closed" }

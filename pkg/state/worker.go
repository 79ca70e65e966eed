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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/arkitektio/rekuest-go/pkg/messages"
)

// DefaultDebounce is how long the worker waits after the first patch before
// publishing, so bursts collapse into one envelope.
const DefaultDebounce = 100 * time.Millisecond

// Publisher delivers one envelope to the outbound queue.
type Publisher func(ctx context.Context, env messages.Envelope) error

// Worker drains one state's patch inbox into revisioned envelopes. Run one
// worker per state.
type Worker struct {
	state    *State
	publish  Publisher
	debounce time.Duration
	pressure func() bool
	logger   *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) WorkerOption {
	return func(w *Worker) { w.debounce = d }
}

// WithPressure installs a backpressure probe; while it reports true the
// debounce window doubles.
func WithPressure(f func() bool) WorkerOption {
	return func(w *Worker) { w.pressure = f }
}

// WithLogger overrides the worker's logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// NewWorker returns a worker publishing state's patches through publish.
func NewWorker(state *State, publish Publisher, opts ...WorkerOption) *Worker {
	w := &Worker{
		state:    state,
		publish:  publish,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Flush asks the state's worker to publish pending patches immediately,
// bypassing the debounce window.
func (s *State) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.flush <- reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run blocks on the patch inbox: the first patch opens a debounce window,
// everything arriving inside it joins the batch, then the batch is squashed,
// shrunk, committed and published. Returns when ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case reply := <-w.state.flush:
			reply <- w.emit(ctx, w.drain(nil))

		case first := <-w.state.inbox:
			batch := []messages.Patch{first}
			window := w.debounce
			if w.pressure != nil && w.pressure() {
				window *= 2
			}
			timer := time.NewTimer(window)

			var flushReply chan error
		collect:
			for {
				select {
				case p := <-w.state.inbox:
					batch = append(batch, p)
				case flushReply = <-w.state.flush:
					timer.Stop()
					batch = w.drain(batch)
					break collect
				case <-timer.C:
					break collect
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				}
			}

			err := w.emit(ctx, batch)
			if flushReply != nil {
				flushReply <- err
			} else if err != nil {
				w.logger.Error("state publish failed", "state", w.state.name, "error", err)
			}
		}
	}
}

func (w *Worker) drain(batch []messages.Patch) []messages.Patch {
	for {
		select {
		case p := <-w.state.inbox:
			batch = append(batch, p)
		default:
			return batch
		}
	}
}

// emit turns a raw batch into one envelope. Patches whose value cannot be
// shrunk are dropped with a log line; they must not poison the rest of the
// batch.
func (w *Worker) emit(ctx context.Context, batch []messages.Patch) error {
	if len(batch) == 0 {
		return nil
	}

	wire := make([]messages.Patch, 0, len(batch))
	for _, p := range squash(batch) {
		out := messages.Patch{Op: p.Op, Path: p.Path}
		if p.Op != messages.OpRemove {
			port, err := PortForPath(w.state.ports, p.Path)
			if err != nil {
				w.logger.Error("dropping patch", "state", w.state.name, "path", p.Path, "error", err)
				continue
			}
			shrunk, err := w.state.serializer.Shrink(ctx, port, p.Value)
			if err != nil {
				w.logger.Error("dropping patch", "state", w.state.name, "path", p.Path, "error", err)
				continue
			}
			out.Value = shrunk
		}
		wire = append(wire, out)
	}
	if len(wire) == 0 {
		return nil
	}

	rev, baseRev, err := w.state.commit(wire)
	if err != nil {
		return err
	}
	env := messages.Envelope{
		Type:      messages.KindEnvelope,
		StateName: w.state.name,
		Rev:       rev,
		BaseRev:   baseRev,
		Patches:   wire,
	}
	w.logger.Debug("state envelope", "state", w.state.name, "rev", rev, "patches", len(wire))
	return w.publish(ctx, env)
}

// squash keeps only the last operation per exact path. Append operations
// are kept verbatim: each one adds a distinct element.
func squash(in []messages.Patch) []messages.Patch {
	keep := make([]bool, len(in))
	last := map[string]int{}
	for i, p := range in {
		if strings.HasSuffix(p.Path, "/-") {
			keep[i] = true
			continue
		}
		if prev, ok := last[p.Path]; ok {
			keep[prev] = false
		}
		last[p.Path] = i
		keep[i] = true
	}
	out := make([]messages.Patch, 0, len(in))
	for i, p := range in {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

func applyJSONPatch(doc []byte, patches []messages.Patch) ([]byte, error) {
	ops := make([]map[string]any, len(patches))
	for i, p := range patches {
		op := map[string]any{"op": string(p.Op), "path": p.Path}
		if p.Op != messages.OpRemove {
			op["value"] = p.Value
		}
		ops[i] = op
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("patch not serializable: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return nil, fmt.Errorf("patch invalid: %w", err)
	}
	patched, err := patch.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("patch does not apply: %w", err)
	}
	return patched, nil
}

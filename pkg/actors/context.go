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

package actors

import (
	"context"

	"github.com/arkitektio/rekuest-go/pkg/messages"
)

type helperKey struct{}

// Helper is the back-channel an implementation talks to while it runs: logs,
// progress, pausepoints and state flushes. Retrieve it with FromContext.
type Helper struct {
	actor *Actor
}

// FromContext returns the helper for the running assignment. The second
// return is false outside an actor-managed call.
func FromContext(ctx context.Context) (*Helper, bool) {
	h, ok := ctx.Value(helperKey{}).(*Helper)
	return h, ok
}

func withHelper(ctx context.Context, h *Helper) context.Context {
	return context.WithValue(ctx, helperKey{}, h)
}

// Assignment returns the assignment id.
func (h *Helper) Assignment() string { return h.actor.assign.Assignment }

// Reference returns the caller-supplied reference, if any.
func (h *Helper) Reference() string { return h.actor.assign.Reference }

// Parent returns the parent assignment id, if any.
func (h *Helper) Parent() string { return h.actor.assign.Parent }

// User returns the id of the user the assignment runs on behalf of.
func (h *Helper) User() string { return h.actor.assign.User }

// InstanceID identifies the agent instance hosting the assignment.
func (h *Helper) InstanceID() string { return h.actor.cfg.InstanceID }

// Log sends a LOG event at the given level.
func (h *Helper) Log(ctx context.Context, level messages.LogLevel, message string) error {
	return h.actor.emitEvent(ctx, messages.Event{
		Kind:    messages.EventLog,
		Level:   level,
		Message: message,
	})
}

// Progress reports completion, clamped to 0..100.
func (h *Helper) Progress(ctx context.Context, percentage int) error {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	return h.actor.emitEvent(ctx, messages.Event{
		Kind:       messages.EventProgress,
		Percentage: &percentage,
	})
}

// Pausepoint is where a long computation yields to control: it blocks while
// the assignment is paused and returns the context error once the
// assignment is cancelled or interrupted.
func (h *Helper) Pausepoint(ctx context.Context) error {
	return h.actor.pausepoint(ctx)
}

// Publish flushes the named state's pending patches immediately instead of
// waiting out the debounce window.
func (h *Helper) Publish(ctx context.Context, stateName string) error {
	return h.actor.flushState(ctx, stateName)
}

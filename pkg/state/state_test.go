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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkitektio/rekuest-go/pkg/definition"
	"github.com/arkitektio/rekuest-go/pkg/locks"
	"github.com/arkitektio/rekuest-go/pkg/messages"
	"github.com/arkitektio/rekuest-go/pkg/structures"
)

// Dashboard is the replicated state used across these tests.
type Dashboard struct {
	Progress int               `json:"progress"`
	Logs     []string          `json:"logs"`
	Tags     map[string]string `json:"tags"`
}

func newDashboard(t *testing.T) *State {
	t.Helper()
	s, err := New(context.Background(), "dashboard", Dashboard{
		Progress: 0,
		Logs:     []string{"boot"},
		Tags:     map[string]string{"env": "test"},
	}, structures.NewRegistry())
	require.NoError(t, err)
	return s
}

// runWorker starts a worker with a tiny debounce and returns the envelope
// stream plus a stopper.
func runWorker(t *testing.T, s *State, opts ...WorkerOption) (<-chan messages.Envelope, func()) {
	t.Helper()
	envs := make(chan messages.Envelope, 16)
	publish := func(_ context.Context, env messages.Envelope) error {
		envs <- env
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(s, publish, append([]WorkerOption{WithDebounce(20 * time.Millisecond)}, opts...)...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	return envs, func() { cancel(); <-done }
}

func waitEnvelope(t *testing.T, envs <-chan messages.Envelope) messages.Envelope {
	t.Helper()
	select {
	case env := <-envs:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope published")
		return messages.Envelope{}
	}
}

func TestNewDerivesSchemaAndSnapshot(t *testing.T) {
	s := newDashboard(t)

	require.Len(t, s.Ports(), 3)
	assert.Equal(t, definition.KindInt, s.Ports()[0].Kind)
	assert.Equal(t, definition.KindList, s.Ports()[1].Kind)
	assert.Equal(t, definition.KindDict, s.Ports()[2].Kind)

	rev, snapshot := s.Revision()
	assert.Equal(t, uint64(0), rev)
	assert.Equal(t, float64(0), snapshot["progress"])
	assert.Equal(t, []any{"boot"}, snapshot["logs"])

	init := s.Init()
	assert.Equal(t, "dashboard", init.Name)
	assert.Equal(t, uint64(0), init.Rev)
	assert.Len(t, init.Schema["ports"], 3)
}

func TestDebounceSquashesSamePath(t *testing.T) {
	s := newDashboard(t)
	envs, stop := runWorker(t, s)
	defer stop()

	h := s.Handle(true)
	require.NoError(t, h.Set("/progress", 50))
	require.NoError(t, h.Set("/progress", 80))

	env := waitEnvelope(t, envs)
	assert.Equal(t, "dashboard", env.StateName)
	assert.Equal(t, uint64(1), env.Rev)
	assert.Equal(t, uint64(0), env.BaseRev)
	require.Len(t, env.Patches, 1)
	assert.Equal(t, messages.OpReplace, env.Patches[0].Op)
	assert.Equal(t, "/progress", env.Patches[0].Path)
	assert.Equal(t, 80, env.Patches[0].Value)

	rev, snapshot := s.Revision()
	assert.Equal(t, uint64(1), rev)
	assert.Equal(t, float64(80), snapshot["progress"])
}

func TestAppendsAreNeverSquashed(t *testing.T) {
	s := newDashboard(t)
	envs, stop := runWorker(t, s)
	defer stop()

	logsView := s.Handle(true).List("/logs")
	require.NoError(t, logsView.Append("first"))
	require.NoError(t, logsView.Append("second"))

	env := waitEnvelope(t, envs)
	require.Len(t, env.Patches, 2)
	assert.Equal(t, "/logs/-", env.Patches[0].Path)
	assert.Equal(t, "first", env.Patches[0].Value)
	assert.Equal(t, "second", env.Patches[1].Value)

	_, snapshot := s.Revision()
	assert.Equal(t, []any{"boot", "first", "second"}, snapshot["logs"])

	n, err := logsView.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestEnvelopeRevChain(t *testing.T) {
	s := newDashboard(t)
	envs, stop := runWorker(t, s)
	defer stop()

	h := s.Handle(true)
	require.NoError(t, h.Set("/progress", 10))
	first := waitEnvelope(t, envs)

	require.NoError(t, h.Set("/progress", 20))
	second := waitEnvelope(t, envs)

	assert.Equal(t, first.Rev, second.BaseRev)
	assert.Equal(t, uint64(2), second.Rev)
}

func TestReadOnlyHandleRejectsMutation(t *testing.T) {
	s := newDashboard(t)
	h := s.Handle(false)

	err := h.Set("/progress", 99)
	var violation *locks.LockViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "dashboard", violation.Name)

	// Reads still work.
	got, err := h.Get("/progress")
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestDictKeysAreEscaped(t *testing.T) {
	s := newDashboard(t)
	envs, stop := runWorker(t, s)
	defer stop()

	tags := s.Handle(true).Dict("/tags")
	require.NoError(t, tags.Set("a/b", "slashed"))

	env := waitEnvelope(t, envs)
	require.Len(t, env.Patches, 1)
	assert.Equal(t, "/tags/a~1b", env.Patches[0].Path)

	got, err := tags.Get("a/b")
	require.NoError(t, err)
	assert.Equal(t, "slashed", got)
}

func TestMutationOutsideSchemaFails(t *testing.T) {
	s := newDashboard(t)
	h := s.Handle(true)
	assert.Error(t, h.Set("/nope", 1))
	assert.Error(t, h.Set("bad-path", 1))
}

func TestFlushBypassesDebounce(t *testing.T) {
	s := newDashboard(t)
	envs, stop := runWorker(t, s, WithDebounce(5*time.Second))
	defer stop()

	h := s.Handle(true)
	require.NoError(t, h.Set("/progress", 33))

	start := time.Now()
	require.NoError(t, s.Flush(context.Background()))
	env := waitEnvelope(t, envs)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(1), env.Rev)
}

func TestPressureDoublesDebounce(t *testing.T) {
	s := newDashboard(t)
	envs, stop := runWorker(t, s, WithDebounce(50*time.Millisecond), WithPressure(func() bool { return true }))
	defer stop()

	h := s.Handle(true)
	require.NoError(t, h.Set("/progress", 1))
	start := time.Now()
	waitEnvelope(t, envs)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestListInsertRemove(t *testing.T) {
	s := newDashboard(t)
	envs, stop := runWorker(t, s)
	defer stop()

	logsView := s.Handle(true).List("/logs")
	require.NoError(t, logsView.Insert(0, "early"))
	waitEnvelope(t, envs)
	require.NoError(t, logsView.Remove(1))
	waitEnvelope(t, envs)

	_, snapshot := s.Revision()
	assert.Equal(t, []any{"early"}, snapshot["logs"])
}

func TestPortForPath(t *testing.T) {
	s := newDashboard(t)

	port, err := PortForPath(s.Ports(), "/logs/-")
	require.NoError(t, err)
	assert.Equal(t, definition.KindString, port.Kind)

	port, err = PortForPath(s.Ports(), "/logs/3")
	require.NoError(t, err)
	assert.Equal(t, definition.KindString, port.Kind)

	port, err = PortForPath(s.Ports(), "/tags/any_key")
	require.NoError(t, err)
	assert.Equal(t, definition.KindString, port.Kind)

	_, err = PortForPath(s.Ports(), "/logs/notanumber")
	assert.Error(t, err)

	_, err = PortForPath(s.Ports(), "/progress/deeper")
	assert.Error(t, err)

	_, err = PortForPath(s.Ports(), "/missing")
	assert.Error(t, err)
}

func TestPathEscaping(t *testing.T) {
	assert.Equal(t, "a~1b~0c", EscapeToken("a/b~c"))
	assert.Equal(t, "a/b~c", UnescapeToken("a~1b~0c"))

	tokens, err := SplitPath("/tags/a~1b")
	require.NoError(t, err)
	assert.Equal(t, []string{"tags", "a/b"}, tokens)

	assert.Equal(t, "/tags/a~1b", JoinPath("tags", "a/b"))
}

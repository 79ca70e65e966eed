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

package structures

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkitektio/rekuest-go/pkg/definition"
	"github.com/arkitektio/rekuest-go/pkg/shelve"
)

// Image is a fabric-addressable test structure.
type Image struct {
	ID   string
	Name string
}

func (Image) StructureIdentifier() string { return "@test/image" }
func (i Image) StructureID() string       { return i.ID }

func (i *Image) LoadStructureID(_ context.Context, id string) error {
	i.ID = id
	i.Name = "loaded-" + id
	return nil
}

// Color is an enum test type.
type Color string

const (
	ColorRed  Color = "RED"
	ColorBlue Color = "BLUE"
)

func (Color) EnumMembers() []definition.Choice {
	return []definition.Choice{
		{Name: "RED", Value: ColorRed},
		{Name: "BLUE", Value: ColorBlue},
	}
}

// Session has no wire representation and must be shelved.
type Session struct {
	Conn any
}

func TestPortForScalars(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		typ  reflect.Type
		kind definition.PortKind
	}{
		{reflect.TypeOf(0), definition.KindInt},
		{reflect.TypeOf(0.0), definition.KindFloat},
		{reflect.TypeOf(""), definition.KindString},
		{reflect.TypeOf(false), definition.KindBool},
		{reflect.TypeOf(time.Time{}), definition.KindDate},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			port, err := r.PortForType(tc.typ, "x", definition.PortHints{})
			require.NoError(t, err)
			assert.Equal(t, tc.kind, port.Kind)
			assert.False(t, port.Nullable)
		})
	}
}

func TestPortForPointerIsNullable(t *testing.T) {
	r := NewRegistry()
	port, err := r.PortForType(reflect.TypeOf((*int)(nil)), "x", definition.PortHints{})
	require.NoError(t, err)
	assert.Equal(t, definition.KindInt, port.Kind)
	assert.True(t, port.Nullable)
}

func TestPortForContainers(t *testing.T) {
	r := NewRegistry()

	list, err := r.PortForType(reflect.TypeOf([]string{}), "names", definition.PortHints{})
	require.NoError(t, err)
	assert.Equal(t, definition.KindList, list.Kind)
	require.Len(t, list.Children, 1)
	assert.Equal(t, definition.KindString, list.Children[0].Kind)

	dict, err := r.PortForType(reflect.TypeOf(map[string]int{}), "counts", definition.PortHints{})
	require.NoError(t, err)
	assert.Equal(t, definition.KindDict, dict.Kind)
	require.Len(t, dict.Children, 1)
	assert.Equal(t, definition.KindInt, dict.Children[0].Kind)

	_, err = r.PortForType(reflect.TypeOf(map[int]int{}), "bad", definition.PortHints{})
	assert.Error(t, err)
}

func TestGlobalHookRoundTrip(t *testing.T) {
	r := NewRegistry()

	port, err := r.PortForType(reflect.TypeOf(Image{}), "image", definition.PortHints{})
	require.NoError(t, err)
	assert.Equal(t, definition.KindStructure, port.Kind)
	assert.Equal(t, "@test/image", port.Identifier)

	shrink, err := r.ShrinkerFor("@test/image")
	require.NoError(t, err)
	id, err := shrink(context.Background(), Image{ID: "42"})
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	expand, err := r.ExpanderFor("@test/image")
	require.NoError(t, err)
	value, err := expand(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, Image{ID: "42", Name: "loaded-42"}, value)
}

func TestEnumHook(t *testing.T) {
	r := NewRegistry()

	port, err := r.PortForType(reflect.TypeOf(ColorRed), "color", definition.PortHints{})
	require.NoError(t, err)
	assert.Equal(t, definition.KindEnum, port.Kind)
	assert.Equal(t, "enum/color", port.Identifier)
	require.Len(t, port.Choices, 2)
	assert.Equal(t, "RED", port.Choices[0].Name)

	entry, ok := r.Get("enum/color")
	require.True(t, ok)
	name, err := entry.Shrink(context.Background(), ColorBlue)
	require.NoError(t, err)
	assert.Equal(t, "BLUE", name)

	value, err := entry.Expand(context.Background(), "RED")
	require.NoError(t, err)
	assert.Equal(t, ColorRed, value)

	_, err = entry.Expand(context.Background(), "GREEN")
	assert.Error(t, err)
}

func TestLocalHookShelvesUnknownStructs(t *testing.T) {
	sh := shelve.New()
	r := NewRegistry(WithShelver(sh))

	port, err := r.PortForType(reflect.TypeOf(Session{}), "session", definition.PortHints{})
	require.NoError(t, err)
	assert.Equal(t, definition.KindMemoryStructure, port.Kind)
	assert.Equal(t, "local/session", port.Identifier)

	entry, _ := r.Get("local/session")
	key, err := entry.Shrink(context.Background(), Session{Conn: "live"})
	require.NoError(t, err)
	got, err := entry.Expand(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, Session{Conn: "live"}, got)
	assert.Equal(t, 1, sh.Len())
}

func TestAutoRegisterDisabled(t *testing.T) {
	r := NewRegistry(WithoutAutoRegister())
	_, err := r.PortForType(reflect.TypeOf(Image{}), "image", definition.PortHints{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auto registration")
}

func TestFulfillIdempotency(t *testing.T) {
	r := NewRegistry()
	entry := FullFilled{
		Identifier: "@test/thing",
		Scope:      ScopeGlobal,
		Kind:       definition.KindStructure,
		Type:       reflect.TypeOf(Image{}),
	}
	require.NoError(t, r.Fulfill(entry))
	require.NoError(t, r.Fulfill(entry))

	clash := entry
	clash.Type = reflect.TypeOf(Session{})
	assert.Error(t, r.Fulfill(clash))

	rw := NewRegistry(WithAllowOverwrites())
	require.NoError(t, rw.Fulfill(entry))
	require.NoError(t, rw.Fulfill(clash))
	got, ok := rw.Get("@test/thing")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeOf(Session{}), got.Type)
}

func TestRegisterModel(t *testing.T) {
	type Point struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	r := NewRegistry()
	require.NoError(t, r.RegisterModel("@test/point", Point{}))

	port, err := r.PortForType(reflect.TypeOf(Point{}), "origin", definition.PortHints{})
	require.NoError(t, err)
	assert.Equal(t, definition.KindModel, port.Kind)
	require.Len(t, port.Children, 2)
	assert.Equal(t, "x", port.Children[0].Key)
	assert.Equal(t, definition.KindFloat, port.Children[1].Kind)
}

func TestStructureDefaultConversion(t *testing.T) {
	r := NewRegistry()
	port, err := r.PortForType(reflect.TypeOf(Image{}), "image", definition.PortHints{
		Default:  Image{ID: "7"},
		Nullable: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "7", port.Default)
}

func TestDateDefaultFormatting(t *testing.T) {
	r := NewRegistry()
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	port, err := r.PortForType(reflect.TypeOf(ts), "when", definition.PortHints{Default: ts})
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T12:30:00+00:00", port.Default)
}

func TestConcurrentPortForType(t *testing.T) {
	r := NewRegistry()
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := r.PortForType(reflect.TypeOf(Image{}), "image", definition.PortHints{})
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
	if _, ok := r.Get("@test/image"); !ok {
		t.Fatal("expected image to be fulfilled")
	}
}

func ExampleRegistry_PortForType() {
	r := NewRegistry()
	port, _ := r.PortForType(reflect.TypeOf([]Image{}), "images", definition.PortHints{})
	fmt.Println(port.Kind, port.Children[0].Identifier)
	// Output: LIST @test/image
}

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

// Package serialization converts between wire values and live Go values,
// driven by port schemas. Expansion turns incoming JSON into the values an
// implementation runs on; shrinking reduces results back to ids and scalars.
// Sibling elements are processed concurrently; the first failure cancels the
// rest and carries the path to the offending element.
package serialization

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/arkitektio/rekuest-go/pkg/definition"
	"github.com/arkitektio/rekuest-go/pkg/structures"
)

// Resolver is the slice of the structure registry the serializer needs.
type Resolver interface {
	Get(identifier string) (structures.FullFilled, bool)
}

// Serializer expands and shrinks values against a structure registry.
type Serializer struct {
	registry Resolver
}

// New returns a serializer backed by registry.
func New(registry Resolver) *Serializer {
	return &Serializer{registry: registry}
}

// Expand turns a wire value into a live value for port.
func (s *Serializer) Expand(ctx context.Context, port definition.Port, value any) (any, error) {
	return s.expand(ctx, port, value, 0, []string{port.Key})
}

// Shrink reduces a live value to its wire form for port.
func (s *Serializer) Shrink(ctx context.Context, port definition.Port, value any) (any, error) {
	return s.shrink(ctx, port, value, 0, []string{port.Key})
}

// ExpandInputs expands every arg of def concurrently. Missing keys fall back
// to port defaults and nullability.
func (s *Serializer) ExpandInputs(ctx context.Context, def definition.Definition, args map[string]any) (map[string]any, error) {
	results := make([]any, len(def.Args))
	g, ctx := errgroup.WithContext(ctx)
	for i, port := range def.Args {
		g.Go(func() error {
			expanded, err := s.expand(ctx, port, args[port.Key], 0, []string{port.Key})
			if err != nil {
				return err
			}
			results[i] = expanded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(def.Args))
	for i, port := range def.Args {
		out[port.Key] = results[i]
	}
	return out, nil
}

// ShrinkOutputs shrinks one value per return port, concurrently, keyed by
// port key.
func (s *Serializer) ShrinkOutputs(ctx context.Context, def definition.Definition, values []any) (map[string]any, error) {
	if len(values) != len(def.Returns) {
		return nil, &ShrinkingError{Message: fmt.Sprintf(
			"got %d return values, schema declares %d", len(values), len(def.Returns))}
	}
	results := make([]any, len(values))
	g, ctx := errgroup.WithContext(ctx)
	for i, port := range def.Returns {
		g.Go(func() error {
			shrunk, err := s.shrink(ctx, port, values[i], 0, []string{port.Key})
			if err != nil {
				return err
			}
			results[i] = shrunk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(values))
	for i, port := range def.Returns {
		out[port.Key] = results[i]
	}
	return out, nil
}

func (s *Serializer) entry(identifier string, path []string, depth int, expanding bool) (structures.FullFilled, error) {
	entry, ok := s.registry.Get(identifier)
	if !ok {
		msg := fmt.Sprintf("structure %q is not registered", identifier)
		if expanding {
			return structures.FullFilled{}, &ExpandingError{Path: path, Depth: depth, Message: msg}
		}
		return structures.FullFilled{}, &ShrinkingError{Path: path, Depth: depth, Message: msg}
	}
	return entry, nil
}

// childPath copies before appending so concurrent siblings never share a
// backing array.
func childPath(path []string, seg string) []string {
	p := make([]string, len(path), len(path)+1)
	copy(p, path)
	return append(p, seg)
}

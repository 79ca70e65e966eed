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

package serialization

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/sync/errgroup"

	"github.com/arkitektio/rekuest-go/pkg/definition"
	"github.com/arkitektio/rekuest-go/pkg/structures"
)

func (s *Serializer) expand(ctx context.Context, port definition.Port, value any, depth int, path []string) (any, error) {
	if value == nil {
		value = port.Default
	}
	if value == nil {
		if port.Nullable {
			return nil, nil
		}
		return nil, &ExpandingError{Path: path, Depth: depth,
			Message: fmt.Sprintf("port %q is required", port.Key)}
	}

	switch port.Kind {
	case definition.KindInt:
		i, err := coerceInt(value)
		if err != nil {
			return nil, &ExpandingError{Path: path, Depth: depth, Message: err.Error()}
		}
		return i, nil

	case definition.KindFloat:
		f, err := coerceFloat(value)
		if err != nil {
			return nil, &ExpandingError{Path: path, Depth: depth, Message: err.Error()}
		}
		return f, nil

	case definition.KindString:
		str, err := coerceString(value)
		if err != nil {
			return nil, &ExpandingError{Path: path, Depth: depth, Message: err.Error()}
		}
		return str, nil

	case definition.KindBool:
		b, err := coerceBool(value)
		if err != nil {
			return nil, &ExpandingError{Path: path, Depth: depth, Message: err.Error()}
		}
		return b, nil

	case definition.KindDate:
		ts, err := parseWireTime(value)
		if err != nil {
			return nil, &ExpandingError{Path: path, Depth: depth, Message: err.Error()}
		}
		return ts, nil

	case definition.KindEnum:
		return s.expandEnum(ctx, port, value, depth, path)

	case definition.KindList:
		return s.expandList(ctx, port, value, depth, path)

	case definition.KindDict:
		return s.expandDict(ctx, port, value, depth, path)

	case definition.KindUnion:
		return s.expandUnion(ctx, port, value, depth, path)

	case definition.KindStructure:
		entry, err := s.entry(port.Identifier, path, depth, true)
		if err != nil {
			return nil, err
		}
		id, err := coerceID(value)
		if err != nil {
			return nil, &ExpandingError{Path: path, Depth: depth, Message: err.Error()}
		}
		expanded, err := entry.Expand(ctx, id)
		if err != nil {
			return nil, &ExpandingError{Path: path, Depth: depth,
				Message: fmt.Sprintf("structure %q could not load %q", port.Identifier, id), Cause: err}
		}
		return expanded, nil

	case definition.KindMemoryStructure:
		entry, err := s.entry(port.Identifier, path, depth, true)
		if err != nil {
			return nil, err
		}
		key, ok := value.(string)
		if !ok {
			return nil, &ExpandingError{Path: path, Depth: depth,
				Message: fmt.Sprintf("%T is not a shelve key", value)}
		}
		expanded, err := entry.Expand(ctx, key)
		if err != nil {
			return nil, &ExpandingError{Path: path, Depth: depth,
				Message: fmt.Sprintf("no shelved value under %q", key), Cause: err}
		}
		return expanded, nil

	case definition.KindModel:
		return s.expandModel(ctx, port, value, depth, path)
	}

	return nil, &ExpandingError{Path: path, Depth: depth,
		Message: fmt.Sprintf("unhandled port kind %q", port.Kind)}
}

// expandEnum accepts a member name or an ordinal index.
func (s *Serializer) expandEnum(ctx context.Context, port definition.Port, value any, depth int, path []string) (any, error) {
	entry, err := s.entry(port.Identifier, path, depth, true)
	if err != nil {
		return nil, err
	}
	if name, ok := value.(string); ok {
		for _, m := range entry.Members {
			if m.Name == name {
				return m.Value, nil
			}
		}
	} else if ord, err := coerceIndex(value); err == nil {
		if ord >= 0 && ord < len(entry.Members) {
			return entry.Members[ord].Value, nil
		}
	}
	names := make([]string, len(entry.Members))
	for i, m := range entry.Members {
		names[i] = m.Name
	}
	return nil, &ExpandingError{Path: path, Depth: depth, Message: fmt.Sprintf(
		"%v is not a member of %q (valid: %s)", value, port.Identifier, strings.Join(names, ", "))}
}

func (s *Serializer) expandList(ctx context.Context, port definition.Port, value any, depth int, path []string) (any, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, &ExpandingError{Path: path, Depth: depth,
			Message: fmt.Sprintf("%T is not a list", value)}
	}
	child := port.Children[0]
	out := make([]any, rv.Len())
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i).Interface()
		g.Go(func() error {
			expanded, err := s.expand(ctx, child, item, depth+1, childPath(path, strconv.Itoa(i)))
			if err != nil {
				return err
			}
			out[i] = expanded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Serializer) expandDict(ctx context.Context, port definition.Port, value any, depth int, path []string) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, &ExpandingError{Path: path, Depth: depth,
			Message: fmt.Sprintf("%T is not a dict", value)}
	}
	child := port.Children[0]
	out := make(map[string]any, len(m))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for key, item := range m {
		g.Go(func() error {
			expanded, err := s.expand(ctx, child, item, depth+1, childPath(path, key))
			if err != nil {
				return err
			}
			mu.Lock()
			out[key] = expanded
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// expandUnion expects the {"use": i, "value": v} envelope and expands v
// against the selected variant.
func (s *Serializer) expandUnion(ctx context.Context, port definition.Port, value any, depth int, path []string) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, &ExpandingError{Path: path, Depth: depth,
			Message: fmt.Sprintf("%T is not a union envelope", value)}
	}
	use, hasUse := m["use"]
	inner, hasValue := m["value"]
	if !hasUse || !hasValue {
		return nil, &ExpandingError{Path: path, Depth: depth,
			Message: "union envelope needs both use and value"}
	}
	idx, err := coerceIndex(use)
	if err != nil {
		return nil, &ExpandingError{Path: path, Depth: depth, Message: err.Error()}
	}
	if idx < 0 || idx >= len(port.Children) {
		return nil, &ExpandingError{Path: path, Depth: depth, Message: fmt.Sprintf(
			"variant %d out of range, union has %d variants", idx, len(port.Children))}
	}
	return s.expand(ctx, port.Children[idx], inner, depth+1, childPath(path, strconv.Itoa(idx)))
}

// expandModel expands the child ports concurrently, then decodes the field
// map into the registered struct type.
func (s *Serializer) expandModel(ctx context.Context, port definition.Port, value any, depth int, path []string) (any, error) {
	entry, err := s.entry(port.Identifier, path, depth, true)
	if err != nil {
		return nil, err
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, &ExpandingError{Path: path, Depth: depth,
			Message: fmt.Sprintf("%T is not a model payload", value)}
	}

	fields := make([]any, len(port.Children))
	g, ctx := errgroup.WithContext(ctx)
	for i, child := range port.Children {
		g.Go(func() error {
			expanded, err := s.expand(ctx, child, m[child.Key], depth+1, childPath(path, child.Key))
			if err != nil {
				return err
			}
			fields[i] = expanded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	decoded := map[string]any{}
	for i, child := range port.Children {
		decoded[child.Key] = fields[i]
	}
	return instantiateModel(entry, decoded, path, depth)
}

func instantiateModel(entry structures.FullFilled, fields map[string]any, path []string, depth int) (any, error) {
	t := entry.Type
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	target := reflect.New(t)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           target.Interface(),
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, &ExpandingError{Path: path, Depth: depth,
			Message: "model decoder setup failed", Cause: err}
	}
	if err := dec.Decode(fields); err != nil {
		return nil, &ExpandingError{Path: path, Depth: depth,
			Message: fmt.Sprintf("payload does not fit model %q", entry.Identifier), Cause: err}
	}
	if entry.Type.Kind() == reflect.Pointer {
		return target.Interface(), nil
	}
	return target.Elem().Interface(), nil
}

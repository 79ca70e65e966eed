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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arkitektio/rekuest-go/pkg/definition"
)

func (s *Serializer) shrink(ctx context.Context, port definition.Port, value any, depth int, path []string) (any, error) {
	if value == nil || isNilValue(value) {
		if port.Nullable {
			return nil, nil
		}
		return nil, &ShrinkingError{Path: path, Depth: depth,
			Message: fmt.Sprintf("port %q yielded nil but is not nullable", port.Key)}
	}

	switch port.Kind {
	case definition.KindInt:
		i, err := coerceInt(value)
		if err != nil {
			return nil, &ShrinkingError{Path: path, Depth: depth, Message: err.Error()}
		}
		return i, nil

	case definition.KindFloat:
		f, err := coerceFloat(value)
		if err != nil {
			return nil, &ShrinkingError{Path: path, Depth: depth, Message: err.Error()}
		}
		return f, nil

	case definition.KindString:
		str, err := coerceString(value)
		if err != nil {
			return nil, &ShrinkingError{Path: path, Depth: depth, Message: err.Error()}
		}
		return str, nil

	case definition.KindBool:
		b, err := coerceBool(value)
		if err != nil {
			return nil, &ShrinkingError{Path: path, Depth: depth, Message: err.Error()}
		}
		return b, nil

	case definition.KindDate:
		ts, err := parseWireTime(value)
		if err != nil {
			return nil, &ShrinkingError{Path: path, Depth: depth, Message: err.Error()}
		}
		return formatWireTime(ts), nil

	case definition.KindEnum:
		entry, err := s.entry(port.Identifier, path, depth, false)
		if err != nil {
			return nil, err
		}
		name, err := entry.Shrink(ctx, value)
		if err != nil {
			return nil, &ShrinkingError{Path: path, Depth: depth,
				Message: fmt.Sprintf("%v is not a member of %q", value, port.Identifier), Cause: err}
		}
		return name, nil

	case definition.KindList:
		return s.shrinkList(ctx, port, value, depth, path)

	case definition.KindDict:
		return s.shrinkDict(ctx, port, value, depth, path)

	case definition.KindUnion:
		return s.shrinkUnion(ctx, port, value, depth, path)

	case definition.KindStructure, definition.KindMemoryStructure:
		entry, err := s.entry(port.Identifier, path, depth, false)
		if err != nil {
			return nil, err
		}
		id, err := entry.Shrink(ctx, value)
		if err != nil {
			return nil, &ShrinkingError{Path: path, Depth: depth,
				Message: fmt.Sprintf("structure %q could not shrink %T", port.Identifier, value), Cause: err}
		}
		return id, nil

	case definition.KindModel:
		return s.shrinkModel(ctx, port, value, depth, path)
	}

	return nil, &ShrinkingError{Path: path, Depth: depth,
		Message: fmt.Sprintf("unhandled port kind %q", port.Kind)}
}

func (s *Serializer) shrinkList(ctx context.Context, port definition.Port, value any, depth int, path []string) (any, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, &ShrinkingError{Path: path, Depth: depth,
			Message: fmt.Sprintf("%T is not a list", value)}
	}
	child := port.Children[0]
	out := make([]any, rv.Len())
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i).Interface()
		g.Go(func() error {
			shrunk, err := s.shrink(ctx, child, item, depth+1, childPath(path, strconv.Itoa(i)))
			if err != nil {
				return err
			}
			out[i] = shrunk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Serializer) shrinkDict(ctx context.Context, port definition.Port, value any, depth int, path []string) (any, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, &ShrinkingError{Path: path, Depth: depth,
			Message: fmt.Sprintf("%T is not a string-keyed map", value)}
	}
	child := port.Children[0]
	out := make(map[string]any, rv.Len())
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	iter := rv.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		item := iter.Value().Interface()
		g.Go(func() error {
			shrunk, err := s.shrink(ctx, child, item, depth+1, childPath(path, key))
			if err != nil {
				return err
			}
			mu.Lock()
			out[key] = shrunk
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// shrinkUnion tries the variants in declaration order and wraps the first
// match in the {"use": i, "value": v} envelope.
func (s *Serializer) shrinkUnion(ctx context.Context, port definition.Port, value any, depth int, path []string) (any, error) {
	for i, child := range port.Children {
		if !s.variantMatches(child, value) {
			continue
		}
		shrunk, err := s.shrink(ctx, child, value, depth+1, childPath(path, strconv.Itoa(i)))
		if err != nil {
			return nil, err
		}
		return map[string]any{"use": i, "value": shrunk}, nil
	}
	kinds := make([]string, len(port.Children))
	for i, child := range port.Children {
		kinds[i] = string(child.Kind)
	}
	return nil, &ShrinkingError{Path: path, Depth: depth, Message: fmt.Sprintf(
		"%T matches no variant of union %q (%s)", value, port.Key, strings.Join(kinds, ", "))}
}

// variantMatches decides union membership: registered predicates for
// identified kinds, Go type shape for the rest.
func (s *Serializer) variantMatches(child definition.Port, value any) bool {
	switch child.Kind {
	case definition.KindStructure, definition.KindMemoryStructure,
		definition.KindEnum, definition.KindModel:
		entry, ok := s.registry.Get(child.Identifier)
		if !ok || entry.Predicate == nil {
			return false
		}
		return entry.Predicate(value)
	case definition.KindInt:
		switch reflect.ValueOf(value).Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return true
		}
	case definition.KindFloat:
		k := reflect.ValueOf(value).Kind()
		return k == reflect.Float32 || k == reflect.Float64
	case definition.KindString:
		return reflect.ValueOf(value).Kind() == reflect.String
	case definition.KindBool:
		return reflect.ValueOf(value).Kind() == reflect.Bool
	case definition.KindDate:
		_, ok := value.(time.Time)
		return ok
	case definition.KindList:
		k := reflect.ValueOf(value).Kind()
		return k == reflect.Slice || k == reflect.Array
	case definition.KindDict:
		return reflect.ValueOf(value).Kind() == reflect.Map
	}
	return false
}

// shrinkModel reads the struct's fields by their wire keys and shrinks each
// against its child port.
func (s *Serializer) shrinkModel(ctx context.Context, port definition.Port, value any, depth int, path []string) (any, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, &ShrinkingError{Path: path, Depth: depth,
			Message: fmt.Sprintf("%T is not a model struct", value)}
	}

	results := make([]any, len(port.Children))
	g, ctx := errgroup.WithContext(ctx)
	for i, child := range port.Children {
		field, ok := fieldByWireKey(rv, child.Key)
		if !ok {
			return nil, &ShrinkingError{Path: childPath(path, child.Key), Depth: depth + 1,
				Message: fmt.Sprintf("model %T has no field for %q", value, child.Key)}
		}
		g.Go(func() error {
			shrunk, err := s.shrink(ctx, child, field, depth+1, childPath(path, child.Key))
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
	out := make(map[string]any, len(port.Children))
	for i, child := range port.Children {
		out[child.Key] = results[i]
	}
	return out, nil
}

func fieldByWireKey(rv reflect.Value, key string) (any, bool) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		if name == key {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}

// isNilValue catches typed nils hiding inside a non-nil interface.
func isNilValue(value any) bool {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}

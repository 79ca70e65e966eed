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

// Package definition models the schema of an implementation: a tree of
// ports describing its inputs and outputs, plus a builder that derives the
// schema from a typed Go function.
//
// The wire encoding of a port is canonical JSON: struct fields marshal in
// declaration order, maps marshal with sorted keys, and child ordering is
// semantic. The definition hash is computed over that encoding and is used
// by the server as a cache identity.
package definition

import (
	"encoding/json"
	"fmt"
)

// PortKind enumerates the value shapes a port can describe.
type PortKind string

const (
	KindInt             PortKind = "INT"
	KindFloat           PortKind = "FLOAT"
	KindString          PortKind = "STRING"
	KindBool            PortKind = "BOOL"
	KindDate            PortKind = "DATE"
	KindList            PortKind = "LIST"
	KindDict            PortKind = "DICT"
	KindUnion           PortKind = "UNION"
	KindStructure       PortKind = "STRUCTURE"
	KindMemoryStructure PortKind = "MEMORY_STRUCTURE"
	KindModel           PortKind = "MODEL"
	KindEnum            PortKind = "ENUM"
)

// Choice is one named member of an enum port, in ordinal order.
type Choice struct {
	Name        string `json:"name"`
	Value       any    `json:"value,omitempty"`
	Description string `json:"description,omitempty"`
}

// Port describes one input or output value. LIST and DICT carry exactly one
// child; UNION children are ordered and tried in order; MODEL children mirror
// the model's fields.
type Port struct {
	Key          string      `json:"key"`
	Kind         PortKind    `json:"kind"`
	Nullable     bool        `json:"nullable"`
	Identifier   string      `json:"identifier,omitempty"`
	Children     []Port      `json:"children,omitempty"`
	Choices      []Choice    `json:"choices,omitempty"`
	Default      any         `json:"default,omitempty"`
	Validators   []Validator `json:"validators,omitempty"`
	Effects      []any       `json:"effects,omitempty"`
	Label        string      `json:"label,omitempty"`
	Description  string      `json:"description,omitempty"`
	AssignWidget map[string]any `json:"assignWidget,omitempty"`
	ReturnWidget map[string]any `json:"returnWidget,omitempty"`
}

// Validate checks the structural invariants of the port tree.
func (p Port) Validate() error {
	if p.Key == "" {
		return &Error{Message: "port has no key"}
	}
	switch p.Kind {
	case KindList, KindDict:
		if len(p.Children) != 1 {
			return &Error{Message: fmt.Sprintf("port %q is %s but has %d children (expected 1)", p.Key, p.Kind, len(p.Children))}
		}
	case KindUnion:
		if len(p.Children) < 1 {
			return &Error{Message: fmt.Sprintf("union port %q has no children", p.Key)}
		}
	case KindModel:
		if len(p.Children) < 1 {
			return &Error{Message: fmt.Sprintf("model port %q has no children", p.Key)}
		}
		if p.Identifier == "" {
			return &Error{Message: fmt.Sprintf("model port %q has no identifier", p.Key)}
		}
	case KindStructure, KindMemoryStructure, KindEnum:
		if p.Identifier == "" {
			return &Error{Message: fmt.Sprintf("%s port %q has no identifier", p.Kind, p.Key)}
		}
	}
	for _, c := range p.Children {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// AsMap returns the canonical wire representation of the port, suitable for
// embedding in an INIT payload.
func (p Port) AsMap() map[string]any {
	data, err := json.Marshal(p)
	if err != nil {
		// Ports are built from JSON-serializable parts; a failure here is a
		// programming error in the caller-supplied default or widget.
		panic(fmt.Sprintf("definition: port %q not serializable: %v", p.Key, err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}

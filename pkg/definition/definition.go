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

package definition

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Kind distinguishes single-result implementations from streaming ones.
type Kind string

const (
	KindFunction  Kind = "FUNCTION"
	KindGenerator Kind = "GENERATOR"
)

// PortGroup clusters ports for presentation; carried opaquely.
type PortGroup struct {
	Key   string   `json:"key"`
	Ports []string `json:"ports,omitempty"`
}

// Definition is the schema of an implementation. Equality is structural; the
// hash of the canonical JSON encoding identifies it across the fabric.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Kind        Kind        `json:"kind"`
	Args        []Port      `json:"args"`
	Returns     []Port      `json:"returns"`
	Interfaces  []string    `json:"interfaces,omitempty"`
	PortGroups  []PortGroup `json:"portGroups,omitempty"`
	IsTestFor   []string    `json:"isTestFor,omitempty"`
	Collections []string    `json:"collections,omitempty"`
}

// Validate checks the definition and every port tree under it.
func (d Definition) Validate() error {
	if d.Name == "" {
		return &Error{Message: "definition has no name"}
	}
	if d.Kind != KindFunction && d.Kind != KindGenerator {
		return &Error{Message: fmt.Sprintf("definition %q has invalid kind %q", d.Name, d.Kind)}
	}
	seen := map[string]bool{}
	for _, p := range d.Args {
		if seen[p.Key] {
			return &Error{Message: fmt.Sprintf("definition %q has duplicate arg key %q", d.Name, p.Key)}
		}
		seen[p.Key] = true
		if err := p.Validate(); err != nil {
			return err
		}
	}
	for _, p := range d.Returns {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	for _, p := range d.Args {
		if err := checkValidators(p, d.Args); err != nil {
			return err
		}
	}
	return nil
}

// Hash returns the SHA-256 hex digest of the canonical JSON encoding.
// Rebuilding the definition for the same callable and registry yields the
// same hash.
func (d Definition) Hash() string {
	data, err := json.Marshal(d)
	if err != nil {
		panic(fmt.Sprintf("definition: %q not serializable: %v", d.Name, err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AsMap returns the wire representation embedded in INIT payloads.
func (d Definition) AsMap() map[string]any {
	data, err := json.Marshal(d)
	if err != nil {
		panic(fmt.Sprintf("definition: %q not serializable: %v", d.Name, err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}
